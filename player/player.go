// Package player spawns the downstream video player as a child process
// and exposes its stdin as the worker's byte sink. Grounded on the
// teacher's handlers/ffmpeg_handler.go, which spawns ffmpeg the same way
// (StdinPipe, Start, kill on teardown) to decode a piped stream; here the
// child is any player binary and the client itself does the HLS/segment
// handling ffmpeg otherwise would.
package player

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"twitch-hls-client/logger"
)

// Player owns a running child process and its stdin pipe.
type Player struct {
	log    logger.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	noKill bool
}

// Spawn starts name with args unchanged and pipes its stdin back for the
// worker to write segment bytes into. args are passed through exactly as
// given — no substitution happens here; that is Passthrough's job.
func Spawn(log logger.Logger, name string, args []string, noKill bool) (*Player, error) {
	cmd := exec.Command(name, args...)
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("player: create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("player: start %s: %w", name, err)
	}

	log.Logf("player: started %s %s", name, strings.Join(args, " "))
	return &Player{log: log, cmd: cmd, stdin: stdin, noKill: noKill}, nil
}

// Passthrough substitutes the literal "-" argument for url (or appends url
// if args contains no "-", spec.md §6's passthrough/stdin convention),
// spawns the player with the resolved args, and blocks until it exits.
// Unlike Spawn's normal-mode use, the player reads the stream directly
// from the URL rather than from a piped stdin.
func Passthrough(log logger.Logger, name string, args []string, url string, noKill bool) error {
	resolved := make([]string, 0, len(args)+1)
	substituted := false
	for _, a := range args {
		if a == "-" {
			resolved = append(resolved, url)
			substituted = true
		} else {
			resolved = append(resolved, a)
		}
	}
	if !substituted {
		resolved = append(resolved, url)
	}

	log.Logf("player: passing through playlist url to player")
	p, err := Spawn(log, name, resolved, noKill)
	if err != nil {
		return err
	}
	defer p.Close()
	return p.Wait()
}

// Stdin is the worker's sink: every byte written here reaches the
// player's standard input.
func (p *Player) Stdin() io.Writer { return p.stdin }

// Wait blocks until the player process exits and returns its error, if
// any (a non-zero exit or a signal).
func (p *Player) Wait() error {
	return p.cmd.Wait()
}

// Close closes the stdin pipe so the player sees end-of-stream, and
// unless NoKill was requested, signals the process to make sure it
// doesn't linger past a session that ended for another reason (e.g. the
// playlist going offline while the player is still buffering).
func (p *Player) Close() error {
	stdinErr := p.stdin.Close()
	if !p.noKill && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return stdinErr
}
