// Command twitch-hls-client follows a Twitch channel's low-latency HLS
// playlist and pipes segment bytes to a media player over stdin, the way
// the reference client's own main does. The process exits 0 when the
// stream ends cleanly (offline, or the player quits on its own) and
// non-zero with a logged error otherwise.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"twitch-hls-client/config"
	"twitch-hls-client/logger"
	"twitch-hls-client/orchestrator"
)

// quietLogger suppresses the informational channels (Log/Debug) while
// leaving Warn/Error/Fatal intact, for --quiet sessions that only want to
// hear about trouble.
type quietLogger struct {
	logger.Logger
}

func (quietLogger) Log(string)           {}
func (quietLogger) Logf(string, ...any)  {}
func (quietLogger) Debug(string)          {}
func (quietLogger) Debugf(string, ...any) {}

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Stderr.WriteString("twitch-hls-client: " + err.Error() + "\n")
		os.Exit(2)
	}
	config.SetConfig(cfg)

	if cfg.Debug {
		os.Setenv("DEBUG", "true")
	}

	var log logger.Logger = logger.Default
	if cfg.Quiet {
		log = quietLogger{Logger: logger.Default}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Run(ctx, log, cfg); err != nil {
		log.Errorf("twitch-hls-client: %v", err)
		os.Exit(1)
	}
}
