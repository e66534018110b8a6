package player

import (
	"io"
	"testing"
)

type nullLogger struct{}

func (nullLogger) Log(string)            {}
func (nullLogger) Logf(string, ...any)   {}
func (nullLogger) Warn(string)           {}
func (nullLogger) Warnf(string, ...any)  {}
func (nullLogger) Debug(string)          {}
func (nullLogger) Debugf(string, ...any) {}
func (nullLogger) Error(string)          {}
func (nullLogger) Errorf(string, ...any) {}
func (nullLogger) Fatal(string)          {}
func (nullLogger) Fatalf(string, ...any) {}

func TestSpawnNeverTouchesArgs(t *testing.T) {
	p, err := Spawn(nullLogger{}, "cat", []string{"-"}, false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()

	if _, err := io.WriteString(p.Stdin(), "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := p.stdin.Close(); err != nil {
		t.Fatalf("close stdin: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestSpawnPassesThroughFixedArgs(t *testing.T) {
	p, err := Spawn(nullLogger{}, "echo", []string{"fixed-arg"}, false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.stdin.Close()
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestPassthroughSubstitutesDashWithURL(t *testing.T) {
	if err := Passthrough(nullLogger{}, "true", []string{"-"}, "http://stream.invalid/playlist.m3u8", false); err != nil {
		t.Fatalf("Passthrough: %v", err)
	}
}

func TestPassthroughAppendsURLWhenNoDash(t *testing.T) {
	if err := Passthrough(nullLogger{}, "true", []string{"fixed-arg"}, "http://stream.invalid/playlist.m3u8", false); err != nil {
		t.Fatalf("Passthrough: %v", err)
	}
}
