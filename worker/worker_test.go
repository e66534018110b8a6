package worker

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"twitch-hls-client/httpreq"
	"twitch-hls-client/logger"
	"twitch-hls-client/urlx"
)

// serveSequence accepts one connection and replies to each request in
// order with the matching response from responses, keeping the
// connection open the way a keep-alive CDN host would.
func serveSequence(t *testing.T, responses []string) (urlx.Url, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for _, resp := range responses {
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if line == "\r\n" {
					break
				}
			}
			if _, err := conn.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()
	u, err := urlx.Parse("http://" + ln.Addr().String() + "/seg0.ts")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return u, func() { ln.Close() }
}

func testOpts() httpreq.Options {
	return httpreq.Options{Timeout: 2 * time.Second, UserAgent: "test"}
}

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

var _ logger.Logger = nullLogger{}

func TestWorkerWritesSegmentsInOrder(t *testing.T) {
	u0, closeLn := serveSequence(t, []string{
		"HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\none",
		"HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\ntwo",
	})
	defer closeLn()

	var sink bytes.Buffer
	w := New(nullLogger{}, &sink, testOpts(), 2)

	if err := w.Url(u0); err != nil {
		t.Fatalf("Url: %v", err)
	}
	u1, _ := urlx.Parse("http://" + u0.HostPort() + "/seg1.ts")
	if err := w.Url(u1); err != nil {
		t.Fatalf("Url: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if sink.String() != "onetwo" {
		t.Fatalf("got %q", sink.String())
	}
	stats := w.Stats()
	if stats.SegmentsWritten != 2 || stats.BytesWritten != 6 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWorkerSkipsDuplicateURL(t *testing.T) {
	u0, closeLn := serveSequence(t, []string{
		"HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\none",
	})
	defer closeLn()

	var sink bytes.Buffer
	w := New(nullLogger{}, &sink, testOpts(), 2)

	if err := w.Url(u0); err != nil {
		t.Fatalf("Url: %v", err)
	}
	if err := w.Url(u0); err != nil {
		t.Fatalf("Url (dup): %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if sink.String() != "one" {
		t.Fatalf("expected dedup to skip the repeat, got %q", sink.String())
	}
}

func TestWorkerDowngrades404ToSkip(t *testing.T) {
	u0, closeLn := serveSequence(t, []string{
		"HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok",
	})
	defer closeLn()

	var sink bytes.Buffer
	w := New(nullLogger{}, &sink, testOpts(), 2)

	if err := w.Url(u0); err != nil {
		t.Fatalf("Url: %v", err)
	}
	u1, _ := urlx.Parse("http://" + u0.HostPort() + "/seg1.ts")
	if err := w.Url(u1); err != nil {
		t.Fatalf("Url: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if sink.String() != "ok" {
		t.Fatalf("expected the 404 to be skipped and the next segment written, got %q", sink.String())
	}
}

func TestSyncUrlReturnsOnceDequeued(t *testing.T) {
	u0, closeLn := serveSequence(t, []string{
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi",
	})
	defer closeLn()

	var sink bytes.Buffer
	w := New(nullLogger{}, &sink, testOpts(), 2)

	if err := w.SyncUrl(u0); err != nil {
		t.Fatalf("SyncUrl: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(sink.String(), "hi") {
		t.Fatalf("got %q", sink.String())
	}
}
