package orchestrator

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"twitch-hls-client/config"
	"twitch-hls-client/herr"
	"twitch-hls-client/httpreq"
	"twitch-hls-client/token"
	"twitch-hls-client/urlx"
)

func TestIsFatalClassifiesStatusAndParseErrors(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"status", &herr.StatusError{Code: 500}, true},
		{"invalid quality", herr.ErrInvalidQuality, true},
		{"unknown encoding", herr.ErrUnknownEncoding, true},
		{"offline", herr.ErrOffline, false},
		{"not found", &herr.NotFoundError{}, false},
		{"generic", errors.New("connection reset"), false},
	}
	for _, c := range cases {
		if got := isFatal(c.err); got != c.fatal {
			t.Errorf("%s: isFatal = %v, want %v", c.name, got, c.fatal)
		}
	}
}

func TestCronEveryFormatsDuration(t *testing.T) {
	if got := cronEvery(45 * time.Second); got != "@every 45s" {
		t.Fatalf("cronEvery = %q", got)
	}
	if got := cronEvery(0); got == "" {
		t.Fatal("expected a default schedule for zero duration")
	}
}

func TestLastNTruncatesFromTheEnd(t *testing.T) {
	if got := lastN("Firefox/128.0", 5); got != "128.0" {
		t.Fatalf("lastN = %q", got)
	}
	if got := lastN("abc", 10); got != "abc" {
		t.Fatalf("lastN short string = %q", got)
	}
}

func TestTwitchQueryIncludesTokenFields(t *testing.T) {
	cfg := &config.Config{Codecs: "avc1,vp09", UserAgent: "Mozilla Firefox/128.0", LowLatency: true}
	tok := token.AccessToken{Token: "tok", Signature: "sig", PlaySessionID: "sess"}

	q := twitchQuery(cfg, tok)
	if q.Get("token") != "tok" || q.Get("sig") != "sig" || q.Get("play_session_id") != "sess" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("supported_codecs") != "avc1,vp09" {
		t.Fatalf("codecs = %q", q.Get("supported_codecs"))
	}
	if q.Get("fast_bread") != "true" || q.Get("warp") != "true" {
		t.Fatalf("low latency flags not propagated: %v", q)
	}
}

func serveOnce(t *testing.T, response string) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	requestLine := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		requestLine <- line
		conn.Write([]byte(response))
	}()
	return ln.Addr().String(), requestLine
}

func TestTryProxyServerReturnsOfflineOn404(t *testing.T) {
	addr, _ := serveOnce(t, "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	cfg := &config.Config{Channel: "somechannel"}
	opts := httpreq.Options{Timeout: 2 * time.Second}

	_, err := tryProxyServer("http://"+addr+"/[channel]", cfg, opts)
	if !errors.Is(err, herr.ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}

func TestTryProxyServerSubstitutesChannel(t *testing.T) {
	addr, requestLine := serveOnce(t, "HTTP/1.1 200 OK\r\nContent-Length: 8\r\n\r\n#EXTM3U\n")
	cfg := &config.Config{Channel: "somechannel"}
	opts := httpreq.Options{Timeout: 2 * time.Second}

	body, err := tryProxyServer("http://"+addr+"/[channel]", cfg, opts)
	if err != nil {
		t.Fatalf("tryProxyServer: %v", err)
	}
	if line := <-requestLine; !strings.HasPrefix(line, "GET /somechannel?") {
		t.Fatalf("request line = %q", line)
	}
	if body != "#EXTM3U\n" {
		t.Fatalf("body = %q", body)
	}
}

var _ = urlx.Url{}
