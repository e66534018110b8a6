// Package transport dials the raw byte stream a Request is built on top of:
// a TCP socket, optionally upgraded to TLS. It mirrors the shape of the
// teacher's proxy/client package (one small type wrapping the concerns a
// live connection needs) but speaks net.Conn/tls.Conn instead of
// net/http, since the segment and playlist fetchers build their own
// HTTP/1.1 framing on top of it (see package httpreq).
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"twitch-hls-client/herr"
	"twitch-hls-client/urlx"
)

// Options controls how a Transport is dialed. Callers build one from the
// resolved Config rather than Transport importing config directly, keeping
// this package usable without pulling in flag/env parsing.
type Options struct {
	Timeout    time.Duration
	ForceHTTPS bool
	ForceIPv4  bool
	TLSConfig  *tls.Config
}

// Transport is a live byte stream to a single host, either a plain TCP
// socket or a TLS connection over one. Both satisfy io.Reader/io.Writer, so
// callers never branch on scheme after Dial returns.
type Transport struct {
	conn net.Conn
}

// Dial connects to u.HostPort(), optionally restricted to an IPv4 address
// and optionally upgraded to TLS, matching Transport::new in the reference
// client: TCP_NODELAY plus symmetric read/write deadlines up front, then an
// https handshake with the host as SNI when the scheme calls for it.
func Dial(u urlx.Url, opts Options) (*Transport, error) {
	if opts.ForceHTTPS && u.Scheme() != "https" {
		return nil, fmt.Errorf("%w: %s", herr.ErrInsecureScheme, u)
	}

	addr := u.HostPort()
	var conn net.Conn
	var err error
	if opts.ForceIPv4 {
		conn, err = dialIPv4(addr, opts.Timeout)
	} else {
		conn, err = net.DialTimeout("tcp", addr, opts.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if err := applyDeadlines(conn, opts.Timeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	switch u.Scheme() {
	case "http":
		return &Transport{conn: conn}, nil
	case "https":
		tlsConf := opts.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{}
		}
		if tlsConf.ServerName == "" {
			tlsConf = tlsConf.Clone()
			tlsConf.ServerName = u.Host()
		}
		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.Handshake(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("transport: tls handshake with %s: %w", u.Host(), err)
		}
		return &Transport{conn: tlsConn}, nil
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme())
	}
}

func dialIPv4(addr string, timeout time.Duration) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			d := net.Dialer{Timeout: timeout}
			return d.Dial("tcp", net.JoinHostPort(v4.String(), port))
		}
	}
	return nil, fmt.Errorf("no ipv4 address found for %s", host)
}

func applyDeadlines(conn net.Conn, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("transport: set read deadline: %w", err)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	return nil
}

// Read satisfies io.Reader. Each Request.do call extends the deadlines
// again before the call, so a refreshed deadline here is unnecessary.
func (t *Transport) Read(p []byte) (int, error) { return t.conn.Read(p) }

// Write satisfies io.Writer.
func (t *Transport) Write(p []byte) (int, error) { return t.conn.Write(p) }

// Refresh extends the read/write deadlines by timeout from now, called at
// the start of every request so a long-lived keep-alive connection doesn't
// inherit a deadline set at dial time.
func (t *Transport) Refresh(timeout time.Duration) error {
	return applyDeadlines(t.conn, timeout)
}

// Close closes the underlying connection.
func (t *Transport) Close() error { return t.conn.Close() }
