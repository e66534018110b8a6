// Package httpreq builds and replays minimal HTTP/1.1 requests directly
// over package transport, the way the reference client does: no
// net/http, no connection pool, one long-lived socket per Request that
// gets torn down and redialed on a transient failure or a host change.
// It is grounded on original_source/src/http/request.rs's Request/Handler
// pair, adapted into two Go-shaped pieces: Request builds and replays the
// wire bytes, and a resumeWriter decorates the destination writer so a
// retried request can skip the bytes it already delivered.
package httpreq

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"twitch-hls-client/backoff"
	"twitch-hls-client/decoder"
	"twitch-hls-client/herr"
	"twitch-hls-client/transport"
	"twitch-hls-client/urlx"
)

// reconnectInitial/reconnectMax pace repeated reconnect attempts within a
// single Do call; a CDN node that's failing fast shouldn't be hammered at
// wire speed for the remaining retry budget.
const (
	reconnectInitial = 100 * time.Millisecond
	reconnectMax     = 2 * time.Second
)

// Method is the HTTP verb a Request issues. The client only ever needs
// GET (playlists, segments, the oauth validate endpoint) and POST (the
// GraphQL PlaybackAccessToken call).
type Method int

const (
	MethodGet Method = iota
	MethodPost
)

func (m Method) String() string {
	if m == MethodPost {
		return "POST"
	}
	return "GET"
}

// maxHeaderBytes bounds how much we'll buffer waiting for the blank line
// that ends response headers, protecting against a server that never
// sends one.
const maxHeaderBytes = 2048

// Options configures how a Request dials and retries.
type Options struct {
	Timeout    time.Duration
	Retries    int
	UserAgent  string
	ForceHTTPS bool
	ForceIPv4  bool
	TLSConfig  *tls.Config
}

// Request is a single reusable HTTP/1.1 exchange: its URL and extra
// headers can be swapped out between calls to Do without redialing, as
// long as the new URL shares the current connection's host.
type Request struct {
	opts    Options
	method  Method
	url     urlx.Url
	headers []string
	body    []byte

	tr *transport.Transport
	br *bufio.Reader
}

// New dials url and prepares a request. extraHeaders are raw "Name:
// value" lines appended after the fixed headers the client always sends.
// body is sent verbatim after the header block (and triggers a
// Content-Length header); pass nil for GET requests.
func New(url urlx.Url, method Method, extraHeaders []string, body []byte, opts Options) (*Request, error) {
	r := &Request{
		opts:    opts,
		method:  method,
		url:     url,
		headers: extraHeaders,
		body:    body,
	}
	if err := r.connect(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) connect() error {
	tr, err := transport.Dial(r.url, transport.Options{
		Timeout:    r.opts.Timeout,
		ForceHTTPS: r.opts.ForceHTTPS,
		ForceIPv4:  r.opts.ForceIPv4,
		TLSConfig:  r.opts.TLSConfig,
	})
	if err != nil {
		return err
	}
	r.tr = tr
	r.br = bufio.NewReader(tr)
	return nil
}

// SetURL updates the request target. If the new URL is on a different
// host, the connection is redialed; otherwise the existing keep-alive
// socket is reused for the next Do.
func (r *Request) SetURL(url urlx.Url) error {
	if r.url.SameHost(url) {
		r.url = url
		return nil
	}
	if err := r.tr.Close(); err != nil {
		return fmt.Errorf("httpreq: close old connection: %w", err)
	}
	r.url = url
	return r.connect()
}

// URL returns the current request target.
func (r *Request) URL() urlx.Url { return r.url }

// SetHeaders replaces the extra header lines sent with every request.
func (r *Request) SetHeaders(headers []string) { r.headers = headers }

// Close releases the underlying connection.
func (r *Request) Close() error { return r.tr.Close() }

// Do issues the request, retrying on transport-level failures, and
// copies the decoded response body into w. Retries reconnect first, then
// resume the copy from the byte offset already written so a caller
// streaming into a file or pipe never sees duplicate bytes.
func (r *Request) Do(w io.Writer) error {
	rw := &resumeWriter{dst: w}
	retryDelay := backoff.New(reconnectInitial, reconnectMax)

	var lastErr error
	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay.Next())
			if err := r.tr.Close(); err != nil {
				return fmt.Errorf("httpreq: close before retry: %w", err)
			}
			if err := r.connect(); err != nil {
				return fmt.Errorf("httpreq: reconnect: %w", err)
			}
			// Keep the larger offset: an attempt that failed before
			// catching up to the previous target delivered nothing new.
			if rw.written > rw.resumeTarget {
				rw.resumeTarget = rw.written
			}
			rw.written = 0
		}

		err := r.do(rw)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("httpreq: exhausted %d retries: %w", r.opts.Retries, lastErr)
}

// Text issues the request and returns the decoded body as a string, for
// the playlist fetches and the GraphQL and oauth-validate calls that never
// stream to a sink.
func (r *Request) Text() (string, error) {
	var buf strings.Builder
	if err := r.Do(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Request) do(w io.Writer) error {
	if err := r.tr.Refresh(r.opts.Timeout); err != nil {
		return err
	}

	raw := r.build()
	if _, err := r.tr.Write([]byte(raw)); err != nil {
		return fmt.Errorf("httpreq: write request: %w", err)
	}

	status, headers, err := r.readHeaders()
	if err != nil {
		return err
	}

	switch status {
	case 200:
	case 404:
		return &herr.NotFoundError{URL: r.url}
	default:
		return &herr.StatusError{Code: status, URL: r.url}
	}

	body, err := decoder.New(r.br, headers)
	if err != nil {
		return err
	}
	return copyBody(w, body)
}

// copyBody streams body into w a chunk at a time, distinguishing a read
// failure on the network side (retryable: the connection or the upstream
// dropped) from a write failure on the sink side (never retryable: a
// broken pipe to our own destination won't be fixed by redialing
// upstream). io.Copy can't make that distinction, so this loops by hand.
func copyBody(w io.Writer, body io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return &sinkWriteError{err: werr}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("httpreq: read body: %w", rerr)
		}
	}
}

// sinkWriteError marks a failure writing to the caller's destination
// writer. isRetryable always treats it as non-retryable: the upstream
// connection is fine, so reconnecting and retrying would just hit the
// same broken pipe again.
type sinkWriteError struct{ err error }

func (e *sinkWriteError) Error() string { return fmt.Sprintf("httpreq: write to sink: %v", e.err) }
func (e *sinkWriteError) Unwrap() error { return e.err }

// readHeaders reads the status line and headers up to the blank line
// that ends them, using bufio.Reader.ReadString so partial reads across
// TCP segments are handled the same way the reference client's
// BufReader::read_until loop handles them.
func (r *Request) readHeaders() (int, textproto.MIMEHeader, error) {
	var block strings.Builder
	for {
		line, err := r.br.ReadString('\n')
		block.WriteString(line)
		if block.Len() > maxHeaderBytes {
			return 0, nil, herr.ErrHeadersTooLarge
		}
		if err != nil {
			return 0, nil, fmt.Errorf("httpreq: read headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	statusLine, rest, _ := strings.Cut(block.String(), "\n")
	status, err := parseStatusLine(statusLine)
	if err != nil {
		return 0, nil, err
	}

	tp := textproto.NewReader(bufio.NewReader(strings.NewReader(rest)))
	headers, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return 0, nil, fmt.Errorf("httpreq: parse headers: %w: %w", herr.ErrMalformedResponse, err)
	}
	return status, headers, nil
}

func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("httpreq: malformed status line %q: %w", line, herr.ErrMalformedResponse)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("httpreq: malformed status code %q: %w: %w", fields[1], herr.ErrMalformedResponse, err)
	}
	return code, nil
}

func (r *Request) build() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.method, r.url.PathWithQuery())
	fmt.Fprintf(&b, "Host: %s\r\n", r.url.Host())
	fmt.Fprintf(&b, "User-Agent: %s\r\n", r.opts.UserAgent)
	b.WriteString("Accept: */*\r\n")
	b.WriteString("Accept-Language: en-US\r\n")
	b.WriteString("Accept-Encoding: gzip\r\n")
	b.WriteString("Connection: keep-alive\r\n")
	for _, h := range r.headers {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	if len(r.body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.body))
	}
	b.WriteString("\r\n")
	if len(r.body) > 0 {
		b.Write(r.body)
	}
	return b.String()
}

// isRetryable reports whether err is worth reconnecting and retrying.
// Only genuine I/O/network failures qualify — status codes, malformed
// framing, and sink-write failures are well-formed outcomes (or failures
// on our own end) that redialing the upstream host cannot change, so they
// must propagate immediately instead of burning the retry budget.
func isRetryable(err error) bool {
	var sinkErr *sinkWriteError
	if errors.As(err, &sinkErr) {
		return false
	}
	var notFound *herr.NotFoundError
	var status *herr.StatusError
	if errors.As(err, &notFound) || errors.As(err, &status) {
		return false
	}
	if errors.Is(err, herr.ErrHeadersTooLarge) || errors.Is(err, herr.ErrUnknownEncoding) || errors.Is(err, herr.ErrMalformedResponse) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// resumeWriter decorates a destination writer so a retried request can
// discard the prefix of the body it already delivered before the
// connection dropped, mirroring Handler::write in the reference client.
type resumeWriter struct {
	dst          io.Writer
	written      int64
	resumeTarget int64
}

func (w *resumeWriter) Write(p []byte) (int, error) {
	total := len(p)
	if w.resumeTarget > 0 {
		if w.written+int64(total) < w.resumeTarget {
			w.written += int64(total)
			return total, nil
		}
		p = p[w.resumeTarget-w.written:]
		w.written = w.resumeTarget
		w.resumeTarget = 0
	}
	n, err := w.dst.Write(p)
	w.written += int64(n)
	if err != nil {
		return total - (len(p) - n), err
	}
	return total, nil
}
