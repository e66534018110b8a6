// Package decoder wraps a response body in whatever framing its headers
// declare: plain Content-Length, chunked transfer-encoding, gzip
// content-encoding, or chunked-then-gzipped. It is grounded directly on
// the reference client's decoder, which resolves the same four cases
// (Unencoded/Chunked/ChunkedGzip/Gzip) from the same three headers.
package decoder

import (
	"fmt"
	"io"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"twitch-hls-client/herr"
)

// New returns a reader over body framed according to headers. The caller
// is responsible for closing body itself; New never takes ownership of it
// beyond the lifetime of the returned reader.
func New(body io.Reader, headers textproto.MIMEHeader) (io.Reader, error) {
	chunked := strings.EqualFold(headers.Get("Transfer-Encoding"), "chunked")
	gzipped := strings.EqualFold(headers.Get("Content-Encoding"), "gzip")

	switch {
	case chunked && gzipped:
		cr := httputil.NewChunkedReader(body)
		gz, err := gzip.NewReader(cr)
		if err != nil {
			return nil, fmt.Errorf("decoder: gzip header: %w", err)
		}
		return &drainingGzipReader{gz: gz, chunked: cr}, nil
	case chunked:
		return httputil.NewChunkedReader(body), nil
	case gzipped:
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("decoder: gzip header: %w", err)
		}
		return gz, nil
	default:
		cl := headers.Get("Content-Length")
		if cl == "" {
			return nil, herr.ErrUnknownEncoding
		}
		length, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decoder: content-length %q: %w", cl, err)
		}
		return io.LimitReader(body, length), nil
	}
}

// drainingGzipReader mirrors the ChunkedGzip branch of the reference
// decoder: gzip.Reader stops reading once it has the decompressed bytes it
// wants and never consumes the chunk decoder's trailing zero-length chunk
// plus CRLF, which otherwise gets misread as the start of the next
// response on a reused connection.
type drainingGzipReader struct {
	gz      *gzip.Reader
	chunked io.Reader
}

func (d *drainingGzipReader) Read(p []byte) (int, error) {
	n, err := d.gz.Read(p)
	if n == 0 && err == io.EOF {
		_, _ = io.Copy(io.Discard, d.chunked)
	}
	return n, err
}
