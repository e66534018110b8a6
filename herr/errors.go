// Package herr defines the tagged error kinds used across the client, per
// the error handling table: offline/not-found/status/malformed-playlist/
// unknown-encoding. The orchestrator dispatches on these with errors.Is/As
// rather than string matching, mirroring the teacher's fmt.Errorf(%w)
// wrapping idiom throughout proxy/ and store/.
package herr

import (
	"errors"
	"fmt"

	"twitch-hls-client/urlx"
)

// ErrOffline means the stream has ended (ENDLIST seen, or a 404 on the
// top-level playlist).
var ErrOffline = errors.New("stream offline")

// ErrInvalidQuality means the master playlist had no matching variant.
var ErrInvalidQuality = errors.New("no variant matched requested quality")

// ErrInvalidDuration means an #EXTINF line could not be parsed.
var ErrInvalidDuration = errors.New("invalid segment duration")

// ErrInvalidPrefetchURL means a #EXT-X-TWITCH-PREFETCH line had no URL.
var ErrInvalidPrefetchURL = errors.New("invalid prefetch url")

// ErrUnknownEncoding means none of the recognized body framings applied.
var ErrUnknownEncoding = errors.New("unknown response body encoding")

// ErrMalformedResponse means the status line or header block couldn't be
// parsed. Like ErrUnknownEncoding, this is a framing problem a retry
// cannot fix, not a transient network failure.
var ErrMalformedResponse = errors.New("malformed http response")

// ErrHeadersTooLarge means more than 2048 bytes accumulated before the
// blank line terminating response headers was seen.
var ErrHeadersTooLarge = errors.New("response headers too large")

// ErrInsecureScheme means --force-https was set but the URL was http.
var ErrInsecureScheme = errors.New("insecure scheme with --force-https")

// NotFoundError is a 404 response to a request for url.
type NotFoundError struct {
	URL urlx.Url
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("404 not found: %s", e.URL)
}

// StatusError is any non-200, non-404 HTTP response.
type StatusError struct {
	Code int
	URL  urlx.Url
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d on %s", e.Code, e.URL)
}

// InvalidURLError wraps a malformed playlist/config URL.
type InvalidURLError struct {
	Raw string
	Err error
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url %q: %v", e.Raw, e.Err)
}

func (e *InvalidURLError) Unwrap() error { return e.Err }

// IsOffline reports whether err should be treated as end-of-stream: either
// ErrOffline directly, or any NotFoundError. Callers decide where that
// applies: hls.MediaPlaylist.Reload maps playlist 404s to Offline, while
// the worker downgrades segment 404s to a log warning (see worker.Worker).
func IsOffline(err error) bool {
	if errors.Is(err, ErrOffline) {
		return true
	}
	var nf *NotFoundError
	return errors.As(err, &nf)
}
