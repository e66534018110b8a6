package hls

import (
	"fmt"
	"strings"

	"twitch-hls-client/herr"
	"twitch-hls-client/httpreq"
	"twitch-hls-client/urlx"
)

// Header is the #EXT-X-MAP URL some av1/hevc streams carry; most streams
// have none, in which case Header.URL is the zero Url.
type Header struct {
	URL urlx.Url
}

// ParseHeader scans a media playlist for its #EXT-X-MAP line.
func ParseHeader(playlist string) (Header, error) {
	for _, line := range strings.Split(playlist, "\n") {
		if !strings.HasPrefix(line, "#EXT-X-MAP") {
			continue
		}
		_, raw, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		u, err := urlx.Parse(strings.Trim(raw, "\""))
		if err != nil {
			return Header{}, fmt.Errorf("hls: parse #EXT-X-MAP url: %w", err)
		}
		return Header{URL: u}, nil
	}
	return Header{}, nil
}

// MediaPlaylist wraps a live reloadable request to a channel's media
// playlist, tracking the last fetched body so Segments/lastDuration don't
// need to re-fetch.
type MediaPlaylist struct {
	req  *httpreq.Request
	body string
}

// NewMediaPlaylist dials url and performs the first reload.
func NewMediaPlaylist(url urlx.Url, opts httpreq.Options) (*MediaPlaylist, error) {
	req, err := httpreq.New(url, httpreq.MethodGet, nil, nil, opts)
	if err != nil {
		return nil, err
	}
	p := &MediaPlaylist{req: req}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload fetches the playlist again. It returns herr.ErrOffline once the
// playlist's last line is #EXT-X-ENDLIST, or wraps a 404 the same way.
func (p *MediaPlaylist) Reload() error {
	body, err := p.req.Text()
	if err != nil {
		if herr.IsOffline(err) {
			return herr.ErrOffline
		}
		return err
	}
	p.body = body

	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[len(lines)-1], "#EXT-X-ENDLIST") {
		return herr.ErrOffline
	}
	return nil
}

// Close releases the underlying connection.
func (p *MediaPlaylist) Close() error { return p.req.Close() }

// Header returns the playlist's #EXT-X-MAP entry, if any.
func (p *MediaPlaylist) Header() (Header, error) { return ParseHeader(p.body) }

// Segments walks the most recently loaded playlist body and returns every
// segment (Normal, including ad-marked ones) plus the trailing prefetch
// entries Twitch appends to a low-latency playlist, in playlist order.
// Ad segments (EXTINF lines containing '|') are kept as Normal entries
// with Duration.IsAd set, so Process can gate on the last segment's ad
// status the way spec.md §4.6 requires, rather than never seeing them.
func (p *MediaPlaylist) Segments() ([]Segment, error) {
	lines := strings.Split(p.body, "\n")

	var segments []Segment
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "#EXTINF"):
			dur, err := ParseDuration(line)
			if err != nil {
				return nil, err
			}
			// An #EXTINF with no URI line after it (the next line is
			// another tag, e.g. a prefetch) yields no Normal segment.
			if i+1 >= len(lines) || strings.HasPrefix(lines[i+1], "#") {
				continue
			}
			i++
			u, err := urlx.Parse(lines[i])
			if err != nil {
				return nil, fmt.Errorf("hls: parse segment url: %w", err)
			}
			segments = append(segments, Segment{Kind: KindNormal, Duration: dur, URL: u})

		case isPrefetchLine(line):
			dur, err := p.lastDuration()
			if err != nil {
				return nil, err
			}
			u, err := parsePrefetchURL(line)
			if err != nil {
				return nil, err
			}
			segments = append(segments, Segment{Kind: KindNextPrefetch, Duration: dur, URL: u})

			if i+1 < len(lines) && isPrefetchLine(lines[i+1]) {
				i++
				u2, err := parsePrefetchURL(lines[i])
				if err != nil {
					return nil, err
				}
				segments = append(segments, Segment{Kind: KindNewestPrefetch, URL: u2})
			}
		}
	}
	return segments, nil
}

// lastDuration returns the duration of the final #EXTINF entry in the
// playlist, the duration prefetch segments borrow since they have none of
// their own.
func (p *MediaPlaylist) lastDuration() (Duration, error) {
	lines := strings.Split(p.body, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "#EXTINF") {
			return ParseDuration(lines[i])
		}
	}
	return Duration{}, herr.ErrInvalidDuration
}

func isPrefetchLine(line string) bool {
	return strings.HasPrefix(line, "#EXT-X-TWITCH-PREFETCH")
}

func parsePrefetchURL(line string) (urlx.Url, error) {
	// "#EXT-X-TWITCH-PREFETCH:<url>" — the tag itself has no colon, so
	// the first ':' in the line is the separator, not part of "https://".
	_, raw, ok := strings.Cut(line, ":")
	if !ok {
		return urlx.Url{}, herr.ErrInvalidPrefetchURL
	}
	u, err := urlx.Parse(raw)
	if err != nil {
		return urlx.Url{}, fmt.Errorf("%w: %v", herr.ErrInvalidPrefetchURL, err)
	}
	return u, nil
}

// ParseVariant picks the variant playlist URL matching quality ("best"
// selects the first #EXT-X-MEDIA block) out of a fetched master playlist,
// and reports whether Twitch tagged the stream low-latency capable
// (FUTURE="true" appears in the low-latency variant's info tag).
func ParseVariant(master, quality string) (urlx.Url, bool, error) {
	lines := strings.Split(master, "\n")
	lowLatency := strings.Contains(master, `FUTURE="true"`)

	for i, line := range lines {
		if !strings.Contains(line, "#EXT-X-MEDIA") {
			continue
		}
		if quality != "best" && !strings.Contains(line, quality) {
			continue
		}
		if i+2 >= len(lines) {
			break
		}
		u, err := urlx.Parse(strings.TrimSpace(lines[i+2]))
		if err != nil {
			return urlx.Url{}, false, fmt.Errorf("hls: parse variant url: %w", err)
		}
		return u, lowLatency, nil
	}
	return urlx.Url{}, false, herr.ErrInvalidQuality
}
