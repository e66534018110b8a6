// Package hls parses Twitch media playlists into the segment sequence the
// worker downloads, and implements the prefetch-aware "find what comes
// after the last segment we took" state machine. It is grounded on
// original_source/src/hls/playlist.rs and segment.rs.
package hls

import (
	"math"
	"strconv"
	"strings"
	"time"

	"twitch-hls-client/herr"
	"twitch-hls-client/urlx"
)

// maxSleep is the cap past which Duration.Sleep halves the wait instead of
// sleeping the full segment duration, since waiting the server's actual
// duration this close to a timeout risks it closing the keep-alive socket.
const maxSleep = 3 * time.Second

// Duration is a segment's #EXTINF duration plus the ad/capped flags the
// sleep discipline needs. was_capped persists across reloads via the
// previous segment so two back-to-back long segments don't make the
// client drift further and further behind.
type Duration struct {
	Inner      time.Duration
	IsAd       bool
	WasCapped  bool
}

// ParseDuration parses an #EXTINF line. A pipe character anywhere in the
// line marks an inline ad ("#EXTINF:4.000,live|adID=...").
func ParseDuration(line string) (Duration, error) {
	isAd := strings.Contains(line, "|")

	after, ok := strings.CutPrefix(line, "#EXTINF:")
	if !ok {
		return Duration{}, herr.ErrInvalidDuration
	}
	secsStr, _, ok := strings.Cut(after, ",")
	if !ok {
		return Duration{}, herr.ErrInvalidDuration
	}
	secs, err := strconv.ParseFloat(secsStr, 64)
	if err != nil {
		return Duration{}, herr.ErrInvalidDuration
	}

	return Duration{
		Inner: time.Duration(math.Round(secs * float64(time.Second))),
		IsAd:  isAd,
	}, nil
}

// Sleep waits out the segment's duration minus elapsed processing time,
// halving the wait once the duration reaches the 3-second server-timeout
// risk zone. WasCapped then latches, so later sleeps on this same Duration
// stay halved; a newly parsed segment's Duration starts uncapped.
func (d *Duration) Sleep(elapsed time.Duration, sleepFn func(time.Duration)) {
	if d.Inner >= maxSleep || d.WasCapped {
		d.SleepHalf(elapsed, sleepFn)
		d.WasCapped = true
		return
	}
	sleepThread(d.Inner, elapsed, sleepFn)
}

// SleepHalf waits out half the duration, used both by the capped path
// above and directly when the playlist didn't change between polls.
func (d *Duration) SleepHalf(elapsed time.Duration, sleepFn func(time.Duration)) {
	sleepThread(d.Inner/2, elapsed, sleepFn)
}

func sleepThread(d, elapsed time.Duration, sleepFn func(time.Duration)) {
	remaining := d - elapsed
	if remaining > 0 {
		sleepFn(remaining)
	}
}

// Kind discriminates the Segment union; Go has no sum type so the payload
// fields below are only meaningful for the Kind that names them.
type Kind int

const (
	// KindUnknown is the zero value: "couldn't find what comes next",
	// meaning the worker should jump straight to the newest segment.
	KindUnknown Kind = iota
	KindNormal
	KindNextPrefetch
	KindNewestPrefetch
)

// Segment is a playlist entry: a normal (or ad) segment, a
// #EXT-X-TWITCH-PREFETCH entry for the next segment, the prefetch entry
// for the segment after that ("newest"), or Unknown when no match was
// found walking the playlist.
type Segment struct {
	Kind     Kind
	Duration Duration
	URL      urlx.Url
}

// Equal compares two segments by URL only, mirroring the reference
// client's PartialEq impl: two Segments are "the same slot" if they point
// at the same URL, regardless of duration or kind.
func (s Segment) Equal(other Segment) bool {
	return s.URL.Equal(other.URL)
}

// FindNext locates prev within segments and returns the entry immediately
// after it with true, a zero Segment with false if prev was the last
// entry, or a KindUnknown segment with true if prev wasn't found at all
// (the playlist rolled over further than one poll covers).
func FindNext(prev Segment, segments []Segment) (Segment, bool) {
	for i, s := range segments {
		if prev.Equal(s) {
			if i+1 == len(segments) {
				return Segment{}, false
			}
			return segments[i+1], true
		}
	}
	return Segment{Kind: KindUnknown}, true
}
