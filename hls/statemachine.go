package hls

import (
	"fmt"
	"time"

	"twitch-hls-client/logger"
	"twitch-hls-client/urlx"
)

// StateMachine tracks the previously-dispatched segment and decides,
// reload after reload, what to hand the worker next. Grounded on
// original_source/src/hls/segment.rs's Handler: prev_segment/init become
// StateMachine's own fields, and Process is Handler::process verbatim in
// shape (ad-filter check, find_next dispatch, Unknown/skip-to-newest,
// NewestPrefetch's synchronous handoff).
type StateMachine struct {
	log  logger.Logger
	prev Segment
	init bool
}

// NewStateMachine starts with no previous segment, matching Segment's
// zero value (KindUnknown) and init=true so the first "skipping to
// newest" transition doesn't log a spurious notice.
func NewStateMachine(log logger.Logger) *StateMachine {
	return &StateMachine{log: log, init: true}
}

// segmentSink is the worker capability Process needs: both an async and
// a dequeue-synchronous handoff. worker.Worker satisfies this directly.
type segmentSink interface {
	Url(u urlx.Url) error
	SyncUrl(u urlx.Url) error
}

// Process runs one iteration of the reload→pick→dispatch→sleep cycle
// against the playlist's most recently reloaded body, using started as
// the wall-clock anchor for sleep-minus-elapsed accounting. sleepFn is
// injected so tests never actually block.
func (sm *StateMachine) Process(p *MediaPlaylist, sink segmentSink, started time.Time, sleepFn func(time.Duration)) error {
	segments, err := p.Segments()
	if err != nil {
		return err
	}

	// If the last real (non-prefetch) segment in the playlist is
	// currently an ad, the channel is in an ad break: sleep out its
	// duration and leave prev untouched rather than advancing into or
	// past it, matching Handler::process's ad-check in the reference.
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i].Kind != KindNormal {
			continue
		}
		if segments[i].Duration.IsAd {
			sm.log.Logf("hls: filtering ad segment")
			segments[i].Duration.Sleep(time.Since(started), sleepFn)
			return nil
		}
		break
	}

	next, found := FindNext(sm.prev, segments)
	if !found {
		// prev was the last entry in the list: playlist hasn't advanced.
		dur := sm.prev.Duration
		if !dur.WasCapped {
			sm.log.Logf("hls: playlist unchanged, retrying...")
		}
		dur.SleepHalf(time.Since(started), sleepFn)
		sm.prev.Duration = dur
		return nil
	}

	switch next.Kind {
	case KindNormal, KindNextPrefetch:
		if err := sink.Url(next.URL); err != nil {
			return fmt.Errorf("hls: dispatch segment: %w", err)
		}
		next.Duration.Sleep(time.Since(started), sleepFn)
		sm.prev = next

	case KindNewestPrefetch:
		if err := sink.SyncUrl(next.URL); err != nil {
			return fmt.Errorf("hls: dispatch newest prefetch: %w", err)
		}
		sm.prev = next

	default: // KindUnknown
		if !sm.init {
			sm.log.Logf("hls: failed to find next segment, skipping to newest...")
		}
		sm.init = false

		if len(segments) == 0 {
			return fmt.Errorf("hls: no segments in playlist while skipping to newest")
		}
		last := segments[len(segments)-1]
		if err := sink.SyncUrl(last.URL); err != nil {
			return fmt.Errorf("hls: dispatch newest segment: %w", err)
		}
		sm.prev = last
	}

	return nil
}
