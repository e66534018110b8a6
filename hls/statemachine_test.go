package hls

import (
	"errors"
	"testing"
	"time"

	"twitch-hls-client/urlx"
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

type fakeSink struct {
	urls     []string
	syncUrls []string
	failOn   string
}

func (f *fakeSink) Url(u urlx.Url) error {
	if u.String() == f.failOn {
		return errors.New("boom")
	}
	f.urls = append(f.urls, u.String())
	return nil
}

func (f *fakeSink) SyncUrl(u urlx.Url) error {
	if u.String() == f.failOn {
		return errors.New("boom")
	}
	f.syncUrls = append(f.syncUrls, u.String())
	return nil
}

func noSleep(time.Duration) {}

func TestProcessDispatchesFirstSegmentAsUnknown(t *testing.T) {
	p := &MediaPlaylist{body: testPlaylist}
	sm := NewStateMachine(nullLogger{})
	sink := &fakeSink{}

	if err := sm.Process(p, sink, time.Now(), noSleep); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(sink.syncUrls) != 1 || sink.syncUrls[0] != "http://cdn.invalid/newest-prefetch.ts" {
		t.Fatalf("sync urls = %+v", sink.syncUrls)
	}
	if sm.prev.Kind != KindNewestPrefetch {
		t.Fatalf("prev kind = %v", sm.prev.Kind)
	}
}

func TestProcessFollowsNormalSegment(t *testing.T) {
	p := &MediaPlaylist{body: testPlaylist}
	sm := NewStateMachine(nullLogger{})
	sm.prev = Segment{Kind: KindNormal, URL: mustParse(t, "http://cdn.invalid/seg1.ts")}
	sm.init = false

	sink := &fakeSink{}
	if err := sm.Process(p, sink, time.Now(), noSleep); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(sink.urls) != 1 || sink.urls[0] != "http://cdn.invalid/next-prefetch.ts" {
		t.Fatalf("urls = %+v", sink.urls)
	}
}

func TestProcessWithNoAdvanceSleepsHalf(t *testing.T) {
	p := &MediaPlaylist{body: testPlaylist}
	sm := NewStateMachine(nullLogger{})
	sm.prev = Segment{
		Kind:     KindNewestPrefetch,
		URL:      mustParse(t, "http://cdn.invalid/newest-prefetch.ts"),
		Duration: Duration{Inner: 2 * time.Second},
	}
	sm.init = false

	var slept time.Duration
	sink := &fakeSink{}
	err := sm.Process(p, sink, time.Now(), func(d time.Duration) { slept = d })
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(sink.urls) != 0 || len(sink.syncUrls) != 0 {
		t.Fatalf("expected no dispatch when playlist hasn't advanced, got urls=%+v sync=%+v", sink.urls, sink.syncUrls)
	}
	if slept <= 0 {
		t.Fatal("expected a half-duration sleep")
	}
}

func TestProcessSleepsOutAdAndDoesNotAdvance(t *testing.T) {
	p := &MediaPlaylist{body: adPlaylist}
	sm := NewStateMachine(nullLogger{})
	sm.prev = Segment{Kind: KindNormal, URL: mustParse(t, "http://cdn.invalid/already-dispatched.ts")}
	sm.init = false

	var slept time.Duration
	sink := &fakeSink{}
	err := sm.Process(p, sink, time.Now(), func(d time.Duration) { slept = d })
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(sink.urls) != 0 || len(sink.syncUrls) != 0 {
		t.Fatalf("expected no dispatch during an ad, got urls=%+v sync=%+v", sink.urls, sink.syncUrls)
	}
	if slept <= 0 {
		t.Fatal("expected a sleep for the ad's duration")
	}
	if sm.prev.URL.String() != "http://cdn.invalid/already-dispatched.ts" {
		t.Fatalf("expected prev_segment to stay put during an ad, got %+v", sm.prev)
	}
}

func TestProcessPropagatesSinkError(t *testing.T) {
	p := &MediaPlaylist{body: testPlaylist}
	sm := NewStateMachine(nullLogger{})
	sink := &fakeSink{failOn: "http://cdn.invalid/newest-prefetch.ts"}

	if err := sm.Process(p, sink, time.Now(), noSleep); err == nil {
		t.Fatal("expected sink error to propagate")
	}
}
