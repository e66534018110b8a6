// Package worker runs the single background goroutine that downloads
// segment bodies and writes them to the player sink in dispatch order. It
// is grounded on spec.md §4.7's message protocol. Each segment body is
// streamed straight into the sink as it arrives rather than staged in an
// intermediate buffer first — store-and-forward would undercut the whole
// point of piping segments to the player as they download.
package worker

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"twitch-hls-client/herr"
	"twitch-hls-client/httpreq"
	"twitch-hls-client/logger"
	"twitch-hls-client/urlx"
)

// dedupTTL covers a couple of segment durations, long enough to catch a
// reload race re-offering a URL already in flight without growing
// unbounded across a long session.
const dedupTTL = 30 * time.Second

type msgKind int

const (
	msgURL msgKind = iota
	msgSyncURL
	msgSync
)

type message struct {
	kind    msgKind
	url     urlx.Url
	started chan struct{} // closed once dequeued, for SyncUrl's handshake
	done    chan struct{} // closed once processed, for Sync's barrier
}

// Stats is the counters the heartbeat reports, read under RLock so the
// cron goroutine never blocks segment dispatch.
type Stats struct {
	SegmentsWritten int64
	BytesWritten    int64
}

// Worker downloads segment bodies and writes them to sink in the order
// they were dispatched. The channel's capacity bounds how far the
// orchestrator can run ahead of the player: when full, Url/SyncUrl block,
// which is the backpressure spec.md §4.7 calls for.
type Worker struct {
	log  logger.Logger
	sink io.Writer
	opts httpreq.Options

	req  *httpreq.Request
	seen *cache.Cache

	queue chan message

	statsMu sync.RWMutex
	stats   Stats

	fatalMu sync.Mutex
	fatal   error
	closed  chan struct{}
}

// New starts the worker goroutine writing downloaded segment bodies to
// sink. depth is the channel's backpressure-inducing capacity (2-4 per
// spec.md §4.7).
func New(log logger.Logger, sink io.Writer, opts httpreq.Options, depth int) *Worker {
	if depth < 1 {
		depth = 2
	}
	w := &Worker{
		log:    log,
		sink:   sink,
		opts:   opts,
		seen:   cache.New(dedupTTL, dedupTTL),
		queue:  make(chan message, depth),
		closed: make(chan struct{}),
	}
	go w.run()
	return w
}

// Url dispatches u asynchronously: the call returns as soon as there is
// room in the queue, before the worker has even dequeued it.
func (w *Worker) Url(u urlx.Url) error {
	return w.enqueue(message{kind: msgURL, url: u})
}

// SyncUrl dispatches u and blocks until the worker has dequeued it (not
// until the download finishes) — the handshake the NewestPrefetch and
// "skip to newest" paths need so the orchestrator doesn't race ahead of a
// resync before the worker has even started consuming it.
func (w *Worker) SyncUrl(u urlx.Url) error {
	started := make(chan struct{})
	if err := w.enqueue(message{kind: msgSyncURL, url: u, started: started}); err != nil {
		return err
	}
	select {
	case <-started:
		return nil
	case <-w.closed:
		return w.fatalErr()
	}
}

// Sync blocks until every previously enqueued message has been fully
// processed, draining the queue as a barrier.
func (w *Worker) Sync() error {
	done := make(chan struct{})
	if err := w.enqueue(message{kind: msgSync, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-w.closed:
		return w.fatalErr()
	}
}

// Close stops accepting new work and waits for the queue to drain,
// mirroring the reference client's drop-the-sender shutdown: closing the
// channel causes the worker goroutine to finish the backlog and exit.
// Close must only be called by the single producer after it has stopped
// calling Url/SyncUrl/Sync, matching the single-producer/single-consumer
// contract of the channel.
func (w *Worker) Close() error {
	close(w.queue)
	<-w.closed
	return w.fatalErr()
}

// Err returns the fatal error that stopped the worker, if any, without
// blocking — the orchestrator polls this after each state machine step
// to notice a sink failure (e.g. broken pipe) that happened
// asynchronously in the background goroutine.
func (w *Worker) Err() error {
	return w.fatalErr()
}

// Stats returns a snapshot of the cumulative counters, safe to call
// concurrently with segment dispatch (used by the heartbeat).
func (w *Worker) Stats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

// SegmentsDispatched and BytesWritten satisfy stats.Counters directly so
// the heartbeat can be wired straight to a *Worker.
func (w *Worker) SegmentsDispatched() int64 {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats.SegmentsWritten
}

func (w *Worker) BytesWritten() int64 {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats.BytesWritten
}

func (w *Worker) enqueue(m message) error {
	if err := w.fatalErr(); err != nil {
		return err
	}
	select {
	case w.queue <- m:
		return nil
	case <-w.closed:
		return w.fatalErr()
	}
}

func (w *Worker) fatalErr() error {
	w.fatalMu.Lock()
	defer w.fatalMu.Unlock()
	return w.fatal
}

func (w *Worker) setFatal(err error) {
	w.fatalMu.Lock()
	if w.fatal == nil {
		w.fatal = err
	}
	w.fatalMu.Unlock()
}

func (w *Worker) run() {
	defer close(w.closed)

	for m := range w.queue {
		switch m.kind {
		case msgURL:
			w.deliver(m.url)
		case msgSyncURL:
			close(m.started)
			w.deliver(m.url)
		case msgSync:
			close(m.done)
		}

		if w.fatalErr() != nil {
			// Drain the remaining queue without doing more I/O so a
			// blocked producer unblocks instead of deadlocking on a
			// full channel after a fatal sink error.
			w.drainRemaining()
			return
		}
	}
}

func (w *Worker) drainRemaining() {
	for m := range w.queue {
		switch m.kind {
		case msgSyncURL:
			close(m.started)
		case msgSync:
			close(m.done)
		}
	}
}

func (w *Worker) deliver(u urlx.Url) {
	key := u.String()
	if _, found := w.seen.Get(key); found {
		w.log.Debugf("worker: skipping already-seen segment %s", key)
		return
	}
	w.seen.SetDefault(key, struct{}{})

	if w.req == nil {
		req, err := httpreq.New(u, httpreq.MethodGet, nil, nil, w.opts)
		if err != nil {
			w.setFatal(fmt.Errorf("worker: dial segment: %w", err))
			return
		}
		w.req = req
	} else if err := w.req.SetURL(u); err != nil {
		w.setFatal(fmt.Errorf("worker: switch segment url: %w", err))
		return
	}

	cw := &countingWriter{dst: w.sink}
	if err := w.req.Do(cw); err != nil {
		var notFound *herr.NotFoundError
		if errors.As(err, &notFound) {
			w.log.Warnf("worker: segment 404, skipping: %s", key)
			return
		}
		w.setFatal(fmt.Errorf("worker: download segment: %w", err))
		return
	}

	w.statsMu.Lock()
	w.stats.SegmentsWritten++
	w.stats.BytesWritten += cw.n
	w.statsMu.Unlock()
}

// countingWriter forwards every write straight to dst as it arrives — the
// decoded segment body is streamed into the player sink incrementally
// rather than staged in a full-body buffer first, since that store-and-
// forward would defeat the low-latency point of piping segments as they
// download — while still tallying the byte count the stats heartbeat
// reports.
type countingWriter struct {
	dst io.Writer
	n   int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.dst.Write(p)
	c.n += int64(n)
	return n, err
}
