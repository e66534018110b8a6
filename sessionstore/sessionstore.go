// Package sessionstore keeps a durable, best-effort checkpoint of the last
// segment dispatched per channel, for crash forensics across restarts.
// Grounded on the teacher's main.go InitializeSQLite/RenameSQLite
// atomic-swap idiom: there the swap protected a double-buffered dataset
// being refreshed under a cron job, here there is only a single row per
// channel to upsert, so the swap machinery collapses to a single
// transaction. It does not participate in the orchestrator's resync
// decision (SPEC_FULL.md §4.15): the state machine's own skip-to-newest
// logic is the only thing that picks a resume point.
package sessionstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"twitch-hls-client/logger"
)

// Checkpoint is the last segment dispatched for one channel.
type Checkpoint struct {
	Channel   string
	LastURL   string
	LastSeq   int
	UpdatedAt time.Time
}

// Store owns the sqlite handle and a single background writer goroutine,
// so a slow disk never stalls the orchestrator's timing-sensitive loop.
type Store struct {
	log     logger.Logger
	db      *sql.DB
	writes  chan writeReq
	closed  chan struct{}
	closeCh chan struct{}
}

type writeReq struct {
	channel string
	url     string
	seq     int
}

// Open creates (if needed) the checkpoint table at path and starts the
// background writer. path is typically Config.ResumeDBPath. log receives
// a warning whenever a background upsert fails; the caller still never
// blocks or errors out on a write failure (the store remains best-effort).
func Open(log logger.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: ping %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS checkpoint (
	channel    TEXT PRIMARY KEY,
	last_url   TEXT NOT NULL,
	last_seq   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: create schema: %w", err)
	}

	s := &Store{
		log:     log,
		db:      db,
		writes:  make(chan writeReq, 8),
		closed:  make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Checkpoint enqueues an upsert of the channel's last dispatched segment.
// It is asynchronous and never blocks on disk I/O; a failed upsert is
// logged as a warning by the background goroutine rather than returned
// here (callers treat this store as best-effort by design). Checkpointing
// the same (channel, url, seq) twice is idempotent: the row's contents
// end up identical.
func (s *Store) Checkpoint(channel, url string, seq int) {
	select {
	case s.writes <- writeReq{channel: channel, url: url, seq: seq}:
	case <-s.closeCh:
	default:
		s.log.Warnf("sessionstore: checkpoint queue full, dropping checkpoint for %s", channel)
	}
}

func (s *Store) run() {
	defer close(s.closed)
	const upsert = `
INSERT INTO checkpoint (channel, last_url, last_seq, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(channel) DO UPDATE SET
	last_url = excluded.last_url,
	last_seq = excluded.last_seq,
	updated_at = excluded.updated_at`

	for {
		select {
		case req, ok := <-s.writes:
			if !ok {
				return
			}
			if _, err := s.db.Exec(upsert, req.channel, req.url, req.seq, time.Now().Unix()); err != nil {
				s.log.Warnf("sessionstore: checkpoint upsert for %s failed: %v", req.channel, err)
			}
		case <-s.closeCh:
			return
		}
	}
}

// Last returns the most recent checkpoint recorded for channel, if any
// newer than maxAge. A stale checkpoint is reported as absent: per
// spec.md §4.6 the stream has almost certainly moved on by then, so it
// is only useful as a diagnostic, never as a resume target.
func (s *Store) Last(channel string, maxAge time.Duration) (Checkpoint, bool) {
	row := s.db.QueryRow(
		`SELECT last_url, last_seq, updated_at FROM checkpoint WHERE channel = ?`,
		channel,
	)
	var (
		url       string
		seq       int
		updatedAt int64
	)
	if err := row.Scan(&url, &seq, &updatedAt); err != nil {
		return Checkpoint{}, false
	}
	when := time.Unix(updatedAt, 0)
	if time.Since(when) > maxAge {
		return Checkpoint{}, false
	}
	return Checkpoint{Channel: channel, LastURL: url, LastSeq: seq, UpdatedAt: when}, true
}

// Close stops the background writer and closes the database handle. Like
// worker.Close, it must only be called by the single producer once it
// has stopped calling Checkpoint.
func (s *Store) Close() error {
	close(s.closeCh)
	<-s.closed
	return s.db.Close()
}
