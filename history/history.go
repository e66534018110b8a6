// Package history keeps an in-memory indexed ledger of every segment
// dispatched to the worker this session, queryable by URL (to enforce the
// hard uniqueness guarantee the worker's TTL cache only approximates) and
// by sequence (for Last and TotalBytes). Grounded on
// the teacher's database/memdb.go schema-and-txn pattern, generalized
// from a single int-keyed counter table to a URL-keyed segment record.
package history

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
)

// Record is one dispatched segment.
type Record struct {
	Sequence  int
	URL       string
	Kind      string
	Bytes     int64
	Dispatched time.Time
}

// Ledger is a small indexed in-memory table; safe for concurrent readers
// and a single writer (the orchestrator's dispatch path), the same concurrency shape
// memdb's MVCC transactions are built for.
type Ledger struct {
	db  *memdb.MemDB
	seq int
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"segment": {
				Name: "segment",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "URL"},
					},
					"sequence": {
						Name:    "sequence",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "Sequence"},
					},
				},
			},
		},
	}
}

// New builds an empty ledger.
func New() (*Ledger, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("history: init memdb: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record inserts a dispatched segment and assigns it the next sequence
// number. It returns an error if url was already recorded this session,
// the hard version of the worker's best-effort TTL dedup cache.
func (l *Ledger) Record(url, kind string, bytes int64) (Record, error) {
	txn := l.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First("segment", "id", url)
	if err != nil {
		return Record{}, fmt.Errorf("history: lookup %s: %w", url, err)
	}
	if existing != nil {
		return Record{}, fmt.Errorf("history: segment already recorded: %s", url)
	}

	l.seq++
	rec := Record{Sequence: l.seq, URL: url, Kind: kind, Bytes: bytes, Dispatched: time.Now()}
	if err := txn.Insert("segment", &rec); err != nil {
		return Record{}, fmt.Errorf("history: insert %s: %w", url, err)
	}
	txn.Commit()
	return rec, nil
}

// Count returns the number of segments recorded so far.
func (l *Ledger) Count() int {
	return l.seq
}

// Last returns the most recently recorded segment, if any.
func (l *Ledger) Last() (Record, bool) {
	txn := l.db.Txn(false)
	defer txn.Abort()

	it, err := txn.GetReverse("segment", "sequence")
	if err != nil {
		return Record{}, false
	}
	raw := it.Next()
	if raw == nil {
		return Record{}, false
	}
	return *raw.(*Record), true
}

// TotalBytes sums Bytes across every recorded segment.
func (l *Ledger) TotalBytes() int64 {
	txn := l.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get("segment", "sequence")
	if err != nil {
		return 0
	}
	var total int64
	for raw := it.Next(); raw != nil; raw = it.Next() {
		total += raw.(*Record).Bytes
	}
	return total
}
