package cache

import (
	"time"
)

// kvRecord is a single persistent-tier row as the KV interface exchanges it.
type kvRecord struct {
	Payload    []byte
	InsertedAt time.Time
}

// kvStats summarises persistent-tier occupancy for the operational stats
// endpoint.
type kvStats struct {
	Count  int64
	MinTs  time.Time
	MaxTs  time.Time
}

// kvStore is the persistent KV tier contract (spec §4.3). Implementations
// may fail with an I/O error; callers must treat every method as advisory —
// a persistent-tier failure must never fail a request servable from memory
// or upstream.
type kvStore interface {
	Get(key string) (*kvRecord, error)
	Put(key string, payload []byte, insertedAt time.Time) error
	Delete(key string) error
	DeleteOlderThan(cutoff time.Time) (int64, error)
	Count() (int64, error)
	Stats() (kvStats, error)
	Close() error
}

// nopKV is used when the persistent tier is disabled by configuration; every
// call is a harmless miss so the manager falls back to memory-only caching
// without special-casing "no persistent tier" throughout its logic.
type nopKV struct{}

func (nopKV) Get(string) (*kvRecord, error)           { return nil, nil }
func (nopKV) Put(string, []byte, time.Time) error     { return nil }
func (nopKV) Delete(string) error                     { return nil }
func (nopKV) DeleteOlderThan(time.Time) (int64, error) { return 0, nil }
func (nopKV) Count() (int64, error)                   { return 0, nil }
func (nopKV) Stats() (kvStats, error)                 { return kvStats{}, nil }
func (nopKV) Close() error                            { return nil }
