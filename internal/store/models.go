package store

import "time"

// PendingFlush is a snapshot waiting to be written to the cache. Version grows
// on every re-enqueue, so a flush can tell whether the row changed under it.
type PendingFlush struct {
	DocumentName string
	State        []byte
	Version      int64
	Attempts     int
	LastError    string
	EnqueuedAt   time.Time
	UpdatedAt    time.Time
}
