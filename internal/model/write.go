package model

import "time"

// PendingWrite is a follower-side record of a forwarded write awaiting
// acknowledgement. Removed on ack, error, or timeout.
type PendingWrite struct {
	RequestID  uint64
	SQL        string
	Params     []interface{}
	EnqueuedAt time.Time
	Timeout    time.Duration
}

// OptimisticStatus is the lifecycle state of an optimistic entry
type OptimisticStatus string

const (
	// OptimisticPending awaits leader confirmation
	OptimisticPending OptimisticStatus = "pending"
	// OptimisticReverted failed; retained so the UI can reconcile
	OptimisticReverted OptimisticStatus = "reverted"
)

// OptimisticEntry records a write reflected locally before its durable
// confirmation arrived. Confirmed entries are removed; failed entries are
// retained with status reverted until cleared.
type OptimisticEntry struct {
	WriteID   string
	SQLDigest string
	AppliedAt time.Time
	Status    OptimisticStatus
}
