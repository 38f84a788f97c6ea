// Package syncqueue provides the durable pending-update queue for
// subscription writes that failed to reach the canonical store. Entries are
// retried with at-least-once semantics: an entry is removed only after an
// explicit ack, and persists across process restarts.
package syncqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxPending bounds the queue. The lapse being recovered from is usually a
// network outage, so unbounded growth means the device has been offline for
// a long time; beyond the cap the oldest entries are dropped and logged.
const MaxPending = 256

// Update is one queued subscription write. The payload is opaque to the
// queue; the syncer serializes the full canonical document into it.
type Update struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Payload    []byte `json:"payload"`
	EnqueuedAt int64  `json:"enqueued_at"` // unix seconds
	Attempts   int    `json:"attempts"`
}

// NewUpdate builds a queue entry with a fresh id.
func NewUpdate(userID string, payload []byte) Update {
	return Update{
		ID:         uuid.New().String(),
		UserID:     userID,
		Payload:    payload,
		EnqueuedAt: time.Now().Unix(),
	}
}

// Queue is the durable pending-update queue port.
type Queue interface {
	// Enqueue appends an update. When the queue is full the oldest entry is
	// dropped to make room; implementations log the overflow.
	Enqueue(ctx context.Context, u Update) error
	// Pending returns all queued updates in FIFO order without removing them.
	Pending(ctx context.Context) ([]Update, error)
	// Ack removes the update with the given id after a confirmed remote
	// write. Acking an unknown id is a no-op.
	Ack(ctx context.Context, id string) error
	// Len returns the current queue depth.
	Len(ctx context.Context) (int, error)
}
