package subscription

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/chathub/backend/internal/syncqueue"
)

const (
	// retryInterval is the base cadence of the background retry pass.
	retryInterval = 30 * time.Second

	// maxRetryInterval caps the backoff applied after consecutive failed
	// passes.
	maxRetryInterval = 5 * time.Minute
)

// Remote is the canonical subscription store port. Implemented by the
// Postgres-backed substore.
type Remote interface {
	SaveFullState(ctx context.Context, uid string, doc Document) error
}

// SyncMetrics receives queue observability callbacks. All methods must be
// safe for concurrent use; a nil SyncMetrics disables reporting.
type SyncMetrics interface {
	SetQueueDepth(n int)
	RetryAttempted(success bool)
}

// Syncer pushes full subscription snapshots to the canonical store. Writes
// that fail are parked in the durable pending queue and retried out-of-band
// until acknowledged; failures are never surfaced to the caller beyond the
// log.
type Syncer struct {
	remote  Remote
	queue   syncqueue.Queue
	metrics SyncMetrics

	interval time.Duration
	failures int // consecutive failed retry passes, drives backoff
	kick     chan struct{}
}

// NewSyncer creates a syncer over the given canonical store and pending
// queue. metrics may be nil.
func NewSyncer(remote Remote, queue syncqueue.Queue, metrics SyncMetrics) *Syncer {
	return &Syncer{
		remote:   remote,
		queue:    queue,
		metrics:  metrics,
		interval: retryInterval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate retry pass from the Run loop instead of waiting
// out the backoff timer. Non-blocking; redundant kicks coalesce.
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SaveFullState attempts an immediate write of the full snapshot to the
// canonical store. On failure the payload is enqueued for background retry
// and the error is swallowed; stale remote state is an eventually-consistent
// condition, not a user-facing failure.
func (s *Syncer) SaveFullState(ctx context.Context, uid string, doc Document) {
	if doc.UpdatedAtMs == 0 {
		doc.UpdatedAtMs = time.Now().UnixMilli()
	}

	if err := s.remote.SaveFullState(ctx, uid, doc); err == nil {
		return
	} else {
		log.Printf("[subsync] immediate write failed uid=%s: %v (queueing)", uid, err)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		log.Printf("[subsync] marshal state uid=%s: %v (update lost)", uid, err)
		return
	}

	if err := s.queue.Enqueue(ctx, syncqueue.NewUpdate(uid, payload)); err != nil {
		log.Printf("[subsync] enqueue uid=%s: %v (update lost)", uid, err)
		return
	}
	s.reportDepth(ctx)
}

// Run drives the background retry loop until the context is cancelled. The
// pass interval doubles after consecutive failed passes, up to
// maxRetryInterval, and resets after a clean pass.
func (s *Syncer) Run(ctx context.Context) {
	log.Printf("[subsync] retry loop started (interval=%s)", s.interval)

	timer := time.NewTimer(s.backoff())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[subsync] retry loop stopped")
			return
		case <-timer.C:
			s.RetryPass(ctx)
			timer.Reset(s.backoff())
		case <-s.kick:
			if !timer.Stop() {
				<-timer.C
			}
			s.RetryPass(ctx)
			timer.Reset(s.backoff())
		}
	}
}

// RetryPass drains the pending queue in FIFO order. Each entry is acked only
// after its remote write succeeds, so delivery is at-least-once; a failed
// write aborts the pass to preserve ordering.
func (s *Syncer) RetryPass(ctx context.Context) {
	pending, err := s.queue.Pending(ctx)
	if err != nil {
		log.Printf("[subsync] read pending queue: %v", err)
		s.failures++
		return
	}
	if len(pending) == 0 {
		s.failures = 0
		s.reportDepth(ctx)
		return
	}

	log.Printf("[subsync] retry pass: %d pending update(s)", len(pending))

	for _, u := range pending {
		var doc Document
		if err := json.Unmarshal(u.Payload, &doc); err != nil {
			// Malformed entries can never succeed; ack them away.
			log.Printf("[subsync] dropping malformed update id=%s: %v", u.ID, err)
			_ = s.queue.Ack(ctx, u.ID)
			continue
		}

		err := s.remote.SaveFullState(ctx, u.UserID, doc)
		if s.metrics != nil {
			s.metrics.RetryAttempted(err == nil)
		}
		if err != nil {
			log.Printf("[subsync] retry failed uid=%s id=%s attempts=%d: %v",
				u.UserID, u.ID, u.Attempts+1, err)
			s.failures++
			s.reportDepth(ctx)
			return
		}

		if err := s.queue.Ack(ctx, u.ID); err != nil {
			// The write landed but the ack failed; the entry will be resent
			// next pass. The canonical store upsert makes the resend safe.
			log.Printf("[subsync] ack failed id=%s: %v", u.ID, err)
			s.failures++
			s.reportDepth(ctx)
			return
		}
		log.Printf("[subsync] retried uid=%s id=%s ok", u.UserID, u.ID)
	}

	s.failures = 0
	s.reportDepth(ctx)
}

// backoff returns the delay before the next retry pass.
func (s *Syncer) backoff() time.Duration {
	d := s.interval
	for i := 0; i < s.failures; i++ {
		d *= 2
		if d >= maxRetryInterval {
			return maxRetryInterval
		}
	}
	return d
}

func (s *Syncer) reportDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.queue.Len(ctx); err == nil {
		s.metrics.SetQueueDepth(n)
	}
}
