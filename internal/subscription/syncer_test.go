package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/chathub/backend/internal/syncqueue"
)

// memQueue is an in-memory syncqueue.Queue for syncer tests.
type memQueue struct {
	entries []syncqueue.Update
}

func (q *memQueue) Enqueue(ctx context.Context, u syncqueue.Update) error {
	q.entries = append(q.entries, u)
	if len(q.entries) > syncqueue.MaxPending {
		q.entries = q.entries[len(q.entries)-syncqueue.MaxPending:]
	}
	return nil
}

func (q *memQueue) Pending(ctx context.Context) ([]syncqueue.Update, error) {
	return append([]syncqueue.Update(nil), q.entries...), nil
}

func (q *memQueue) Ack(ctx context.Context, id string) error {
	for i, u := range q.entries {
		if u.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *memQueue) Len(ctx context.Context) (int, error) {
	return len(q.entries), nil
}

// flakyRemote fails the first failuresLeft writes, then succeeds.
type flakyRemote struct {
	failuresLeft int
	saved        []string // uids in write order
}

func (r *flakyRemote) SaveFullState(ctx context.Context, uid string, doc Document) error {
	if r.failuresLeft > 0 {
		r.failuresLeft--
		return errors.New("remote unavailable")
	}
	r.saved = append(r.saved, uid)
	return nil
}

func doc(tier Tier) Document {
	return Document{
		State:       activeState(tier),
		OrderID:     "order-1",
		UpdatedAtMs: 1700000000000,
	}
}

func TestSaveFullStateImmediateWrite(t *testing.T) {
	remote := &flakyRemote{}
	queue := &memQueue{}
	s := NewSyncer(remote, queue, nil)

	s.SaveFullState(context.Background(), "alice", doc(TierLite))

	if len(remote.saved) != 1 || remote.saved[0] != "alice" {
		t.Fatalf("expected immediate write for alice, got %v", remote.saved)
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestFailedWriteIsQueuedAndRetried(t *testing.T) {
	remote := &flakyRemote{failuresLeft: 1}
	queue := &memQueue{}
	s := NewSyncer(remote, queue, nil)
	ctx := context.Background()

	s.SaveFullState(ctx, "alice", doc(TierPlus))

	if len(remote.saved) != 0 {
		t.Fatalf("expected no successful write yet, got %v", remote.saved)
	}
	if n, _ := queue.Len(ctx); n != 1 {
		t.Fatalf("expected 1 queued update, got %d", n)
	}

	s.RetryPass(ctx)

	if len(remote.saved) != 1 || remote.saved[0] != "alice" {
		t.Fatalf("expected retried write for alice, got %v", remote.saved)
	}
	if n, _ := queue.Len(ctx); n != 0 {
		t.Fatalf("expected queue drained after ack, got %d", n)
	}

	// A second pass must not re-deliver the acked entry.
	s.RetryPass(ctx)
	if len(remote.saved) != 1 {
		t.Fatalf("acked entry was re-delivered: %v", remote.saved)
	}
}

func TestRetryPassPreservesOrder(t *testing.T) {
	remote := &flakyRemote{failuresLeft: 2}
	queue := &memQueue{}
	s := NewSyncer(remote, queue, nil)
	ctx := context.Background()

	s.SaveFullState(ctx, "alice", doc(TierLite))
	s.SaveFullState(ctx, "bob", doc(TierPro))

	if n, _ := queue.Len(ctx); n != 2 {
		t.Fatalf("expected 2 queued updates, got %d", n)
	}

	// First pass: alice's write fails again; the pass aborts so bob's update
	// is not written ahead of hers.
	remote.failuresLeft = 1
	s.RetryPass(ctx)
	if len(remote.saved) != 0 {
		t.Fatalf("expected no writes after aborted pass, got %v", remote.saved)
	}
	if n, _ := queue.Len(ctx); n != 2 {
		t.Fatalf("aborted pass must not ack anything, got %d", n)
	}

	s.RetryPass(ctx)
	if len(remote.saved) != 2 || remote.saved[0] != "alice" || remote.saved[1] != "bob" {
		t.Fatalf("expected FIFO delivery [alice bob], got %v", remote.saved)
	}
}

func TestMalformedEntriesAreDropped(t *testing.T) {
	remote := &flakyRemote{}
	queue := &memQueue{}
	s := NewSyncer(remote, queue, nil)
	ctx := context.Background()

	queue.Enqueue(ctx, syncqueue.NewUpdate("mallory", []byte("{not json")))
	s.SaveFullState(ctx, "alice", doc(TierLite)) // succeeds immediately

	remote.failuresLeft = 0
	s.RetryPass(ctx)

	if n, _ := queue.Len(ctx); n != 0 {
		t.Fatalf("malformed entry must be acked away, got depth %d", n)
	}
	// Only alice's immediate write landed; the malformed entry never did.
	if len(remote.saved) != 1 {
		t.Fatalf("expected 1 write, got %v", remote.saved)
	}
}

type depthRecorder struct {
	depths  []int
	retries []bool
}

func (d *depthRecorder) SetQueueDepth(n int) {
	d.depths = append(d.depths, n)
}

func (d *depthRecorder) RetryAttempted(success bool) {
	d.retries = append(d.retries, success)
}

func TestSyncerReportsMetrics(t *testing.T) {
	remote := &flakyRemote{failuresLeft: 1}
	queue := &memQueue{}
	rec := &depthRecorder{}
	s := NewSyncer(remote, queue, rec)
	ctx := context.Background()

	s.SaveFullState(ctx, "alice", doc(TierLite))
	if len(rec.depths) == 0 || rec.depths[len(rec.depths)-1] != 1 {
		t.Fatalf("expected depth 1 reported after enqueue, got %v", rec.depths)
	}

	s.RetryPass(ctx)
	if len(rec.retries) != 1 || !rec.retries[0] {
		t.Fatalf("expected one successful retry recorded, got %v", rec.retries)
	}
	if rec.depths[len(rec.depths)-1] != 0 {
		t.Fatalf("expected depth 0 after drain, got %v", rec.depths)
	}
}
