package call

import "testing"

func newIdleManager(uid, peer string, video bool) *Manager {
	rig := newTestRig(60)
	return NewOutgoing(rig.deps(), uid, uid, peer, peer, video)
}

func TestRegistryRejectsSecondCallOfSameMedia(t *testing.T) {
	r := NewRegistry()

	first := newIdleManager("alice", "bob", false)
	if err := r.Add(first); err != nil {
		t.Fatalf("Add first: %v", err)
	}

	second := newIdleManager("alice", "carol", false)
	if err := r.Add(second); err != ErrCallInProgress {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}

	// A different media type is a separate slot.
	video := newIdleManager("alice", "carol", true)
	if err := r.Add(video); err != nil {
		t.Fatalf("Add video: %v", err)
	}

	if got := r.Get("alice", MediaAudio); got != first {
		t.Fatal("audio slot must still hold the first manager")
	}
	if got := r.Get("alice", MediaVideo); got != video {
		t.Fatal("video slot must hold the video manager")
	}
}

func TestRegistryReplacesEndedCall(t *testing.T) {
	r := NewRegistry()

	first := newIdleManager("alice", "bob", false)
	if err := r.Add(first); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	first.Session().setPhase(PhaseEnded)

	second := newIdleManager("alice", "carol", false)
	if err := r.Add(second); err != nil {
		t.Fatalf("expected ended slot to be replaceable, got %v", err)
	}
	if got := r.Get("alice", MediaAudio); got != second {
		t.Fatal("audio slot must hold the replacement")
	}
}

func TestRegistryRemoveOnlyDropsOwnEntry(t *testing.T) {
	r := NewRegistry()

	first := newIdleManager("alice", "bob", false)
	if err := r.Add(first); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	first.Session().setPhase(PhaseEnded)

	second := newIdleManager("alice", "carol", false)
	if err := r.Add(second); err != nil {
		t.Fatalf("Add second: %v", err)
	}

	// A stale remove from the replaced manager must not evict the live one.
	r.Remove(first)
	if got := r.Get("alice", MediaAudio); got != second {
		t.Fatal("stale remove evicted the live manager")
	}

	r.Remove(second)
	if got := r.Get("alice", MediaAudio); got != nil {
		t.Fatal("expected empty slot after remove")
	}
}

func TestRegistryFindByChannel(t *testing.T) {
	r := NewRegistry()

	m := newIdleManager("alice", "bob", false)
	if err := r.Add(m); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got := r.Find("alice", m.Session().Channel); got != m {
		t.Fatal("expected Find to return the manager for its channel")
	}
	if got := r.Find("alice", "no-such-channel"); got != nil {
		t.Fatal("expected nil for unknown channel")
	}
	if got := r.Find("bob", m.Session().Channel); got != nil {
		t.Fatal("expected nil for a user with no calls")
	}
}

func TestRegistryCount(t *testing.T) {
	r := NewRegistry()
	if got := r.Count(MediaAudio); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}

	r.Add(newIdleManager("alice", "bob", false))
	r.Add(newIdleManager("bob", "alice", false))
	r.Add(newIdleManager("carol", "dave", true))

	if got := r.Count(MediaAudio); got != 2 {
		t.Fatalf("expected 2 audio calls, got %d", got)
	}
	if got := r.Count(MediaVideo); got != 1 {
		t.Fatalf("expected 1 video call, got %d", got)
	}
}
