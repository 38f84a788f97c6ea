package call

import (
	"context"
	"sync"
	"testing"

	"github.com/chathub/backend/internal/rtc"
	"github.com/chathub/backend/internal/signaling"
)

type fakeSignals struct {
	mu           sync.Mutex
	startCalls   int
	endedCalls   int
	answerResult int
	answerErr    error
	startErr     error
}

func (f *fakeSignals) WriteStart(ctx context.Context, channel, callerUID, callerName, calleeUID string, isAudio bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.startCalls++
	return nil
}

func (f *fakeSignals) MarkEnded(ctx context.Context, uidA, uidB string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endedCalls++
	return nil
}

func (f *fakeSignals) Answer(ctx context.Context, calleeUID, channel string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answerResult, f.answerErr
}

func (f *fakeSignals) ended() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endedCalls
}

type fakeWatch struct {
	mu      sync.Mutex
	handler func(data []byte)
	unsubs  int
}

func (f *fakeWatch) SubscribeSignal(uid string, handler func(data []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

func (f *fakeWatch) UnsubscribeSignal(uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs++
	return nil
}

func (f *fakeWatch) emit(rec *signaling.Record) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(rec.Encode())
	}
}

type fakePresence struct {
	mu   sync.Mutex
	sets []bool
}

func (f *fakePresence) SetOnCallBoth(ctx context.Context, uidA, uidB string, onCall bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, onCall)
	return nil
}

type fakeBudget struct {
	mu        sync.Mutex
	remaining int
	deducted  map[string]int
}

func (f *fakeBudget) Remaining(ctx context.Context, uid string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining, nil
}

func (f *fakeBudget) DeductSecond(uid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deducted == nil {
		f.deducted = make(map[string]int)
	}
	f.deducted[uid]++
}

func (f *fakeBudget) deductedFor(uid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deducted[uid]
}

type fakeNotify struct {
	mu       sync.Mutex
	incoming int
	ended    int
}

func (f *fakeNotify) CallIncoming(calleeUID, channel, callerUID, callerName string, video bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming++
}

func (f *fakeNotify) CallEnded(uid, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
}

type fakeEngine struct {
	mu        sync.Mutex
	joined    bool
	left      bool
	destroyed bool
}

func (f *fakeEngine) Join(token, channel, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = true
	return nil
}

func (f *fakeEngine) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = true
	return nil
}

func (f *fakeEngine) EnableAudio() error         { return nil }
func (f *fakeEngine) EnableVideo() error         { return nil }
func (f *fakeEngine) SetLocalVideo(b bool) error { return nil }

func (f *fakeEngine) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

type recordingObserver struct {
	mu      sync.Mutex
	ringing int
	active  int
	ticks   []int
	ends    []string
}

func (o *recordingObserver) OnRinging(*Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ringing++
}

func (o *recordingObserver) OnActive(*Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active++
}

func (o *recordingObserver) OnTick(_ *Session, remaining int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks = append(o.ticks, remaining)
}

func (o *recordingObserver) OnRemoteVideo(*Session, bool) {}

func (o *recordingObserver) OnEnded(_ *Session, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ends = append(o.ends, reason)
}

func (o *recordingObserver) endReasons() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ends...)
}

type testRig struct {
	signals  *fakeSignals
	watch    *fakeWatch
	presence *fakePresence
	budget   *fakeBudget
	notify   *fakeNotify
	engine   *fakeEngine
	observer *recordingObserver
}

func newTestRig(budget int) *testRig {
	return &testRig{
		signals:  &fakeSignals{answerResult: 1},
		watch:    &fakeWatch{},
		presence: &fakePresence{},
		budget:   &fakeBudget{remaining: budget},
		notify:   &fakeNotify{},
		engine:   &fakeEngine{},
		observer: &recordingObserver{},
	}
}

func (r *testRig) deps() Deps {
	return Deps{
		Signals:  r.signals,
		Watch:    r.watch,
		Presence: r.presence,
		Budget:   r.budget,
		Notify:   r.notify,
		Engine:   func(rtc.Config) rtc.Engine { return r.engine },
		Observer: r.observer,
	}
}

func TestOutgoingCallHappyPath(t *testing.T) {
	rig := newTestRig(120)
	m := NewOutgoing(rig.deps(), "alice", "Alice", "bob", "Bob", false)

	if m.Session().Phase() != PhaseIdle {
		t.Fatalf("expected idle before start, got %s", m.Session().Phase())
	}

	if err := m.StartOutgoing(context.Background()); err != nil {
		t.Fatalf("StartOutgoing: %v", err)
	}
	if m.Session().Phase() != PhaseRinging {
		t.Fatalf("expected ringing after start, got %s", m.Session().Phase())
	}
	if rig.signals.startCalls != 1 {
		t.Fatalf("expected 1 signaling start write, got %d", rig.signals.startCalls)
	}
	if rig.notify.incoming != 1 {
		t.Fatalf("expected 1 incoming notification, got %d", rig.notify.incoming)
	}
	if rig.observer.ringing != 1 {
		t.Fatalf("expected 1 OnRinging, got %d", rig.observer.ringing)
	}

	m.HandleEngineEvent(rtc.Event{Type: rtc.EventPeerJoined})
	if m.Session().Phase() != PhaseActive {
		t.Fatalf("expected active after peer joined, got %s", m.Session().Phase())
	}
	if got := m.Session().RemainingSeconds(); got != 120 {
		t.Fatalf("expected countdown seeded to 120, got %d", got)
	}

	m.tick()
	if got := m.Session().RemainingSeconds(); got != 119 {
		t.Fatalf("expected 119 after one tick, got %d", got)
	}
	if got := rig.budget.deductedFor("alice"); got != 1 {
		t.Fatalf("expected 1 deduction for caller, got %d", got)
	}

	if err := m.Hangup(context.Background()); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if m.Session().Phase() != PhaseEnded {
		t.Fatalf("expected ended after hangup, got %s", m.Session().Phase())
	}
	if !rig.engine.left || !rig.engine.destroyed {
		t.Fatal("expected engine left and destroyed on teardown")
	}
	if rig.signals.ended() != 1 {
		t.Fatalf("expected 1 mark-ended write, got %d", rig.signals.ended())
	}
	if reasons := rig.observer.endReasons(); len(reasons) != 1 || reasons[0] != ReasonHangup {
		t.Fatalf("expected single hangup end, got %v", reasons)
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	rig := newTestRig(60)
	m := NewOutgoing(rig.deps(), "alice", "Alice", "bob", "Bob", true)

	if err := m.StartOutgoing(context.Background()); err != nil {
		t.Fatalf("StartOutgoing: %v", err)
	}
	m.HandleEngineEvent(rtc.Event{Type: rtc.EventPeerJoined})

	// Local hangup, a racing remote-ended signal, and an engine drop all
	// converge on the same teardown.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		n := i
		go func() {
			defer wg.Done()
			switch n {
			case 0:
				m.Hangup(context.Background())
			case 1:
				rig.watch.emit(&signaling.Record{ChannelName: m.Session().Channel, CallEnded: true})
			case 2:
				m.HandleEngineEvent(rtc.Event{Type: rtc.EventPeerOffline})
			}
		}()
	}
	wg.Wait()

	if reasons := rig.observer.endReasons(); len(reasons) != 1 {
		t.Fatalf("expected OnEnded exactly once, got %v", reasons)
	}
	if rig.signals.ended() != 1 {
		t.Fatalf("expected 1 mark-ended write, got %d", rig.signals.ended())
	}
	if m.Session().Phase() != PhaseEnded {
		t.Fatalf("expected ended, got %s", m.Session().Phase())
	}
}

func TestCountdownExhaustionEndsCall(t *testing.T) {
	rig := newTestRig(3)
	m := NewOutgoing(rig.deps(), "alice", "Alice", "bob", "Bob", false)

	if err := m.StartOutgoing(context.Background()); err != nil {
		t.Fatalf("StartOutgoing: %v", err)
	}
	m.HandleEngineEvent(rtc.Event{Type: rtc.EventPeerJoined})

	for i := 0; i < 5; i++ {
		m.tick()
	}

	if m.Session().Phase() != PhaseEnded {
		t.Fatalf("expected ended after budget exhausted, got %s", m.Session().Phase())
	}
	if reasons := rig.observer.endReasons(); len(reasons) != 1 || reasons[0] != ReasonTimeout {
		t.Fatalf("expected single timeout end, got %v", reasons)
	}
	// Ticks past teardown must not keep billing.
	if got := rig.budget.deductedFor("alice"); got != 3 {
		t.Fatalf("expected 3 deductions, got %d", got)
	}
	if got := m.Session().RemainingSeconds(); got != 0 {
		t.Fatalf("expected remaining clamped to 0, got %d", got)
	}
}

func TestRemoteHangupWhileRinging(t *testing.T) {
	rig := newTestRig(60)
	m := NewOutgoing(rig.deps(), "alice", "Alice", "bob", "Bob", false)

	if err := m.StartOutgoing(context.Background()); err != nil {
		t.Fatalf("StartOutgoing: %v", err)
	}

	rig.watch.emit(&signaling.Record{ChannelName: m.Session().Channel, CallEnded: true})

	if m.Session().Phase() != PhaseEnded {
		t.Fatalf("expected ended after remote hangup, got %s", m.Session().Phase())
	}
	if reasons := rig.observer.endReasons(); len(reasons) != 1 || reasons[0] != ReasonRemoteEnded {
		t.Fatalf("expected remote_ended, got %v", reasons)
	}

	// A late peer-joined event must not revive the ended session.
	m.HandleEngineEvent(rtc.Event{Type: rtc.EventPeerJoined})
	if m.Session().Phase() != PhaseEnded {
		t.Fatalf("session revived after teardown: %s", m.Session().Phase())
	}
	if rig.observer.active != 0 {
		t.Fatalf("expected no activation after teardown, got %d", rig.observer.active)
	}
}

func TestAnswerOnLiveCall(t *testing.T) {
	rig := newTestRig(60)
	rec := &signaling.Record{ChannelName: "ch-1", CallerUID: "alice", CallerName: "Alice", IncomingCall: true, IsAudio: true}
	m := NewIncoming(rig.deps(), "bob", "Bob", rec)

	if m.Session().Phase() != PhaseRinging {
		t.Fatalf("expected incoming session ringing, got %s", m.Session().Phase())
	}

	if err := m.Answer(context.Background()); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if m.Session().Phase() != PhaseConnecting {
		t.Fatalf("expected connecting after answer, got %s", m.Session().Phase())
	}
	if !rig.engine.joined {
		t.Fatal("expected engine joined on answer")
	}
}

func TestAnswerAfterCallerHungUp(t *testing.T) {
	rig := newTestRig(60)
	rig.signals.answerResult = -2
	rec := &signaling.Record{ChannelName: "ch-1", CallerUID: "alice", CallerName: "Alice", IncomingCall: true, IsAudio: true}
	m := NewIncoming(rig.deps(), "bob", "Bob", rec)

	if err := m.Answer(context.Background()); err != ErrCallGone {
		t.Fatalf("expected ErrCallGone, got %v", err)
	}
	if m.Session().Phase() != PhaseEnded {
		t.Fatalf("expected ended after stale answer, got %s", m.Session().Phase())
	}
	if rig.engine.joined {
		t.Fatal("must not join the media channel of an ended call")
	}
	if reasons := rig.observer.endReasons(); len(reasons) != 1 || reasons[0] != ReasonRemoteEnded {
		t.Fatalf("expected remote_ended, got %v", reasons)
	}
}

func TestDeclineIncoming(t *testing.T) {
	rig := newTestRig(60)
	rec := &signaling.Record{ChannelName: "ch-1", CallerUID: "alice", CallerName: "Alice", IncomingCall: true}
	m := NewIncoming(rig.deps(), "bob", "Bob", rec)

	if err := m.Decline(context.Background()); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if m.Session().Phase() != PhaseEnded {
		t.Fatalf("expected ended after decline, got %s", m.Session().Phase())
	}
	if rig.signals.ended() != 1 {
		t.Fatalf("expected mark-ended write on decline, got %d", rig.signals.ended())
	}
	if reasons := rig.observer.endReasons(); len(reasons) != 1 || reasons[0] != ReasonDeclined {
		t.Fatalf("expected declined, got %v", reasons)
	}
}

func TestStartWithoutBudgetIsRejected(t *testing.T) {
	rig := newTestRig(0)
	m := NewOutgoing(rig.deps(), "alice", "Alice", "bob", "Bob", false)

	if err := m.StartOutgoing(context.Background()); err != ErrNoBudget {
		t.Fatalf("expected ErrNoBudget, got %v", err)
	}
	if m.Session().Phase() != PhaseIdle {
		t.Fatalf("expected session untouched, got %s", m.Session().Phase())
	}
	if rig.signals.startCalls != 0 {
		t.Fatalf("expected no signaling write, got %d", rig.signals.startCalls)
	}
}

func TestIncomingSideDoesNotBill(t *testing.T) {
	rig := newTestRig(30)
	rec := &signaling.Record{ChannelName: "ch-1", CallerUID: "alice", CallerName: "Alice"}
	m := NewIncoming(rig.deps(), "bob", "Bob", rec)

	if err := m.Answer(context.Background()); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	m.HandleEngineEvent(rtc.Event{Type: rtc.EventPeerJoined})
	m.tick()
	m.tick()

	if got := rig.budget.deductedFor("bob"); got != 0 {
		t.Fatalf("callee must not be billed, got %d deductions", got)
	}
	if got := m.Session().RemainingSeconds(); got != 28 {
		t.Fatalf("expected callee countdown to track, got %d", got)
	}
}

func TestRemoteVideoToggle(t *testing.T) {
	rig := newTestRig(60)
	m := NewOutgoing(rig.deps(), "alice", "Alice", "bob", "Bob", true)

	if err := m.StartOutgoing(context.Background()); err != nil {
		t.Fatalf("StartOutgoing: %v", err)
	}
	m.HandleEngineEvent(rtc.Event{Type: rtc.EventPeerJoined})

	m.HandleEngineEvent(rtc.Event{Type: rtc.EventRemoteVideoState, State: "decoding", Enabled: false})
	if m.Session().RemoteVideoEnabled() {
		t.Fatal("expected remote video off")
	}

	m.HandleEngineEvent(rtc.Event{Type: rtc.EventRemoteVideoState, State: "decoding", Enabled: true})
	if !m.Session().RemoteVideoEnabled() {
		t.Fatal("expected remote video on")
	}

	// A stream going offline means the peer dropped.
	m.HandleEngineEvent(rtc.Event{Type: rtc.EventRemoteVideoState, State: rtc.StreamOffline})
	if m.Session().Phase() != PhaseEnded {
		t.Fatalf("expected ended on stream offline, got %s", m.Session().Phase())
	}
}
