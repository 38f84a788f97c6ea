package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chathub/backend/internal/rtc"
	"github.com/chathub/backend/internal/signaling"
)

const (
	// RingTimeout bounds how long an unanswered call keeps ringing before
	// the caller side tears it down.
	RingTimeout = 60 * time.Second

	// teardownTimeout bounds the Redis writes performed during teardown.
	teardownTimeout = 3 * time.Second
)

var (
	// ErrNoBudget is returned when the caller has no call seconds left.
	ErrNoBudget = errors.New("call: no remaining call seconds")

	// ErrCallGone is returned by Answer when the signaling record no longer
	// describes the expected live call.
	ErrCallGone = errors.New("call: no such live call")

	// ErrTerminal is returned by operations invoked after the session
	// reached a terminal phase.
	ErrTerminal = errors.New("call: session already ended")
)

// Signaler is the slice of the signaling store the manager drives.
type Signaler interface {
	WriteStart(ctx context.Context, channel, callerUID, callerName, calleeUID string, isAudio bool) error
	MarkEnded(ctx context.Context, uidA, uidB string) error
	Answer(ctx context.Context, calleeUID, channel string) (int, error)
}

// SignalWatcher delivers signaling record updates for a participant.
// Implemented by the NATS messaging client.
type SignalWatcher interface {
	SubscribeSignal(uid string, handler func(data []byte)) error
	UnsubscribeSignal(uid string) error
}

// Presence flags both participants as on-call for the duration of the call.
type Presence interface {
	SetOnCallBoth(ctx context.Context, uidA, uidB string, onCall bool) error
}

// Budget reads and bills the payer's call-seconds budget. The caller pays;
// deduction happens only on the outgoing side so a call is billed once.
type Budget interface {
	Remaining(ctx context.Context, uid string) (int, error)
	DeductSecond(uid string)
}

// Notifier posts and clears the callee's incoming-call push notification.
type Notifier interface {
	CallIncoming(calleeUID, channel, callerUID, callerName string, video bool)
	CallEnded(uid, channel string)
}

// Deps bundles the collaborators a manager drives. Observer may be nil.
type Deps struct {
	Signals  Signaler
	Watch    SignalWatcher
	Presence Presence
	Budget   Budget
	Notify   Notifier
	Engine   rtc.Factory
	RTCConf  rtc.Config
	Observer Observer
}

// Manager runs the state machine for one call session on behalf of one local
// participant. Managers are single-use: once the session reaches the ended
// phase the manager is inert.
type Manager struct {
	deps Deps

	localUID  string
	localName string
	session   *Session

	mu        sync.Mutex
	tornDown  bool
	engine    rtc.Engine
	ringTimer *time.Timer
	tickStop  chan struct{}
	startedAt time.Time
	activeAt  time.Time
}

// NewOutgoing builds a manager for a call the local party is placing. The
// channel name is minted here; nothing is written until StartOutgoing.
func NewOutgoing(deps Deps, localUID, localName, calleeUID, calleeName string, video bool) *Manager {
	media := MediaAudio
	if video {
		media = MediaVideo
	}
	return newManager(deps, localUID, localName,
		NewSession(uuid.New().String(), calleeUID, calleeName, DirectionOutgoing, media))
}

// NewIncoming builds a manager for a call surfaced by the local party's
// signaling record. The session starts ringing: the record already exists,
// written by the caller side.
func NewIncoming(deps Deps, localUID, localName string, rec *signaling.Record) *Manager {
	media := MediaVideo
	if rec.IsAudio {
		media = MediaAudio
	}
	m := newManager(deps, localUID, localName,
		NewSession(rec.ChannelName, rec.CallerUID, rec.CallerName, DirectionIncoming, media))
	m.session.setPhase(PhaseRinging)
	return m
}

func newManager(deps Deps, localUID, localName string, s *Session) *Manager {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	return &Manager{
		deps:      deps,
		localUID:  localUID,
		localName: localName,
		session:   s,
	}
}

// Session returns the session this manager runs.
func (m *Manager) Session() *Session {
	return m.session
}

// LocalUID returns the local participant's identity.
func (m *Manager) LocalUID() string {
	return m.localUID
}

// StartOutgoing places the call: checks the caller's budget, writes the
// signaling record pair, flags presence, notifies the callee, joins the
// media channel, and arms the ring timeout. On signaling failure nothing is
// retried and the session never leaves idle.
func (m *Manager) StartOutgoing(ctx context.Context) error {
	s := m.session
	if s.Direction != DirectionOutgoing {
		return fmt.Errorf("call: start on %s session", s.Direction)
	}
	if s.Phase() != PhaseIdle {
		return ErrTerminal
	}

	remaining, err := m.deps.Budget.Remaining(ctx, m.localUID)
	if err != nil {
		return fmt.Errorf("call: budget check: %w", err)
	}
	if remaining <= 0 {
		return ErrNoBudget
	}

	if err := m.deps.Signals.WriteStart(ctx, s.Channel, m.localUID, m.localName, s.PeerID, s.Media == MediaAudio); err != nil {
		return err
	}

	if err := m.deps.Presence.SetOnCallBoth(ctx, m.localUID, s.PeerID, true); err != nil {
		log.Printf("[call] presence set channel=%s: %v", s.Channel, err)
	}
	if m.deps.Notify != nil {
		m.deps.Notify.CallIncoming(s.PeerID, s.Channel, m.localUID, m.localName, s.Media == MediaVideo)
	}

	m.joinMedia()
	m.watchSignals()

	m.mu.Lock()
	m.startedAt = time.Now()
	m.ringTimer = time.AfterFunc(RingTimeout, func() {
		m.teardown(ReasonRingTimeout)
	})
	m.mu.Unlock()

	s.setPhase(PhaseRinging)
	m.deps.Observer.OnRinging(s)
	log.Printf("[call] started channel=%s caller=%s callee=%s media=%s", s.Channel, m.localUID, s.PeerID, s.Media)
	return nil
}

// Answer accepts a ringing incoming call. The signaling record is checked
// atomically first: if the caller already hung up, the session tears down
// with remote_ended instead of connecting to a dead channel.
func (m *Manager) Answer(ctx context.Context) error {
	s := m.session
	if s.Direction != DirectionIncoming {
		return fmt.Errorf("call: answer on %s session", s.Direction)
	}
	if s.Phase() != PhaseRinging {
		return ErrTerminal
	}

	result, err := m.deps.Signals.Answer(ctx, m.localUID, s.Channel)
	if err != nil {
		return err
	}
	switch result {
	case 1:
		// live call, proceed
	case -2:
		m.teardown(ReasonRemoteEnded)
		return ErrCallGone
	default:
		m.teardown(ReasonRemoteEnded)
		return ErrCallGone
	}

	m.joinMedia()
	m.watchSignals()

	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	s.setPhase(PhaseConnecting)
	log.Printf("[call] answered channel=%s callee=%s", s.Channel, m.localUID)
	return nil
}

// Decline rejects a ringing incoming call without joining the channel.
func (m *Manager) Decline(ctx context.Context) error {
	if m.session.Direction != DirectionIncoming {
		return fmt.Errorf("call: decline on %s session", m.session.Direction)
	}
	if m.session.Phase() != PhaseRinging {
		return ErrTerminal
	}
	m.teardown(ReasonDeclined)
	return nil
}

// Hangup ends the call from the local side, in any non-terminal phase.
func (m *Manager) Hangup(ctx context.Context) error {
	m.teardown(ReasonHangup)
	return nil
}

// ToggleLocalVideo switches publication of the local video stream.
func (m *Manager) ToggleLocalVideo(enabled bool) error {
	if m.session.Media != MediaVideo {
		return fmt.Errorf("call: video toggle on audio call")
	}
	m.mu.Lock()
	eng := m.engine
	m.mu.Unlock()
	if eng != nil {
		if err := eng.SetLocalVideo(enabled); err != nil {
			return err
		}
	}
	m.session.setLocalVideo(enabled)
	return nil
}

// HandleEngineEvent consumes one media engine delegate event. Peer joined
// activates the session; peer offline and stream-offline states tear it
// down; video state changes update the remote toggle.
func (m *Manager) HandleEngineEvent(ev rtc.Event) {
	switch ev.Type {
	case rtc.EventPeerJoined:
		m.activate()
	case rtc.EventPeerOffline:
		m.teardown(ReasonPeerOffline)
	case rtc.EventRemoteAudioState:
		if ev.State == rtc.StreamOffline {
			m.teardown(ReasonPeerOffline)
		}
	case rtc.EventRemoteVideoState:
		if ev.State == rtc.StreamOffline {
			m.teardown(ReasonPeerOffline)
			return
		}
		m.session.setRemoteVideo(ev.Enabled)
		m.deps.Observer.OnRemoteVideo(m.session, ev.Enabled)
	}
}

// activate moves the session to the active phase, seeds the countdown from
// the payer's budget, and starts the per-second tick loop. Events arriving
// outside ringing/connecting are ignored; activation is one-shot.
func (m *Manager) activate() {
	s := m.session
	switch s.Phase() {
	case PhaseRinging, PhaseConnecting:
	default:
		return
	}

	m.mu.Lock()
	if m.tornDown || m.tickStop != nil {
		m.mu.Unlock()
		return
	}
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	m.activeAt = time.Now()
	m.tickStop = make(chan struct{})
	stop := m.tickStop
	setup := m.activeAt.Sub(m.startedAt)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	payer := m.payerUID()
	remaining, err := m.deps.Budget.Remaining(ctx, payer)
	cancel()
	if err != nil {
		log.Printf("[call] budget seed channel=%s uid=%s: %v", s.Channel, payer, err)
		remaining = 0
	}
	s.seedCountdown(remaining)

	s.setPhase(PhaseActive)
	m.deps.Observer.OnActive(s)
	log.Printf("[call] active channel=%s setup=%s budget=%ds", s.Channel, setup.Round(time.Millisecond), remaining)

	go m.runTicker(stop)
}

// payerUID returns the identity billed for the call: the caller.
func (m *Manager) payerUID() string {
	if m.session.Direction == DirectionOutgoing {
		return m.localUID
	}
	return m.session.PeerID
}

func (m *Manager) runTicker(stop chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick runs one countdown step: decrement, bill the payer, report, and tear
// down when the budget is exhausted.
func (m *Manager) tick() {
	s := m.session
	if s.Phase() != PhaseActive {
		return
	}

	remaining := s.decrement()
	if m.session.Direction == DirectionOutgoing {
		m.deps.Budget.DeductSecond(m.localUID)
	}
	m.deps.Observer.OnTick(s, s.RemainingSeconds())

	if remaining <= 0 {
		m.teardown(ReasonTimeout)
	}
}

// HandleSignal consumes one published signaling record update for the local
// participant. Only call_ended matters: any live-call payload is the state
// this manager already owns. The gateway routes records here when it owns
// the per-user signal subscription; otherwise the manager's own watch does.
func (m *Manager) HandleSignal(data []byte) {
	rec := signaling.Decode(data)
	if rec == nil {
		return
	}
	if rec.CallEnded {
		m.teardown(ReasonRemoteEnded)
	}
}

// watchSignals subscribes the manager to its own signal subject. Deployments
// where the gateway already watches per-user signals leave Watch nil.
func (m *Manager) watchSignals() {
	if m.deps.Watch == nil {
		return
	}
	if err := m.deps.Watch.SubscribeSignal(m.localUID, m.HandleSignal); err != nil {
		log.Printf("[call] watch signals uid=%s: %v", m.localUID, err)
	}
}

func (m *Manager) joinMedia() {
	if m.deps.Engine == nil {
		return
	}
	s := m.session

	eng := m.deps.Engine(m.deps.RTCConf)
	if err := eng.EnableAudio(); err != nil {
		log.Printf("[call] enable audio channel=%s: %v", s.Channel, err)
	}
	if s.Media == MediaVideo {
		if err := eng.EnableVideo(); err != nil {
			log.Printf("[call] enable video channel=%s: %v", s.Channel, err)
		}
	}
	// Join failure is not fatal: the session keeps ringing and either the
	// peer's offline event or the ring timeout ends it.
	if err := eng.Join("", s.Channel, m.localUID); err != nil {
		log.Printf("[call] join channel=%s: %v", s.Channel, err)
	}

	m.mu.Lock()
	m.engine = eng
	m.mu.Unlock()
}

// teardown releases everything the session holds: the ring timer, the tick
// loop, the signal watch, the media engine, presence flags, and the callee's
// pending notification. It marks the signaling records ended so the remote
// side observes the hangup. Safe to call from any goroutine any number of
// times; only the first call does work.
func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.tornDown = true
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
	eng := m.engine
	m.engine = nil
	activeAt := m.activeAt
	m.mu.Unlock()

	s := m.session
	s.setPhase(PhaseEnding)

	if m.deps.Watch != nil {
		if err := m.deps.Watch.UnsubscribeSignal(m.localUID); err != nil {
			log.Printf("[call] unwatch signals uid=%s: %v", m.localUID, err)
		}
	}

	if eng != nil {
		if err := eng.Leave(); err != nil {
			log.Printf("[call] leave channel=%s: %v", s.Channel, err)
		}
		eng.Destroy()
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	// Marking ended is idempotent; doing it on every teardown path covers
	// timeouts and drops where neither side issued an explicit hangup.
	if err := m.deps.Signals.MarkEnded(ctx, m.localUID, s.PeerID); err != nil {
		log.Printf("[call] mark ended channel=%s: %v", s.Channel, err)
	}
	if err := m.deps.Presence.SetOnCallBoth(ctx, m.localUID, s.PeerID, false); err != nil {
		log.Printf("[call] presence clear channel=%s: %v", s.Channel, err)
	}
	if m.deps.Notify != nil {
		m.deps.Notify.CallEnded(m.localUID, s.Channel)
		m.deps.Notify.CallEnded(s.PeerID, s.Channel)
	}

	s.setPhase(PhaseEnded)
	if !activeAt.IsZero() {
		log.Printf("[call] ended channel=%s reason=%s talked=%s", s.Channel, reason, time.Since(activeAt).Round(time.Second))
	} else {
		log.Printf("[call] ended channel=%s reason=%s", s.Channel, reason)
	}
	m.deps.Observer.OnEnded(s, reason)
}
