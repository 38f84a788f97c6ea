// Package call implements the per-call session state machine: signaling
// setup, media engine lifecycle, the per-second countdown that bills call
// time, and an idempotent teardown that may be raced by local hangup, remote
// hangup, and engine disconnect events.
package call

import "sync"

// Phase constants for the call session state machine. Ended is terminal; a
// fresh session must be constructed for a new call.
const (
	PhaseIdle       = "idle"
	PhaseRinging    = "ringing"
	PhaseConnecting = "connecting"
	PhaseActive     = "active"
	PhaseEnding     = "ending"
	PhaseEnded      = "ended"
)

// Direction of a call relative to the local party.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// Media type of a call.
const (
	MediaAudio = "audio"
	MediaVideo = "video"
)

// Teardown reasons reported to the observer and to clients.
const (
	ReasonHangup      = "hangup"
	ReasonDeclined    = "declined"
	ReasonRemoteEnded = "remote_ended"
	ReasonPeerOffline = "peer_offline"
	ReasonTimeout     = "timeout"      // countdown exhausted
	ReasonRingTimeout = "ring_timeout" // never answered
)

// Session is the in-memory state of one call. It is never persisted; the
// signaling record is the durable source of truth for "call ended".
type Session struct {
	Channel   string
	PeerID    string
	PeerName  string
	Direction string
	Media     string

	mu               sync.RWMutex
	phase            string
	remainingSeconds int
	localVideo       bool
	remoteVideo      bool
}

// NewSession creates a session in the idle phase.
func NewSession(channel, peerID, peerName, direction, media string) *Session {
	return &Session{
		Channel:     channel,
		PeerID:      peerID,
		PeerName:    peerName,
		Direction:   direction,
		Media:       media,
		phase:       PhaseIdle,
		localVideo:  media == MediaVideo,
		remoteVideo: media == MediaVideo,
	}
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) setPhase(p string) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// RemainingSeconds returns the current countdown value. It is clamped at
// zero for display even if the final tick overshot.
func (s *Session) RemainingSeconds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.remainingSeconds < 0 {
		return 0
	}
	return s.remainingSeconds
}

func (s *Session) seedCountdown(seconds int) {
	s.mu.Lock()
	s.remainingSeconds = seconds
	s.mu.Unlock()
}

// decrement takes one second off the countdown and returns the new value
// (possibly negative internally; RemainingSeconds clamps for display).
func (s *Session) decrement() int {
	s.mu.Lock()
	s.remainingSeconds--
	v := s.remainingSeconds
	s.mu.Unlock()
	return v
}

// LocalVideoEnabled reports the local video toggle (video calls only).
func (s *Session) LocalVideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localVideo
}

func (s *Session) setLocalVideo(enabled bool) {
	s.mu.Lock()
	s.localVideo = enabled
	s.mu.Unlock()
}

// RemoteVideoEnabled reports the remote video toggle (video calls only).
func (s *Session) RemoteVideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteVideo
}

func (s *Session) setRemoteVideo(enabled bool) {
	s.mu.Lock()
	s.remoteVideo = enabled
	s.mu.Unlock()
}

// Observer receives session lifecycle callbacks. It replaces the UI delegate
// protocol of the mobile app: the gateway implements it to push events to
// the client connection. Callbacks may fire from watcher, engine, and timer
// goroutines; implementations must be safe for concurrent use.
type Observer interface {
	// OnRinging fires when signaling is written and the call is ringing.
	OnRinging(s *Session)
	// OnActive fires when the peer joined the media channel. The client
	// stops its ringback tone on this event.
	OnActive(s *Session)
	// OnTick fires once per second while active, after the countdown
	// decrement and billing deduction.
	OnTick(s *Session, remaining int)
	// OnRemoteVideo fires when the remote party toggles their video stream.
	OnRemoteVideo(s *Session, enabled bool)
	// OnEnded fires exactly once, after all resources are released.
	OnEnded(s *Session, reason string)
}

// NopObserver is an Observer that ignores every event.
type NopObserver struct{}

func (NopObserver) OnRinging(*Session)           {}
func (NopObserver) OnActive(*Session)            {}
func (NopObserver) OnTick(*Session, int)         {}
func (NopObserver) OnRemoteVideo(*Session, bool) {}
func (NopObserver) OnEnded(*Session, string)     {}
