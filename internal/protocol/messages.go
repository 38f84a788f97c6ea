// Package protocol defines the WebSocket message types and structures used for
// communication between the mobile client and the call server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeIdentify    = "identify"
	TypeCallStart   = "call_start"
	TypeCallAnswer  = "call_answer"
	TypeCallDecline = "call_decline"
	TypeCallHangup  = "call_hangup"
	TypeVideoToggle = "video_toggle"
	TypeRTCReport   = "rtc_report"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeIdentified   = "identified"
	TypeCallIncoming = "call_incoming"
	TypeCallRinging  = "call_ringing"
	TypeCallActive   = "call_active"
	TypeCallTick     = "call_tick"
	TypeCallEnded    = "call_ended"
	TypeCallRejected = "call_rejected"
	TypeRateLimited  = "rate_limited"
	TypeError        = "error"
	TypePong         = "pong"
)

// RTC report event names accepted in RTCReportMsg.Event.
const (
	RTCPeerJoined   = "peer_joined"
	RTCPeerOffline  = "peer_offline"
	RTCAudioOffline = "audio_offline"
	RTCVideoOffline = "video_offline"
	RTCVideoState   = "video_state"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// IdentifyMsg binds the WebSocket connection to an authenticated user. The
// token is the caller's identity token; validation happens at the gateway.
type IdentifyMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// CallStartMsg is sent by the client to initiate an outgoing call.
type CallStartMsg struct {
	Type     string `json:"type"`
	CalleeID string `json:"callee_id"`
	Video    bool   `json:"video"`
}

// CallAnswerMsg is sent by the callee to answer a surfaced incoming call.
type CallAnswerMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// CallDeclineMsg is sent by the callee to decline a surfaced incoming call.
type CallDeclineMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// CallHangupMsg is sent by either side to end the call.
type CallHangupMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// VideoToggleMsg toggles the sender's local video stream on or off.
type VideoToggleMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Enabled bool   `json:"enabled"`
}

// RTCReportMsg carries a media-engine delegate event observed by the client
// SDK (peer joined the channel, peer went offline, remote stream state).
type RTCReportMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Event   string `json:"event"`
	PeerID  string `json:"peer_id"`
	Enabled bool   `json:"enabled,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server when the WebSocket connection is
// established, before the client has identified itself.
type ConnectedMsg struct {
	Type   string `json:"type"`
	ConnID string `json:"conn_id"`
}

// IdentifiedMsg acknowledges a successful identify.
type IdentifiedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// CallIncomingMsg surfaces an incoming call to the callee. The callee must
// answer or decline; the server never auto-joins.
type CallIncomingMsg struct {
	Type       string `json:"type"`
	Channel    string `json:"channel"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name"`
	Video      bool   `json:"video"`
}

// CallRingingMsg confirms to the caller that signaling records were written
// and the call is ringing on the remote side.
type CallRingingMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Timeout int    `json:"timeout"` // ring timeout in seconds
}

// CallActiveMsg tells both parties the call is connected and billing ticks
// have started.
type CallActiveMsg struct {
	Type             string `json:"type"`
	Channel          string `json:"channel"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// CallTickMsg is the per-second countdown update while the call is active.
type CallTickMsg struct {
	Type             string `json:"type"`
	Channel          string `json:"channel"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// CallEndedMsg tells the client the call is over and all resources released.
type CallEndedMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Reason  string `json:"reason"` // "hangup", "declined", "remote_ended", "timeout", "ring_timeout"
}

// CallRejectedMsg is sent when a call could not be started (callee busy,
// concurrent call of the same media type, no remaining time budget).
type CallRejectedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// RateLimitedMsg is sent when the client exceeded a call-attempt limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeIdentify:
		var m IdentifyMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallStart:
		var m CallStartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallAnswer:
		var m CallAnswerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallDecline:
		var m CallDeclineMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallHangup:
		var m CallHangupMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoToggle:
		var m VideoToggleMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRTCReport:
		var m RTCReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
