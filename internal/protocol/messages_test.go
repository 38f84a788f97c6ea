package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid call_start message
// ---------------------------------------------------------------------------

func TestParseClientMessage_CallStart(t *testing.T) {
	input := []byte(`{"type":"call_start","callee_id":"user-42","video":true}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeCallStart {
		t.Fatalf("expected type %q, got %q", TypeCallStart, msgType)
	}

	cs, ok := msg.(CallStartMsg)
	if !ok {
		t.Fatalf("expected CallStartMsg, got %T", msg)
	}
	if cs.CalleeID != "user-42" {
		t.Errorf("expected callee_id %q, got %q", "user-42", cs.CalleeID)
	}
	if !cs.Video {
		t.Error("expected video=true")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an identify message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Identify(t *testing.T) {
	input := []byte(`{"type":"identify","user_id":"user-1","name":"Alice","token":"tok"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeIdentify {
		t.Fatalf("expected type %q, got %q", TypeIdentify, msgType)
	}

	id, ok := msg.(IdentifyMsg)
	if !ok {
		t.Fatalf("expected IdentifyMsg, got %T", msg)
	}
	if id.UserID != "user-1" || id.Name != "Alice" {
		t.Errorf("unexpected identify fields: %+v", id)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an rtc_report message
// ---------------------------------------------------------------------------

func TestParseClientMessage_RTCReport(t *testing.T) {
	input := []byte(`{"type":"rtc_report","channel":"ch-1","event":"peer_joined","peer_id":"user-2"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeRTCReport {
		t.Fatalf("expected type %q, got %q", TypeRTCReport, msgType)
	}

	rm, ok := msg.(RTCReportMsg)
	if !ok {
		t.Fatalf("expected RTCReportMsg, got %T", msg)
	}
	if rm.Channel != "ch-1" || rm.Event != RTCPeerJoined || rm.PeerID != "user-2" {
		t.Errorf("unexpected report fields: %+v", rm)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a call_incoming server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_CallIncoming(t *testing.T) {
	payload := CallIncomingMsg{
		Channel:    "ch-99",
		CallerID:   "user-7",
		CallerName: "Bob",
		Video:      true,
	}

	data, err := NewServerMessage(TypeCallIncoming, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeCallIncoming {
		t.Errorf("expected type %q, got %v", TypeCallIncoming, result["type"])
	}
	if result["channel"] != "ch-99" {
		t.Errorf("expected channel %q, got %v", "ch-99", result["channel"])
	}
	if result["caller_id"] != "user-7" {
		t.Errorf("expected caller_id %q, got %v", "user-7", result["caller_id"])
	}
	if result["video"] != true {
		t.Errorf("expected video=true, got %v", result["video"])
	}
}

// ---------------------------------------------------------------------------
// Test: The injected type field wins over a stale payload type
// ---------------------------------------------------------------------------

func TestNewServerMessage_TypeInjection(t *testing.T) {
	data, err := NewServerMessage(TypeCallEnded, CallEndedMsg{
		Type:    "bogus",
		Channel: "ch-1",
		Reason:  "hangup",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeCallEnded {
		t.Errorf("expected injected type %q, got %v", TypeCallEnded, result["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed and unknown inputs
// ---------------------------------------------------------------------------

func TestParseClientMessage_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"invalid json", `{"type":"call_start"`},
		{"missing type", `{"callee_id":"user-1"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"teleport"}`},
		{"server-only type", `{"type":"call_ended"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tc.input)); err == nil {
				t.Fatalf("expected error for %s", tc.input)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope captures raw bytes for deferred decoding
// ---------------------------------------------------------------------------

func TestEnvelope_RawCapture(t *testing.T) {
	input := []byte(`{"type":"call_hangup","channel":"ch-5"}`)

	var env Envelope
	if err := json.Unmarshal(input, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeCallHangup {
		t.Fatalf("expected type %q, got %q", TypeCallHangup, env.Type)
	}

	var hm CallHangupMsg
	if err := json.Unmarshal(env.Raw, &hm); err != nil {
		t.Fatalf("failed to decode raw payload: %v", err)
	}
	if hm.Channel != "ch-5" {
		t.Errorf("expected channel %q, got %q", "ch-5", hm.Channel)
	}
}
