// Package signaling manages the durable per-participant call signaling
// records used to coordinate call start and end out-of-band from the RTC
// media channel. One record exists per participant; call_ended=true is the
// sole authoritative hangup signal consumed by both sides' watchers.
package signaling

import "encoding/json"

// Record is the signaling document stored under each participant's identity.
type Record struct {
	ChannelName  string `json:"channel_name" redis:"channel_name"`
	CallerName   string `json:"caller_name" redis:"caller_name"`
	CallerUID    string `json:"caller_uid" redis:"caller_uid"`
	IncomingCall bool   `json:"incoming_call" redis:"incoming_call"`
	IsAudio      bool   `json:"is_audio" redis:"is_audio"`
	CallEnded    bool   `json:"call_ended" redis:"call_ended"`
}

// IsCall reports whether the record describes a live call. Records with an
// empty channel name are malformed and treated as "no call".
func (r *Record) IsCall() bool {
	return r != nil && r.ChannelName != "" && !r.CallEnded
}

// IsIncomingCall reports whether the record should surface an answer/decline
// choice on the receiver side.
func (r *Record) IsIncomingCall() bool {
	return r.IsCall() && r.IncomingCall
}

// Encode serializes the record for publication on the signal watch subject.
func (r *Record) Encode() []byte {
	data, _ := json.Marshal(r)
	return data
}

// Decode parses a published signal payload. Returns nil on malformed input
// so watchers can ignore it silently.
func Decode(data []byte) *Record {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	return &r
}
