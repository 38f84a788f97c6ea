// Package rtc defines the contract with the third-party real-time media SDK.
// The engine itself is an external capability and is not reimplemented here;
// call managers drive it through the Engine interface and consume its
// delegate callbacks as Event values.
package rtc

// ChannelProfile selects the media profile used when initializing a channel.
type ChannelProfile int

const (
	ProfileCommunication ChannelProfile = iota
	ProfileLiveBroadcast
)

// Config holds the vendor SDK parameters needed to join a channel.
type Config struct {
	AppID   string
	Profile ChannelProfile
}

// EventType identifies an engine delegate callback.
type EventType int

const (
	// EventPeerJoined fires when the remote party joined the channel.
	EventPeerJoined EventType = iota
	// EventPeerOffline fires when the remote party left or dropped.
	EventPeerOffline
	// EventRemoteAudioState fires when the remote audio stream changes state.
	EventRemoteAudioState
	// EventRemoteVideoState fires when the remote video stream changes state.
	EventRemoteVideoState
)

// StreamOffline is the stream-state value that indicates the remote stream
// stopped because the peer went offline.
const StreamOffline = "offline"

// Event is a single engine delegate callback delivered to the call manager.
type Event struct {
	Type    EventType
	PeerUID string
	// State carries the stream state for EventRemoteAudioState and
	// EventRemoteVideoState ("offline", "decoding", "frozen", ...).
	State string
	// Enabled reports the remote video toggle for EventRemoteVideoState.
	Enabled bool
}

// Engine is the process-side handle on the media SDK for one call. Exactly
// one call of a given media type owns an engine at a time.
type Engine interface {
	// Join connects the local party to the media channel.
	Join(token, channel, uid string) error
	// Leave disconnects from the media channel.
	Leave() error
	// EnableAudio turns on the audio pipeline.
	EnableAudio() error
	// EnableVideo turns on the video pipeline (video calls only).
	EnableVideo() error
	// SetLocalVideo toggles publication of the local video stream.
	SetLocalVideo(enabled bool) error
	// Destroy releases the engine instance. The engine must not be used
	// after Destroy returns.
	Destroy()
}

// Factory builds an engine for a call. Production wiring supplies the vendor
// SDK binding; deployments that run media purely client-side use NewNull.
type Factory func(cfg Config) Engine
