package rtc

import "log"

// Null is an Engine that performs no media work. It is used when media flows
// directly between clients through the vendor SDK and the backend only
// coordinates signaling; delegate events then arrive via client rtc_report
// messages instead of local SDK callbacks.
type Null struct {
	channel string
	uid     string
}

// NewNull returns a Null engine factory.
func NewNull() Factory {
	return func(cfg Config) Engine {
		return &Null{}
	}
}

// Join records the channel for logging and always succeeds.
func (n *Null) Join(token, channel, uid string) error {
	n.channel = channel
	n.uid = uid
	log.Printf("[rtc] null engine join channel=%s uid=%s", channel, uid)
	return nil
}

// Leave always succeeds.
func (n *Null) Leave() error {
	log.Printf("[rtc] null engine leave channel=%s uid=%s", n.channel, n.uid)
	return nil
}

// EnableAudio is a no-op.
func (n *Null) EnableAudio() error { return nil }

// EnableVideo is a no-op.
func (n *Null) EnableVideo() error { return nil }

// SetLocalVideo is a no-op.
func (n *Null) SetLocalVideo(enabled bool) error { return nil }

// Destroy is a no-op.
func (n *Null) Destroy() {}
