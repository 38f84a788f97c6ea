// Package notify publishes push notification payloads for call events. The
// actual device delivery (APNs/FCM fan-out) is an external concern; this
// package only produces the payloads whose effect matters to call state:
// surfacing an incoming call and clearing it again on teardown.
package notify

import (
	"encoding/json"
	"log"
)

// Push payload kinds.
const (
	KindCallIncoming = "call_incoming"
	KindCallEnded    = "call_ended"
)

// Payload is the push notification body published per user. CollapseKey lets
// the delivery layer replace a pending incoming-call notification with the
// call-ended one, clearing it from the device.
type Payload struct {
	Kind        string `json:"kind"`
	Channel     string `json:"channel"`
	CallerID    string `json:"caller_id,omitempty"`
	CallerName  string `json:"caller_name,omitempty"`
	Video       bool   `json:"video,omitempty"`
	CollapseKey string `json:"collapse_key"`
}

// Publisher delivers a payload to a user's push channel. Implemented by the
// NATS messaging client's PublishPush.
type Publisher interface {
	PublishPush(uid string, data []byte) error
}

// Notifier publishes call push notifications.
type Notifier struct {
	pub Publisher
}

// New creates a Notifier over the given publisher. A nil publisher disables
// notifications.
func New(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// CallIncoming posts the incoming-call notification with answer/decline
// actions for the callee.
func (n *Notifier) CallIncoming(calleeUID, channel, callerUID, callerName string, video bool) {
	n.publish(calleeUID, Payload{
		Kind:        KindCallIncoming,
		Channel:     channel,
		CallerID:    callerUID,
		CallerName:  callerName,
		Video:       video,
		CollapseKey: "call:" + channel,
	})
}

// CallEnded clears the incoming-call notification for the channel. The shared
// collapse key replaces whatever is still pending on the device.
func (n *Notifier) CallEnded(uid, channel string) {
	n.publish(uid, Payload{
		Kind:        KindCallEnded,
		Channel:     channel,
		CollapseKey: "call:" + channel,
	})
}

func (n *Notifier) publish(uid string, p Payload) {
	if n.pub == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		log.Printf("[notify] marshal payload uid=%s: %v", uid, err)
		return
	}
	if err := n.pub.PublishPush(uid, data); err != nil {
		log.Printf("[notify] publish uid=%s kind=%s: %v", uid, p.Kind, err)
	}
}
