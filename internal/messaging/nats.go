// Package messaging provides a NATS client wrapper for pub/sub messaging
// across ChatHub services. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for the call signaling, RTC event,
// push notification, and subscription channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across ChatHub services.
const (
	SubjectCallSignal  = "call.signal"          // + .<uid> (signaling record updates)
	SubjectCallRTC     = "call.rtc"             // + .<channel> (engine delegate events)
	SubjectPushNotify  = "notify.push"          // + .<uid> (push notification payloads)
	SubjectSubUpdated  = "subscription.updated" // + .<uid>
	SubjectSubSyncKick = "subscription.sync"    // wake the sync daemon
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chathub",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishSignal publishes a participant's updated signaling record to its
// watch subject. Satisfies signaling.Publisher.
func (c *NATSClient) PublishSignal(uid string, data []byte) error {
	return c.Publish(SubjectCallSignal+"."+uid, data)
}

// SubscribeSignal watches a participant's signaling record. The handler
// receives the raw record payload on every signaling write for that uid.
func (c *NATSClient) SubscribeSignal(uid string, handler func(data []byte)) error {
	subject := SubjectCallSignal + "." + uid
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeSignal removes a participant's signaling watch.
func (c *NATSClient) UnsubscribeSignal(uid string) error {
	return c.unsubscribe(SubjectCallSignal + "." + uid)
}

// PublishRTCEvent publishes an engine delegate event observed for a channel.
func (c *NATSClient) PublishRTCEvent(channel string, data []byte) error {
	return c.Publish(SubjectCallRTC+"."+channel, data)
}

// SubscribeRTCEvents subscribes to engine delegate events for a channel. The
// subscription is keyed by uid so both participants on the same server can
// watch the same channel without overwriting each other.
func (c *NATSClient) SubscribeRTCEvents(channel, uid string, handler func(data []byte)) error {
	subject := SubjectCallRTC + "." + channel
	key := "rtcsub:" + uid
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeRTCEvents removes a participant's RTC event subscription.
func (c *NATSClient) UnsubscribeRTCEvents(uid string) error {
	return c.unsubscribe("rtcsub:" + uid)
}

// PublishPush publishes a push notification payload for a user.
func (c *NATSClient) PublishPush(uid string, data []byte) error {
	return c.Publish(SubjectPushNotify+"."+uid, data)
}

// PublishSubscriptionUpdated announces a reconciled subscription change.
func (c *NATSClient) PublishSubscriptionUpdated(uid string, data []byte) error {
	return c.Publish(SubjectSubUpdated+"."+uid, data)
}

// SubscribeSubscriptionUpdated subscribes to reconciled subscription changes
// for all users.
func (c *NATSClient) SubscribeSubscriptionUpdated(handler func(uid string, data []byte)) error {
	subject := SubjectSubUpdated + ".>"
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject[len(SubjectSubUpdated)+1:], msg.Data)
	})
}

// PublishSyncKick wakes the subscription sync daemon for an immediate retry
// pass instead of waiting out the backoff timer.
func (c *NATSClient) PublishSyncKick() error {
	return c.Publish(SubjectSubSyncKick, nil)
}

// SubscribeSyncKick subscribes to sync wake-ups.
func (c *NATSClient) SubscribeSyncKick(handler func()) error {
	return c.Subscribe(SubjectSubSyncKick, func(_ *nats.Msg) {
		handler()
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
