package signaling

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SignalPrefix is the Redis key prefix for all signaling record hashes.
	SignalPrefix = "signal:"

	// SignalTTL bounds how long a stale signaling record can linger. Records
	// are rewritten on every call start, so the TTL only matters for crashed
	// sessions that never reached teardown.
	SignalTTL = 6 * time.Hour
)

// Publisher pushes a participant's updated signaling record to its live
// watchers. Implemented by the NATS messaging client.
type Publisher interface {
	PublishSignal(uid string, data []byte) error
}

// Store manages signaling records in Redis. Writes are batched so that both
// participants' records change together, and every write is published to the
// participants' watch subjects.
type Store struct {
	rdb          *redis.Client
	pub          Publisher
	answerScript *redis.Script
}

// NewStore creates a signaling store backed by the given Redis client. The
// publisher may be nil, in which case writes are durable but not announced.
func NewStore(rdb *redis.Client, pub Publisher) *Store {
	return &Store{
		rdb:          rdb,
		pub:          pub,
		answerScript: redis.NewScript(answerCallLua),
	}
}

func recordFields(r *Record) map[string]interface{} {
	return map[string]interface{}{
		"channel_name":  r.ChannelName,
		"caller_name":   r.CallerName,
		"caller_uid":    r.CallerUID,
		"incoming_call": boolStr(r.IncomingCall),
		"is_audio":      boolStr(r.IsAudio),
		"call_ended":    boolStr(r.CallEnded),
	}
}

// WriteStart writes the start-of-call record pair: incoming_call=false on the
// caller side, incoming_call=true on the receiver side, call_ended=false on
// both. Both hashes are written in one pipeline.
func (s *Store) WriteStart(ctx context.Context, channel, callerUID, callerName, calleeUID string, isAudio bool) error {
	caller := &Record{
		ChannelName: channel,
		CallerName:  callerName,
		CallerUID:   callerUID,
		IsAudio:     isAudio,
	}
	callee := &Record{
		ChannelName:  channel,
		CallerName:   callerName,
		CallerUID:    callerUID,
		IncomingCall: true,
		IsAudio:      isAudio,
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, SignalPrefix+callerUID, recordFields(caller))
	pipe.Expire(ctx, SignalPrefix+callerUID, SignalTTL)
	pipe.HSet(ctx, SignalPrefix+calleeUID, recordFields(callee))
	pipe.Expire(ctx, SignalPrefix+calleeUID, SignalTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("signaling: write start %s: %w", channel, err)
	}

	s.publish(callerUID, caller)
	s.publish(calleeUID, callee)
	return nil
}

// MarkEnded sets call_ended=true on both participants' records in one
// pipeline and announces the change to both watch subjects. It is the only
// hangup signal either side acts on.
func (s *Store) MarkEnded(ctx context.Context, uidA, uidB string) error {
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, SignalPrefix+uidA, "call_ended", "true")
	pipe.HSet(ctx, SignalPrefix+uidB, "call_ended", "true")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("signaling: mark ended: %w", err)
	}

	for _, uid := range []string{uidA, uidB} {
		rec, err := s.Get(ctx, uid)
		if err != nil || rec == nil {
			rec = &Record{CallEnded: true}
		}
		s.publish(uid, rec)
	}
	return nil
}

// Get retrieves a participant's signaling record. Returns nil if the record
// does not exist or has an empty channel name (treated as "no call").
func (s *Store) Get(ctx context.Context, uid string) (*Record, error) {
	result, err := s.rdb.HGetAll(ctx, SignalPrefix+uid).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || result["channel_name"] == "" {
		return nil, nil
	}

	return &Record{
		ChannelName:  result["channel_name"],
		CallerName:   result["caller_name"],
		CallerUID:    result["caller_uid"],
		IncomingCall: result["incoming_call"] == "true",
		IsAudio:      result["is_audio"] == "true",
		CallEnded:    result["call_ended"] == "true",
	}, nil
}

// Answer atomically validates that the callee's record still describes the
// given live channel. Returns:
//
//	1 = answered (record live, channel matches)
//	-1 = no record or channel mismatch
//	-2 = call already ended
func (s *Store) Answer(ctx context.Context, calleeUID, channel string) (int, error) {
	key := SignalPrefix + calleeUID
	result, err := s.answerScript.Run(ctx, s.rdb, []string{key}, channel).Int()
	if err != nil {
		return -1, fmt.Errorf("signaling: answer: %w", err)
	}
	return result, nil
}

// Clear deletes a participant's signaling record.
func (s *Store) Clear(ctx context.Context, uid string) error {
	return s.rdb.Del(ctx, SignalPrefix+uid).Err()
}

func (s *Store) publish(uid string, rec *Record) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishSignal(uid, rec.Encode()); err != nil {
		log.Printf("[signaling] publish signal uid=%s: %v", uid, err)
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// answerCallLua atomically checks that the signaling record is still a live
// call for the expected channel before the callee commits to connecting.
// This closes the race between an answer and a caller-side hangup.
const answerCallLua = `
local key = KEYS[1]
local channel = ARGV[1]

local rec_channel = redis.call('HGET', key, 'channel_name')
if not rec_channel or rec_channel ~= channel then return -1 end

local ended = redis.call('HGET', key, 'call_ended')
if ended == 'true' then return -2 end

return 1
`
