package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/chathub/backend/internal/call"
	"github.com/chathub/backend/internal/messaging"
	"github.com/chathub/backend/internal/metrics"
	"github.com/chathub/backend/internal/notify"
	"github.com/chathub/backend/internal/presence"
	"github.com/chathub/backend/internal/protocol"
	"github.com/chathub/backend/internal/ratelimit"
	"github.com/chathub/backend/internal/rtc"
	"github.com/chathub/backend/internal/signaling"
	"github.com/chathub/backend/internal/timebudget"
	"github.com/chathub/backend/internal/ws"
)

// rtcReport is the NATS payload for engine delegate events observed by a
// client SDK. Reporter identifies whose manager the event belongs to.
type rtcReport struct {
	Reporter string `json:"reporter"`
	Event    string `json:"event"`
	PeerID   string `json:"peer_id"`
	Enabled  bool   `json:"enabled"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}

	config := ws.DefaultServerConfig()
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "chathub-callserver"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	pingCancel()

	signals := signaling.NewStore(rdb, natsClient)
	presenceStore := presence.NewStore(rdb)
	budget := timebudget.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb)
	notifier := notify.New(natsClient)
	registry := call.NewRegistry()

	rtcAppID := os.Getenv("RTC_APP_ID")

	log.Printf("ChatHub call server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	// Declare server early so closures can capture it.
	var server *ws.Server

	sendToUser := func(uid, msgType string, payload interface{}) {
		data, err := protocol.NewServerMessage(msgType, payload)
		if err != nil {
			log.Printf("[callserver] build %s for user=%s: %v", msgType, uid, err)
			return
		}
		if err := server.SendToUser(uid, data); err != nil {
			log.Printf("[callserver] send %s to user=%s: %v", msgType, uid, err)
		}
	}

	// newCallDeps builds the manager collaborators. The gateway owns the
	// per-user signal subscription, so managers run with a nil watcher.
	newCallDeps := func(obs call.Observer) call.Deps {
		return call.Deps{
			Signals:  signals,
			Presence: presenceStore,
			Budget:   budget,
			Notify:   notifier,
			Engine:   rtc.NewNull(),
			RTCConf:  rtc.Config{AppID: rtcAppID, Profile: rtc.ProfileCommunication},
			Observer: obs,
		}
	}

	// watchRTC feeds engine delegate events published for a channel into the
	// local participant's manager.
	watchRTC := func(m *call.Manager) {
		uid := m.LocalUID()
		channel := m.Session().Channel
		err := natsClient.SubscribeRTCEvents(channel, uid, func(data []byte) {
			var report rtcReport
			if err := json.Unmarshal(data, &report); err != nil {
				log.Printf("[callserver] bad rtc report channel=%s: %v", channel, err)
				return
			}
			if report.Reporter != uid {
				return // the peer's SDK view belongs to the peer's manager
			}
			m.HandleEngineEvent(toEngineEvent(report))
		})
		if err != nil {
			log.Printf("[callserver] subscribe rtc channel=%s uid=%s: %v", channel, uid, err)
		}
	}

	// surfaceIncoming creates the incoming-side manager for a record written
	// by a remote caller and pushes call_incoming to the client.
	surfaceIncoming := func(uid string, rec *signaling.Record) {
		if registry.Find(uid, rec.ChannelName) != nil {
			return // already surfaced
		}

		conn := server.Connections().GetByUser(uid)
		name := uid
		if conn != nil {
			name = conn.UserName()
		}

		obs := newSessionEvents(uid, registry, natsClient, sendToUser)
		m := call.NewIncoming(newCallDeps(obs), uid, name, rec)
		if err := registry.Add(m); err != nil {
			log.Printf("[callserver] incoming call for busy user=%s channel=%s: %v", uid, rec.ChannelName, err)
			return
		}
		watchRTC(m)

		sendToUser(uid, protocol.TypeCallIncoming, protocol.CallIncomingMsg{
			Channel:    rec.ChannelName,
			CallerID:   rec.CallerUID,
			CallerName: rec.CallerName,
			Video:      !rec.IsAudio,
		})
		log.Printf("[callserver] surfaced incoming call user=%s channel=%s caller=%s", uid, rec.ChannelName, rec.CallerUID)
	}

	dispatcher := ws.NewMessageDispatcher()

	// -----------------------------------------------------------------------
	// identify — bind the connection to a user and start watching signals
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeIdentify, func(conn *ws.Connection, msg interface{}) {
		idMsg, ok := msg.(protocol.IdentifyMsg)
		if !ok || idMsg.UserID == "" {
			return
		}
		uid := idMsg.UserID

		if prev := server.Connections().BindUser(conn, uid, idMsg.Name); prev != nil {
			log.Printf("[callserver] user=%s reconnected, closing previous conn=%s", uid, prev.ID)
			server.RemoveConnection(prev)
		}

		if err := natsClient.SubscribeSignal(uid, func(data []byte) {
			rec := signaling.Decode(data)
			if rec == nil {
				return
			}
			if rec.CallEnded {
				for _, m := range registry.ForUser(uid) {
					m.HandleSignal(data)
				}
				return
			}
			if rec.IsIncomingCall() {
				surfaceIncoming(uid, rec)
			}
		}); err != nil {
			log.Printf("[callserver] subscribe signals user=%s: %v", uid, err)
		}

		data, _ := protocol.NewServerMessage(protocol.TypeIdentified, protocol.IdentifiedMsg{UserID: uid})
		conn.WriteMessage(data)
		log.Printf("identify user=%s conn=%s", uid, conn.ID)

		// Surface a call that rang while the user was offline.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if rec, err := signals.Get(ctx, uid); err == nil && rec.IsIncomingCall() {
			surfaceIncoming(uid, rec)
		}
	})

	// -----------------------------------------------------------------------
	// call_start — place an outgoing call
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCallStart, func(conn *ws.Connection, msg interface{}) {
		startMsg, ok := msg.(protocol.CallStartMsg)
		if !ok || startMsg.CalleeID == "" {
			return
		}
		uid := conn.UserID()
		ctx := context.Background()

		allowed, _ := limiter.Allow(ctx, uid, ratelimit.RuleCallStart)
		if !allowed {
			data, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: 60})
			conn.WriteMessage(data)
			return
		}

		if onCall, err := presenceStore.IsOnCall(ctx, startMsg.CalleeID); err == nil && onCall {
			data, _ := protocol.NewServerMessage(protocol.TypeCallRejected, protocol.CallRejectedMsg{Reason: "callee_busy"})
			conn.WriteMessage(data)
			return
		}

		obs := newSessionEvents(uid, registry, natsClient, sendToUser)
		m := call.NewOutgoing(newCallDeps(obs), uid, conn.UserName(), startMsg.CalleeID, "", startMsg.Video)
		if err := registry.Add(m); err != nil {
			data, _ := protocol.NewServerMessage(protocol.TypeCallRejected, protocol.CallRejectedMsg{Reason: "call_in_progress"})
			conn.WriteMessage(data)
			return
		}
		watchRTC(m)

		if err := m.StartOutgoing(ctx); err != nil {
			registry.Remove(m)
			_ = natsClient.UnsubscribeRTCEvents(uid)

			reason := "signaling_failed"
			if err == call.ErrNoBudget {
				reason = "no_time_budget"
			} else {
				metrics.SignalingFailures.Inc()
				log.Printf("[callserver] call start user=%s callee=%s: %v", uid, startMsg.CalleeID, err)
			}
			data, _ := protocol.NewServerMessage(protocol.TypeCallRejected, protocol.CallRejectedMsg{Reason: reason})
			conn.WriteMessage(data)
			return
		}

		log.Printf("call_start user=%s callee=%s video=%v channel=%s", uid, startMsg.CalleeID, startMsg.Video, m.Session().Channel)
	})

	// -----------------------------------------------------------------------
	// call_answer — accept a surfaced incoming call
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCallAnswer, func(conn *ws.Connection, msg interface{}) {
		answerMsg, ok := msg.(protocol.CallAnswerMsg)
		if !ok {
			return
		}
		uid := conn.UserID()

		m := registry.Find(uid, answerMsg.Channel)
		if m == nil {
			data, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "no_such_call", Message: "no ringing call for channel",
			})
			conn.WriteMessage(data)
			return
		}

		if err := m.Answer(context.Background()); err != nil {
			// ErrCallGone already tore the session down; the client receives
			// call_ended through the observer.
			log.Printf("call_answer user=%s channel=%s: %v", uid, answerMsg.Channel, err)
			return
		}
		log.Printf("call_answer user=%s channel=%s", uid, answerMsg.Channel)
	})

	// -----------------------------------------------------------------------
	// call_decline — reject a surfaced incoming call
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCallDecline, func(conn *ws.Connection, msg interface{}) {
		declineMsg, ok := msg.(protocol.CallDeclineMsg)
		if !ok {
			return
		}
		uid := conn.UserID()

		if m := registry.Find(uid, declineMsg.Channel); m != nil {
			_ = m.Decline(context.Background())
			log.Printf("call_decline user=%s channel=%s", uid, declineMsg.Channel)
		}
	})

	// -----------------------------------------------------------------------
	// call_hangup — end the call from either side
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCallHangup, func(conn *ws.Connection, msg interface{}) {
		hangupMsg, ok := msg.(protocol.CallHangupMsg)
		if !ok {
			return
		}
		uid := conn.UserID()

		if m := registry.Find(uid, hangupMsg.Channel); m != nil {
			_ = m.Hangup(context.Background())
			log.Printf("call_hangup user=%s channel=%s", uid, hangupMsg.Channel)
		}
	})

	// -----------------------------------------------------------------------
	// video_toggle — switch the local video stream on/off
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeVideoToggle, func(conn *ws.Connection, msg interface{}) {
		toggleMsg, ok := msg.(protocol.VideoToggleMsg)
		if !ok {
			return
		}
		uid := conn.UserID()

		if m := registry.Find(uid, toggleMsg.Channel); m != nil {
			if err := m.ToggleLocalVideo(toggleMsg.Enabled); err != nil {
				log.Printf("video_toggle user=%s channel=%s: %v", uid, toggleMsg.Channel, err)
			}
		}
	})

	// -----------------------------------------------------------------------
	// rtc_report — engine delegate event observed by the client SDK
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRTCReport, func(conn *ws.Connection, msg interface{}) {
		reportMsg, ok := msg.(protocol.RTCReportMsg)
		if !ok {
			return
		}
		uid := conn.UserID()

		if registry.Find(uid, reportMsg.Channel) == nil {
			return // stale report for an ended call
		}

		data, _ := json.Marshal(rtcReport{
			Reporter: uid,
			Event:    reportMsg.Event,
			PeerID:   reportMsg.PeerID,
			Enabled:  reportMsg.Enabled,
		})
		if err := natsClient.PublishRTCEvent(reportMsg.Channel, data); err != nil {
			log.Printf("rtc_report publish user=%s channel=%s: %v", uid, reportMsg.Channel, err)
		}
	})

	server = ws.NewServer(config, limiter, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// A dropped connection hangs up any call its user had live.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		uid := conn.UserID()
		if uid == "" {
			return
		}
		for _, m := range registry.ForUser(uid) {
			log.Printf("[disconnect] user=%s hanging up channel=%s", uid, m.Session().Channel)
			_ = m.Hangup(context.Background())
		}
		_ = natsClient.UnsubscribeSignal(uid)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// toEngineEvent maps a wire report to the engine delegate event consumed by
// the call manager.
func toEngineEvent(r rtcReport) rtc.Event {
	switch r.Event {
	case protocol.RTCPeerJoined:
		return rtc.Event{Type: rtc.EventPeerJoined, PeerUID: r.PeerID}
	case protocol.RTCPeerOffline:
		return rtc.Event{Type: rtc.EventPeerOffline, PeerUID: r.PeerID}
	case protocol.RTCAudioOffline:
		return rtc.Event{Type: rtc.EventRemoteAudioState, PeerUID: r.PeerID, State: rtc.StreamOffline}
	case protocol.RTCVideoOffline:
		return rtc.Event{Type: rtc.EventRemoteVideoState, PeerUID: r.PeerID, State: rtc.StreamOffline}
	default:
		return rtc.Event{Type: rtc.EventRemoteVideoState, PeerUID: r.PeerID, Enabled: r.Enabled}
	}
}

// sessionEvents pushes manager lifecycle callbacks to the client connection
// and keeps the call metrics current. One instance per manager.
type sessionEvents struct {
	uid      string
	registry *call.Registry
	nats     *messaging.NATSClient
	send     func(uid, msgType string, payload interface{})

	mu        sync.Mutex
	ringingAt time.Time
	activeAt  time.Time
}

func newSessionEvents(uid string, registry *call.Registry, nats *messaging.NATSClient, send func(uid, msgType string, payload interface{})) *sessionEvents {
	return &sessionEvents{uid: uid, registry: registry, nats: nats, send: send}
}

func (e *sessionEvents) OnRinging(s *call.Session) {
	e.mu.Lock()
	e.ringingAt = time.Now()
	e.mu.Unlock()

	e.send(e.uid, protocol.TypeCallRinging, protocol.CallRingingMsg{
		Channel: s.Channel,
		Timeout: int(call.RingTimeout.Seconds()),
	})
}

func (e *sessionEvents) OnActive(s *call.Session) {
	e.mu.Lock()
	e.activeAt = time.Now()
	if !e.ringingAt.IsZero() {
		metrics.CallSetupDuration.Observe(e.activeAt.Sub(e.ringingAt).Seconds())
	}
	e.mu.Unlock()

	metrics.ActiveCalls.WithLabelValues(s.Media).Inc()
	e.send(e.uid, protocol.TypeCallActive, protocol.CallActiveMsg{
		Channel:          s.Channel,
		RemainingSeconds: s.RemainingSeconds(),
	})
}

func (e *sessionEvents) OnTick(s *call.Session, remaining int) {
	e.send(e.uid, protocol.TypeCallTick, protocol.CallTickMsg{
		Channel:          s.Channel,
		RemainingSeconds: remaining,
	})
}

func (e *sessionEvents) OnRemoteVideo(s *call.Session, enabled bool) {
	// The client SDK observes the remote stream directly; nothing to push.
}

func (e *sessionEvents) OnEnded(s *call.Session, reason string) {
	e.mu.Lock()
	activeAt := e.activeAt
	e.mu.Unlock()

	metrics.CallsEnded.WithLabelValues(reason).Inc()
	if !activeAt.IsZero() {
		metrics.ActiveCalls.WithLabelValues(s.Media).Dec()
		metrics.CallDuration.Observe(time.Since(activeAt).Seconds())
	}

	if m := e.registry.Find(e.uid, s.Channel); m != nil {
		e.registry.Remove(m)
	}
	_ = e.nats.UnsubscribeRTCEvents(e.uid)

	e.send(e.uid, protocol.TypeCallEnded, protocol.CallEndedMsg{
		Channel: s.Channel,
		Reason:  reason,
	})
}
