package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ferrite-bot/ferrite/internal/bus"
)

// State is the session lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentified
	StateActive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	// maxGuildPayload bounds inbound frames. Initial guild payloads for
	// large servers run to megabytes.
	maxGuildPayload = 16 << 20

	// stableConnection is how long a session must stay active before the
	// reconnect backoff resets to its floor.
	stableConnection = 60 * time.Second

	helloTimeout = 30 * time.Second

	eventBufferSize = 128

	// maxResumeDialFails is how many consecutive dial failures a resume
	// target gets before the session is dropped and the next attempt
	// identifies fresh against the base gateway URL.
	maxResumeDialFails = 3
)

var (
	errServerReconnect  = errors.New("gateway: server requested reconnect")
	errInvalidSession   = errors.New("gateway: session invalidated")
	errHeartbeatStalled = errors.New("gateway: heartbeat acks missed")
)

// Fatal close codes: the server will reject every reconnect attempt with
// the same credentials or intents, so retrying is pointless.
func isFatalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case 4004, 4010, 4011, 4012, 4013, 4014:
		return true
	}
	return false
}

// Config holds settings for a gateway Session.
type Config struct {
	// Token authenticates the identify. Required.
	Token string
	// Intents is the event subscription bitfield sent with identify.
	Intents int
	// GatewayURL overrides the websocket URL. Takes precedence over URLFunc.
	GatewayURL string
	// URLFunc fetches the websocket URL when GatewayURL is empty, typically
	// from the REST API.
	URLFunc func(ctx context.Context) (string, error)
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Bus receives session lifecycle events. May be nil.
	Bus *bus.Bus
}

// Session runs the websocket connection lifecycle. Decoded dispatches are
// delivered in arrival order on Events; Run reconnects on failure and only
// returns on context cancellation or a fatal close code.
type Session struct {
	cfg    Config
	logger *slog.Logger
	events chan Event

	state       atomic.Int32
	lastSeq     atomic.Int64
	resumes     atomic.Int64
	pendingAcks atomic.Int32

	mu          sync.Mutex
	sessionID   string
	resumeURL   string
	activeSince time.Time
	startedAt   time.Time

	// resumeDialFails counts consecutive failed dials of the resume target.
	// Only touched by the run goroutine.
	resumeDialFails int
}

func New(cfg Config) (*Session, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("gateway: token is required")
	}
	if cfg.GatewayURL == "" && cfg.URLFunc == nil {
		return nil, fmt.Errorf("gateway: no gateway URL source configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, eventBufferSize),
	}, nil
}

// Events returns the dispatch stream. The channel is closed when Run
// returns.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Snapshot is the session view exposed over the health endpoints.
type Snapshot struct {
	State         string `json:"state"`
	LastSeq       int64  `json:"last_seq"`
	Resumes       int64  `json:"resumes"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()
	var uptime int64
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}
	return Snapshot{
		State:         s.State().String(),
		LastSeq:       s.lastSeq.Load(),
		Resumes:       s.resumes.Load(),
		UptimeSeconds: uptime,
	}
}

// Run connects and serves the session until ctx is cancelled or a fatal
// close code arrives. Transient failures reconnect with jittered
// exponential backoff, resuming the previous session when possible.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)
	defer s.setState(StateDisconnected)

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	bo := newBackoff(time.Second, 60*time.Second)
	for {
		s.setState(StateConnecting)
		err := s.runOnce(ctx)
		s.publishSession(bus.TopicSessionDisconnected, err)
		if ctx.Err() != nil {
			return nil
		}
		if isFatalClose(err) {
			s.setState(StateDisconnected)
			return fmt.Errorf("gateway: fatal close %d: %w", websocket.CloseStatus(err), err)
		}

		if s.activeFor() >= stableConnection {
			bo.reset()
		}
		delay := bo.next()
		s.setState(StateReconnecting)
		s.logger.Warn("gateway connection lost",
			"error", err,
			"retry_in", delay.Round(time.Millisecond).String(),
			"resumable", s.canResume(),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *Session) activeFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeSince.IsZero() {
		return 0
	}
	return time.Since(s.activeSince)
}

func (s *Session) canResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != "" && s.resumeURL != ""
}

func (s *Session) clearSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.mu.Unlock()
}

// dialTarget picks the URL for the next connection attempt. A resumable
// session dials its resume URL; otherwise the configured or fetched base.
func (s *Session) dialTarget(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	resumeURL := s.resumeURL
	resumable := s.sessionID != "" && resumeURL != ""
	s.mu.Unlock()
	if resumable {
		return gatewayAddr(resumeURL), true, nil
	}

	base := s.cfg.GatewayURL
	if base == "" {
		fetched, err := s.cfg.URLFunc(ctx)
		if err != nil {
			return "", false, fmt.Errorf("fetch gateway url: %w", err)
		}
		base = fetched
	}
	if base == "" {
		return "", false, errors.New("gateway: empty gateway url")
	}
	return gatewayAddr(base), false, nil
}

func gatewayAddr(base string) string {
	if strings.Contains(base, "?") {
		return base
	}
	return strings.TrimRight(base, "/") + "/?v=10&encoding=json"
}

func (s *Session) runOnce(ctx context.Context) error {
	s.mu.Lock()
	s.activeSince = time.Time{}
	s.mu.Unlock()

	target, resuming, err := s.dialTarget(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{})
	if err != nil {
		if resuming {
			s.resumeDialFails++
			if s.resumeDialFails >= maxResumeDialFails {
				s.logger.Warn("resume target unreachable, dropping session",
					"target", target,
					"failures", s.resumeDialFails,
				)
				s.clearSession()
				s.resumeDialFails = 0
			}
		}
		return fmt.Errorf("dial gateway: %w", err)
	}
	s.resumeDialFails = 0
	conn.SetReadLimit(maxGuildPayload)
	defer func() {
		if ctx.Err() != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
		} else {
			// 1012 keeps the session resumable on the server side.
			_ = conn.Close(websocket.StatusServiceRestart, "reconnecting")
		}
	}()
	s.publishSession(bus.TopicSessionConnected, nil)

	interval, err := s.readHello(ctx, conn)
	if err != nil {
		return err
	}

	if resuming {
		s.mu.Lock()
		sessionID := s.sessionID
		s.mu.Unlock()
		err = wsjson.Write(ctx, conn, outbound{Op: opResume, D: resumeData{
			Token:     s.cfg.Token,
			SessionID: sessionID,
			Seq:       s.lastSeq.Load(),
		}})
		if err != nil {
			return fmt.Errorf("send resume: %w", err)
		}
		s.logger.Info("resuming gateway session", "seq", s.lastSeq.Load())
	} else {
		// A fresh session restarts sequence numbering from 1; a stale
		// high-water mark would silently swallow every dispatch.
		s.lastSeq.Store(0)
		err = wsjson.Write(ctx, conn, outbound{Op: opIdentify, D: identifyData{
			Token:   s.cfg.Token,
			Intents: s.cfg.Intents,
			Properties: identifyProperties{
				OS:      "linux",
				Browser: "ferrite",
				Device:  "ferrite",
			},
		}})
		if err != nil {
			return fmt.Errorf("send identify: %w", err)
		}
		s.logger.Info("identifying new gateway session", "intents", s.cfg.Intents)
	}
	s.setState(StateIdentified)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	hbErr := make(chan error, 1)
	beatNow := make(chan struct{}, 1)
	s.pendingAcks.Store(0)
	go s.heartbeatLoop(hbCtx, conn, interval, beatNow, hbErr)

	for {
		var p payload
		if err := wsjson.Read(ctx, conn, &p); err != nil {
			// The heartbeat goroutine closes the socket when acks stall,
			// which surfaces here as a read error. Prefer its reason.
			select {
			case stallErr := <-hbErr:
				return stallErr
			default:
			}
			return fmt.Errorf("read gateway frame: %w", err)
		}

		switch p.Op {
		case opDispatch:
			if err := s.handleDispatch(ctx, p); err != nil {
				return err
			}
		case opHeartbeat:
			// Server-requested beat; the heartbeat goroutine owns all
			// post-identify writes.
			select {
			case beatNow <- struct{}{}:
			default:
			}
		case opHeartbeatACK:
			s.pendingAcks.Store(0)
		case opReconnect:
			return errServerReconnect
		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(p.D, &resumable)
			if !resumable {
				s.clearSession()
			}
			return errInvalidSession
		}
	}
}

func (s *Session) readHello(ctx context.Context, conn *websocket.Conn) (time.Duration, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var hello payload
	if err := wsjson.Read(helloCtx, conn, &hello); err != nil {
		return 0, fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return 0, fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var data struct {
		HeartbeatInterval float64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &data); err != nil {
		return 0, fmt.Errorf("decode hello: %w", err)
	}
	interval := time.Duration(data.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		return 0, fmt.Errorf("hello carried invalid heartbeat interval %v", data.HeartbeatInterval)
	}
	return interval, nil
}

// heartbeatLoop sends beats on the negotiated interval. Two unacked beats
// in a row mean the connection is dead even though TCP has not noticed; the
// loop closes the socket to force a reconnect.
func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, beatNow <-chan struct{}, errCh chan<- error) {
	// First beat after a random fraction of the interval, per gateway
	// guidance, so a restarting fleet spreads its load.
	timer := time.NewTimer(time.Duration(rand.Int64N(int64(interval))))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-beatNow:
		case <-timer.C:
		}

		if s.pendingAcks.Load() >= 2 {
			select {
			case errCh <- errHeartbeatStalled:
			default:
			}
			_ = conn.Close(websocket.StatusServiceRestart, "heartbeat acks missed")
			return
		}

		var d any
		if seq := s.lastSeq.Load(); seq > 0 {
			d = seq
		}
		if err := wsjson.Write(ctx, conn, outbound{Op: opHeartbeat, D: d}); err != nil {
			select {
			case errCh <- fmt.Errorf("send heartbeat: %w", err):
			default:
			}
			return
		}
		s.pendingAcks.Add(1)
		timer.Reset(interval)
	}
}

func (s *Session) handleDispatch(ctx context.Context, p payload) error {
	var seq int64
	if p.S != nil {
		seq = *p.S
	}
	// Resumed sessions replay dispatches the server never saw acked.
	// Anything at or below the high-water mark already ran.
	if seq != 0 && seq <= s.lastSeq.Load() {
		s.logger.Debug("dropping replayed dispatch", "type", p.T, "seq", seq)
		return nil
	}
	if seq != 0 {
		s.lastSeq.Store(seq)
	}

	data, err := decodeDispatch(p.T, p.D)
	if err != nil {
		s.logger.Warn("dropping undecodable dispatch", "type", p.T, "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	switch ev := data.(type) {
	case *ReadyEvent:
		s.mu.Lock()
		s.sessionID = ev.SessionID
		s.resumeURL = ev.ResumeGatewayURL
		s.activeSince = time.Now()
		s.mu.Unlock()
		s.setState(StateActive)
		s.logger.Info("gateway session ready",
			"session_id", ev.SessionID,
			"guilds", len(ev.Guilds),
			"user_id", ev.User.ID,
		)
		s.publishSession(bus.TopicSessionReady, nil)
	case *ResumedEvent:
		s.resumes.Add(1)
		s.mu.Lock()
		s.activeSince = time.Now()
		s.mu.Unlock()
		s.setState(StateActive)
		s.logger.Info("gateway session resumed", "seq", seq)
		s.publishSession(bus.TopicSessionResumed, nil)
	}

	select {
	case s.events <- Event{Type: p.T, Seq: seq, Data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) publishSession(topic string, err error) {
	if s.cfg.Bus == nil {
		return
	}
	ev := bus.SessionEvent{
		State:   s.State().String(),
		Resumes: int(s.resumes.Load()),
	}
	if err != nil {
		ev.Reason = err.Error()
	}
	s.cfg.Bus.Publish(topic, ev)
}

// outbound is the envelope for client to server payloads.
type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}
