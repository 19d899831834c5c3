package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ferrite-bot/ferrite/internal/bus"
	"github.com/ferrite-bot/ferrite/internal/discord"
)

// fakeGateway is a scripted websocket endpoint. Each accepted connection
// runs the script with a 1-based attempt number. Scripts run on server
// goroutines, so they report failures with t.Errorf, never t.Fatalf.
type fakeGateway struct {
	t      *testing.T
	srv    *httptest.Server
	script func(ctx context.Context, conn *websocket.Conn, attempt int)

	mu       sync.Mutex
	attempts int
	queries  []string
}

func newFakeGateway(t *testing.T, script func(ctx context.Context, conn *websocket.Conn, attempt int)) *fakeGateway {
	fg := &fakeGateway{t: t, script: script}
	fg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fg.mu.Lock()
		fg.attempts++
		attempt := fg.attempts
		fg.queries = append(fg.queries, r.URL.RawQuery)
		fg.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			fg.t.Errorf("accept attempt %d: %v", attempt, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		fg.script(ctx, conn, attempt)
		_ = conn.CloseNow()
	}))
	t.Cleanup(fg.srv.Close)
	return fg
}

func (fg *fakeGateway) wsURL() string {
	return "ws" + strings.TrimPrefix(fg.srv.URL, "http")
}

func (fg *fakeGateway) attemptCount() int {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	return fg.attempts
}

func (fg *fakeGateway) firstQuery() string {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	if len(fg.queries) == 0 {
		return ""
	}
	return fg.queries[0]
}

// send writes a frame. Write errors are logged, not fatal: the client
// tearing down mid-script is an expected race, and every test asserts on
// the client side anyway.
func (fg *fakeGateway) send(ctx context.Context, conn *websocket.Conn, v any) bool {
	if err := wsjson.Write(ctx, conn, v); err != nil {
		fg.t.Logf("server write: %v", err)
		return false
	}
	return true
}

func (fg *fakeGateway) hello(ctx context.Context, conn *websocket.Conn, intervalMS int) bool {
	return fg.send(ctx, conn, map[string]any{
		"op": opHello,
		"d":  map[string]any{"heartbeat_interval": intervalMS},
	})
}

func (fg *fakeGateway) dispatch(ctx context.Context, conn *websocket.Conn, seq int64, eventType, data string) bool {
	return fg.send(ctx, conn, map[string]any{
		"op": opDispatch,
		"s":  seq,
		"t":  eventType,
		"d":  json.RawMessage(data),
	})
}

// readOp reads frames until the wanted op arrives, acking any client
// heartbeats along the way. Returns nil on failure.
func (fg *fakeGateway) readOp(ctx context.Context, conn *websocket.Conn, want int) map[string]any {
	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			fg.t.Logf("server read waiting for op %d: %v", want, err)
			return nil
		}
		op, ok := frame["op"].(float64)
		if !ok {
			fg.t.Errorf("frame without op: %v", frame)
			return nil
		}
		switch int(op) {
		case want:
			return frame
		case opHeartbeat:
			if !fg.send(ctx, conn, map[string]any{"op": opHeartbeatACK}) {
				return nil
			}
		default:
			fg.t.Errorf("unexpected op %d while waiting for %d", int(op), want)
			return nil
		}
	}
}

// drain keeps the connection alive, acking heartbeats, until the peer
// closes or ctx expires.
func (fg *fakeGateway) drain(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame map[string]any
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		if op, ok := frame["op"].(float64); ok && int(op) == opHeartbeat {
			_ = wsjson.Write(ctx, conn, map[string]any{"op": opHeartbeatACK})
		}
	}
}

func readyPayload(sessionID, resumeURL string) string {
	return fmt.Sprintf(
		`{"session_id":%q,"resume_gateway_url":%q,"user":{"id":"bot-1","username":"ferrite"},"guilds":[]}`,
		sessionID, resumeURL,
	)
}

func startSession(t *testing.T, cfg Config) (*Session, context.CancelFunc, chan error) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sess, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()
	return sess, cancel, runErr
}

func nextEvent(t *testing.T, sess *Session, within time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("event stream closed early")
		}
		return ev
	case <-time.After(within):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func waitRunReturn(t *testing.T, runErr chan error) error {
	t.Helper()
	select {
	case err := <-runErr:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	return nil
}

func waitEventsClosed(t *testing.T, sess *Session) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case _, ok := <-sess.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream never closed")
		}
	}
}

func TestSessionIdentifiesAndDeliversDispatches(t *testing.T) {
	identifyCh := make(chan map[string]any, 1)
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		if !fg.hello(ctx, conn, 60_000) {
			return
		}
		idn := fg.readOp(ctx, conn, opIdentify)
		if idn == nil {
			return
		}
		identifyCh <- idn
		if !fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-1", "")) {
			return
		}
		if !fg.dispatch(ctx, conn, 2, EventMessageCreate,
			`{"id":"m1","channel_id":"c1","content":"?ping","author":{"id":"u1"}}`) {
			return
		}
		fg.drain(ctx, conn)
	})

	sess, cancel, runErr := startSession(t, Config{
		Token:      "tok-123",
		Intents:    1699,
		GatewayURL: fg.wsURL(),
	})

	ev := nextEvent(t, sess, 5*time.Second)
	ready, ok := ev.Data.(*ReadyEvent)
	if !ok || ev.Type != EventReady || ev.Seq != 1 {
		t.Fatalf("first event = %+v", ev)
	}
	if ready.SessionID != "sess-1" || ready.User.ID != "bot-1" {
		t.Fatalf("ready = %+v", ready)
	}
	if sess.State() != StateActive {
		t.Fatalf("state after ready = %v", sess.State())
	}

	ev = nextEvent(t, sess, 5*time.Second)
	msg, ok := ev.Data.(*discord.Message)
	if !ok || msg.Content != "?ping" || ev.Seq != 2 {
		t.Fatalf("second event = %+v", ev)
	}

	idn := <-identifyCh
	d, _ := idn["d"].(map[string]any)
	if d["token"] != "tok-123" {
		t.Fatalf("identify token = %v", d["token"])
	}
	if intents, _ := d["intents"].(float64); int(intents) != 1699 {
		t.Fatalf("identify intents = %v", d["intents"])
	}
	props, _ := d["properties"].(map[string]any)
	if props["browser"] != "ferrite" {
		t.Fatalf("identify properties = %v", d["properties"])
	}

	if q := fg.firstQuery(); q != "v=10&encoding=json" {
		t.Fatalf("dial query = %q", q)
	}

	cancel()
	if err := waitRunReturn(t, runErr); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	waitEventsClosed(t, sess)
}

func TestDispatchSeqGateDropsReplays(t *testing.T) {
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		if !fg.hello(ctx, conn, 60_000) {
			return
		}
		if fg.readOp(ctx, conn, opIdentify) == nil {
			return
		}
		fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-1", ""))
		fg.dispatch(ctx, conn, 2, EventMessageCreate, `{"id":"m2","channel_id":"c1","content":"first"}`)
		fg.dispatch(ctx, conn, 2, EventMessageCreate, `{"id":"dup","channel_id":"c1","content":"replayed"}`)
		fg.dispatch(ctx, conn, 3, EventMessageCreate, `{"id":"m3","channel_id":"c1","content":"second"}`)
		fg.drain(ctx, conn)
	})

	sess, cancel, _ := startSession(t, Config{Token: "tok", GatewayURL: fg.wsURL()})
	defer cancel()

	if ev := nextEvent(t, sess, 5*time.Second); ev.Seq != 1 {
		t.Fatalf("first event seq = %d", ev.Seq)
	}
	ev := nextEvent(t, sess, 5*time.Second)
	if msg, ok := ev.Data.(*discord.Message); !ok || ev.Seq != 2 || msg.ID != "m2" {
		t.Fatalf("second event = seq %d, %+v", ev.Seq, ev.Data)
	}
	ev = nextEvent(t, sess, 5*time.Second)
	if msg, ok := ev.Data.(*discord.Message); !ok || ev.Seq != 3 || msg.ID != "m3" {
		t.Fatalf("third event = seq %d, %+v", ev.Seq, ev.Data)
	}

	// The replayed seq 2 dispatch must not surface.
	select {
	case ev := <-sess.Events():
		t.Fatalf("unexpected event after replay: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestServerReconnectResumesSession(t *testing.T) {
	resumeCh := make(chan map[string]any, 1)
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		switch attempt {
		case 1:
			if !fg.hello(ctx, conn, 60_000) {
				return
			}
			if fg.readOp(ctx, conn, opIdentify) == nil {
				return
			}
			fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-1", fg.wsURL()))
			fg.send(ctx, conn, map[string]any{"op": opReconnect})
			fg.drain(ctx, conn)
		case 2:
			if !fg.hello(ctx, conn, 60_000) {
				return
			}
			res := fg.readOp(ctx, conn, opResume)
			if res == nil {
				return
			}
			resumeCh <- res
			fg.dispatch(ctx, conn, 2, EventResumed, `{}`)
			fg.drain(ctx, conn)
		}
	})

	sess, cancel, _ := startSession(t, Config{Token: "tok-123", GatewayURL: fg.wsURL()})
	defer cancel()

	if ev := nextEvent(t, sess, 5*time.Second); ev.Type != EventReady {
		t.Fatalf("first event = %+v", ev)
	}

	// Reconnect backoff starts at one second; allow generous slack.
	ev := nextEvent(t, sess, 10*time.Second)
	if _, ok := ev.Data.(*ResumedEvent); !ok {
		t.Fatalf("post-reconnect event = %+v", ev)
	}
	if sess.State() != StateActive {
		t.Fatalf("state after resume = %v", sess.State())
	}
	if got := sess.Snapshot().Resumes; got != 1 {
		t.Fatalf("resumes = %d, want 1", got)
	}

	res := <-resumeCh
	d, _ := res["d"].(map[string]any)
	if d["token"] != "tok-123" || d["session_id"] != "sess-1" {
		t.Fatalf("resume payload = %v", d)
	}
	if seq, _ := d["seq"].(float64); int64(seq) != 1 {
		t.Fatalf("resume seq = %v, want 1", d["seq"])
	}
	if fg.attemptCount() != 2 {
		t.Fatalf("attempts = %d, want 2", fg.attemptCount())
	}
}

func TestInvalidSessionReidentifies(t *testing.T) {
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		switch attempt {
		case 1:
			if !fg.hello(ctx, conn, 60_000) {
				return
			}
			if fg.readOp(ctx, conn, opIdentify) == nil {
				return
			}
			fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-1", fg.wsURL()))
			fg.send(ctx, conn, map[string]any{"op": opInvalidSession, "d": false})
			fg.drain(ctx, conn)
		case 2:
			if !fg.hello(ctx, conn, 60_000) {
				return
			}
			// A non-resumable invalidation must produce a fresh identify.
			if fg.readOp(ctx, conn, opIdentify) == nil {
				return
			}
			fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-2", ""))
			fg.drain(ctx, conn)
		}
	})

	sess, cancel, _ := startSession(t, Config{Token: "tok", GatewayURL: fg.wsURL()})
	defer cancel()

	first := nextEvent(t, sess, 5*time.Second)
	if ready, ok := first.Data.(*ReadyEvent); !ok || ready.SessionID != "sess-1" {
		t.Fatalf("first ready = %+v", first.Data)
	}
	second := nextEvent(t, sess, 10*time.Second)
	if ready, ok := second.Data.(*ReadyEvent); !ok || ready.SessionID != "sess-2" {
		t.Fatalf("second ready = %+v", second.Data)
	}
}

func TestResumableInvalidSessionResumes(t *testing.T) {
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		switch attempt {
		case 1:
			if !fg.hello(ctx, conn, 60_000) {
				return
			}
			if fg.readOp(ctx, conn, opIdentify) == nil {
				return
			}
			fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-1", fg.wsURL()))
			fg.send(ctx, conn, map[string]any{"op": opInvalidSession, "d": true})
			fg.drain(ctx, conn)
		case 2:
			if !fg.hello(ctx, conn, 60_000) {
				return
			}
			if fg.readOp(ctx, conn, opResume) == nil {
				return
			}
			fg.dispatch(ctx, conn, 2, EventResumed, `{}`)
			fg.drain(ctx, conn)
		}
	})

	sess, cancel, _ := startSession(t, Config{Token: "tok", GatewayURL: fg.wsURL()})
	defer cancel()

	if ev := nextEvent(t, sess, 5*time.Second); ev.Type != EventReady {
		t.Fatalf("first event = %+v", ev)
	}
	ev := nextEvent(t, sess, 10*time.Second)
	if _, ok := ev.Data.(*ResumedEvent); !ok {
		t.Fatalf("post-invalidation event = %+v", ev)
	}
}

func TestFatalCloseCodeStopsRun(t *testing.T) {
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		if !fg.hello(ctx, conn, 60_000) {
			return
		}
		if fg.readOp(ctx, conn, opIdentify) == nil {
			return
		}
		_ = conn.Close(websocket.StatusCode(4004), "Authentication failed.")
	})

	sess, _, runErr := startSession(t, Config{Token: "bad-token", GatewayURL: fg.wsURL()})

	err := waitRunReturn(t, runErr)
	if err == nil || !strings.Contains(err.Error(), "fatal close 4004") {
		t.Fatalf("Run() error = %v, want fatal close 4004", err)
	}
	waitEventsClosed(t, sess)
	if fg.attemptCount() != 1 {
		t.Fatalf("attempts = %d, want no reconnect", fg.attemptCount())
	}
}

func TestHeartbeatsCarrySequence(t *testing.T) {
	beats := make(chan any, 64)
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		if !fg.hello(ctx, conn, 50) {
			return
		}
		if fg.readOp(ctx, conn, opIdentify) == nil {
			return
		}
		if !fg.dispatch(ctx, conn, 7, EventReady, readyPayload("sess-1", "")) {
			return
		}
		for {
			var frame map[string]any
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				return
			}
			if op, ok := frame["op"].(float64); ok && int(op) == opHeartbeat {
				beats <- frame["d"]
				if !fg.send(ctx, conn, map[string]any{"op": opHeartbeatACK}) {
					return
				}
			}
		}
	})

	sess, cancel, _ := startSession(t, Config{Token: "tok", GatewayURL: fg.wsURL()})
	defer cancel()

	if ev := nextEvent(t, sess, 5*time.Second); ev.Seq != 7 {
		t.Fatalf("ready seq = %d", ev.Seq)
	}

	// Beats sent before the ready dispatch carry no sequence; once seq 7 is
	// recorded every beat must carry it.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-beats:
			if d == nil {
				continue
			}
			if seq, ok := d.(float64); ok && int64(seq) == 7 {
				return
			}
			t.Fatalf("heartbeat d = %v, want 7", d)
		case <-deadline:
			t.Fatal("no sequenced heartbeat arrived")
		}
	}
}

func TestMissedHeartbeatAcksForceReconnect(t *testing.T) {
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		switch attempt {
		case 1:
			if !fg.hello(ctx, conn, 30) {
				return
			}
			// Swallow everything without acking; after two unacked beats
			// the client must abandon the connection.
			for {
				var frame map[string]any
				if err := wsjson.Read(ctx, conn, &frame); err != nil {
					return
				}
				if op, ok := frame["op"].(float64); ok && int(op) == opIdentify {
					fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-1", fg.wsURL()))
				}
			}
		case 2:
			if !fg.hello(ctx, conn, 60_000) {
				return
			}
			if fg.readOp(ctx, conn, opResume) == nil {
				return
			}
			fg.dispatch(ctx, conn, 2, EventResumed, `{}`)
			fg.drain(ctx, conn)
		}
	})

	sess, cancel, _ := startSession(t, Config{Token: "tok", GatewayURL: fg.wsURL()})
	defer cancel()

	if ev := nextEvent(t, sess, 5*time.Second); ev.Type != EventReady {
		t.Fatalf("first event = %+v", ev)
	}
	ev := nextEvent(t, sess, 10*time.Second)
	if _, ok := ev.Data.(*ResumedEvent); !ok {
		t.Fatalf("post-stall event = %+v", ev)
	}
	if fg.attemptCount() != 2 {
		t.Fatalf("attempts = %d, want 2", fg.attemptCount())
	}
}

func TestURLFuncSuppliesDialURL(t *testing.T) {
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		if !fg.hello(ctx, conn, 60_000) {
			return
		}
		if fg.readOp(ctx, conn, opIdentify) == nil {
			return
		}
		fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-1", ""))
		fg.drain(ctx, conn)
	})

	var calls atomic.Int32
	sess, cancel, _ := startSession(t, Config{
		Token: "tok",
		URLFunc: func(ctx context.Context) (string, error) {
			calls.Add(1)
			return fg.wsURL(), nil
		},
	})
	defer cancel()

	if ev := nextEvent(t, sess, 5*time.Second); ev.Type != EventReady {
		t.Fatalf("first event = %+v", ev)
	}
	if calls.Load() == 0 {
		t.Fatal("URLFunc never called")
	}
}

func TestSessionPublishesLifecycleEvents(t *testing.T) {
	var fg *fakeGateway
	fg = newFakeGateway(t, func(ctx context.Context, conn *websocket.Conn, attempt int) {
		if !fg.hello(ctx, conn, 60_000) {
			return
		}
		if fg.readOp(ctx, conn, opIdentify) == nil {
			return
		}
		fg.dispatch(ctx, conn, 1, EventReady, readyPayload("sess-1", ""))
		fg.drain(ctx, conn)
	})

	eventBus := bus.New()
	sub := eventBus.Subscribe("session.")
	defer eventBus.Unsubscribe(sub)

	sess, cancel, runErr := startSession(t, Config{
		Token:      "tok",
		GatewayURL: fg.wsURL(),
		Bus:        eventBus,
	})

	nextEvent(t, sess, 5*time.Second)

	wantTopic := func(want string) {
		t.Helper()
		select {
		case ev := <-sub.Ch():
			if ev.Topic != want {
				t.Fatalf("topic = %q, want %q", ev.Topic, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no %q event", want)
		}
	}
	wantTopic(bus.TopicSessionConnected)
	wantTopic(bus.TopicSessionReady)

	cancel()
	waitRunReturn(t, runErr)
	wantTopic(bus.TopicSessionDisconnected)
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{GatewayURL: "ws://example"}); err == nil {
		t.Fatal("New() accepted a config without a token")
	}
	if _, err := New(Config{Token: "tok"}); err == nil {
		t.Fatal("New() accepted a config without a URL source")
	}
	sess, err := New(Config{Token: "tok", URLFunc: func(ctx context.Context) (string, error) { return "ws://example", nil }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if sess.State() != StateDisconnected {
		t.Fatalf("initial state = %v", sess.State())
	}
}

func TestUnreachableResumeTargetFallsBack(t *testing.T) {
	// A closed listener's address refuses connections immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := "ws://" + ln.Addr().String()
	ln.Close()

	sess, err := New(Config{Token: "tok", GatewayURL: "ws://base.example"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sess.mu.Lock()
	sess.sessionID = "sess-1"
	sess.resumeURL = deadAddr
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < maxResumeDialFails; i++ {
		if !sess.canResume() {
			t.Fatalf("session dropped after only %d dial failures", i)
		}
		if err := sess.runOnce(ctx); err == nil {
			t.Fatal("runOnce() succeeded against a closed listener")
		}
	}
	if sess.canResume() {
		t.Fatal("session still pinned to the unreachable resume target")
	}

	// The next attempt must dial the base URL with a fresh identify.
	target, resuming, err := sess.dialTarget(ctx)
	if err != nil {
		t.Fatalf("dialTarget() error = %v", err)
	}
	if resuming {
		t.Fatal("dialTarget() still resuming after fallback")
	}
	if !strings.HasPrefix(target, "ws://base.example") {
		t.Fatalf("dial target = %q, want the base gateway URL", target)
	}
}

func TestGatewayAddrAppendsProtocolQuery(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"wss://gateway.discord.gg", "wss://gateway.discord.gg/?v=10&encoding=json"},
		{"wss://gateway.discord.gg/", "wss://gateway.discord.gg/?v=10&encoding=json"},
		{"wss://gateway.discord.gg/?v=10&encoding=json", "wss://gateway.discord.gg/?v=10&encoding=json"},
	}
	for _, tc := range cases {
		if got := gatewayAddr(tc.in); got != tc.want {
			t.Errorf("gatewayAddr(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
