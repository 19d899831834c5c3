package command_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ferrite-bot/ferrite/internal/bus"
	"github.com/ferrite-bot/ferrite/internal/command"
	"github.com/ferrite-bot/ferrite/internal/discord"
	"github.com/ferrite-bot/ferrite/internal/perms"
)

type recordedCall struct {
	Method string
	Path   string
	Body   string
}

// Content extracts the "content" field from a recorded JSON body.
func (c recordedCall) Content(t *testing.T) string {
	t.Helper()
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(c.Body), &payload); err != nil {
		t.Fatalf("recorded body is not JSON: %v", err)
	}
	return payload.Content
}

// fakeAPI is an in-process platform API that records every call and answers
// message posts with sequential ids resp-1, resp-2, ...
type fakeAPI struct {
	mu     sync.Mutex
	calls  []recordedCall
	nextID int
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		f.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
			f.mu.Lock()
			f.nextID++
			id := fmt.Sprintf("resp-%d", f.nextID)
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":%q,"channel_id":"c1"}`, id)
		case r.Method == http.MethodPatch:
			parts := strings.Split(r.URL.Path, "/")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":%q,"channel_id":"c1"}`, parts[len(parts)-1])
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func (f *fakeAPI) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

type routerFixture struct {
	router *command.Router
	api    *fakeAPI
	cache  *perms.Cache
	bus    *bus.Bus
}

func newRouterFixture(t *testing.T, specs ...command.Spec) *routerFixture {
	t.Helper()
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	rest, err := discord.NewClient(discord.ClientConfig{Token: "test-token", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := perms.NewCache()
	resolver := perms.NewResolver(cache, perms.RoleSet{Mod: "mod-role", WgAndTeams: "wg-role"}, logger)
	eventBus := bus.New()

	router := command.New(command.Config{
		Prefix:   "?",
		Resolver: resolver,
		Rest:     rest,
		Logger:   logger,
		Bus:      eventBus,
	})
	for _, spec := range specs {
		if err := router.Register(spec); err != nil {
			t.Fatalf("Register(%s) error = %v", spec.Name, err)
		}
	}
	return &routerFixture{router: router, api: api, cache: cache, bus: eventBus}
}

func message(id, content string) *discord.Message {
	return &discord.Message{
		ID:        id,
		ChannelID: "c1",
		GuildID:   "g1",
		Author:    &discord.User{ID: "invoker"},
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestDispatchIgnoresUnprefixedMessages(t *testing.T) {
	ran := false
	fx := newRouterFixture(t, command.Spec{Name: "ping", Run: func(context.Context, *command.Invocation) error {
		ran = true
		return nil
	}})

	fx.router.Dispatch(context.Background(), message("m1", "ping without prefix"))

	if ran {
		t.Fatal("handler ran for an unprefixed message")
	}
	if calls := fx.api.recorded(); len(calls) != 0 {
		t.Fatalf("expected no API calls, got %v", calls)
	}
}

func TestDispatchUnknownCommandIsSilent(t *testing.T) {
	fx := newRouterFixture(t, command.Spec{Name: "ping", Run: func(context.Context, *command.Invocation) error {
		return nil
	}})

	fx.router.Dispatch(context.Background(), message("m1", "?definitely-not-registered hello"))

	if calls := fx.api.recorded(); len(calls) != 0 {
		t.Fatalf("unknown command produced channel output: %v", calls)
	}
}

func TestDispatchMatchesCaseInsensitivelyAndPassesTail(t *testing.T) {
	var gotArgs string
	fx := newRouterFixture(t, command.Spec{Name: "coc", Run: func(_ context.Context, inv *command.Invocation) error {
		gotArgs = inv.Args
		return nil
	}})

	fx.router.Dispatch(context.Background(), message("m1", "?CoC   <#chan-1> extra words"))

	if gotArgs != "<#chan-1> extra words" {
		t.Fatalf("args = %q, want %q", gotArgs, "<#chan-1> extra words")
	}
}

func TestDispatchDeniesUnprivilegedWithSingleReply(t *testing.T) {
	ran := false
	fx := newRouterFixture(t, command.Spec{Name: "ban", Privilege: perms.PrivilegeMod, Run: func(context.Context, *command.Invocation) error {
		ran = true
		return nil
	}})
	sub := fx.bus.Subscribe(bus.TopicCommandDenied)
	defer fx.bus.Unsubscribe(sub)

	fx.router.Dispatch(context.Background(), message("m1", "?ban <@99>"))

	if ran {
		t.Fatal("handler ran despite denial")
	}
	calls := fx.api.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one reply, got %d calls", len(calls))
	}
	if got := calls[0].Content(t); got != "You do not have permission to run this command" {
		t.Fatalf("denial reply = %q", got)
	}
	select {
	case ev := <-sub.Ch():
		if ev.Payload.(bus.CommandEvent).Name != "ban" {
			t.Fatalf("denied event for wrong command: %+v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no denied event on the bus")
	}
}

func TestDispatchAllowsPrivilegedInvoker(t *testing.T) {
	ran := false
	fx := newRouterFixture(t, command.Spec{Name: "ban", Privilege: perms.PrivilegeMod, Run: func(context.Context, *command.Invocation) error {
		ran = true
		return nil
	}})
	fx.cache.SetMember("g1", "invoker", []string{"mod-role"})

	fx.router.Dispatch(context.Background(), message("m1", "?ban <@99>"))

	if !ran {
		t.Fatal("handler did not run for a privileged invoker")
	}
}

func TestDispatchHandlerErrorProducesGenericReply(t *testing.T) {
	attempts := 0
	fx := newRouterFixture(t, command.Spec{Name: "tag", Run: func(context.Context, *command.Invocation) error {
		attempts++
		return errors.New("pg: connection refused at 10.0.0.3")
	}})

	fx.router.Dispatch(context.Background(), message("m1", "?tag rules"))

	if attempts != 1 {
		t.Fatalf("attempts = %d, want exactly one invocation", attempts)
	}
	calls := fx.api.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected one failure reply, got %d calls", len(calls))
	}
	content := calls[0].Content(t)
	if content != "Something went wrong, try again later." {
		t.Fatalf("failure reply = %q", content)
	}
	if strings.Contains(content, "10.0.0.3") {
		t.Fatal("failure reply leaked internal detail")
	}
}

func TestDispatchHandlerTimeoutIsFailure(t *testing.T) {
	fx := newRouterFixture(t, command.Spec{Name: "slow", Run: func(ctx context.Context, _ *command.Invocation) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	fx.router.Dispatch(ctx, message("m1", "?slow"))

	calls := fx.api.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected one failure reply after timeout, got %d calls", len(calls))
	}
	if got := calls[0].Content(t); got != "Something went wrong, try again later." {
		t.Fatalf("timeout reply = %q", got)
	}
}

func TestDispatchHandlerPermissionError(t *testing.T) {
	fx := newRouterFixture(t, command.Spec{Name: "tags", Run: func(context.Context, *command.Invocation) error {
		return command.ErrPermissionDenied
	}})

	fx.router.Dispatch(context.Background(), message("m1", "?tags create k v"))

	calls := fx.api.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected one denial reply, got %d calls", len(calls))
	}
	if got := calls[0].Content(t); got != "You do not have permission to run this command" {
		t.Fatalf("handler denial reply = %q", got)
	}
}

func TestReplyEditsPreviousResponseOnReplay(t *testing.T) {
	fx := newRouterFixture(t, command.Spec{Name: "echo", Run: func(ctx context.Context, inv *command.Invocation) error {
		return inv.Reply(ctx, "echo: "+inv.Args)
	}})

	msg := message("m1", "?echo one")
	fx.router.Dispatch(context.Background(), msg)

	edited := time.Now()
	msg.Content = "?echo two"
	msg.EditedTimestamp = &edited
	fx.router.Replay(context.Background(), msg)

	calls := fx.api.recorded()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls (post, edit), got %d: %v", len(calls), calls)
	}
	if calls[0].Method != http.MethodPost {
		t.Fatalf("first call = %s, want POST", calls[0].Method)
	}
	if calls[1].Method != http.MethodPatch || !strings.HasSuffix(calls[1].Path, "/messages/resp-1") {
		t.Fatalf("second call = %s %s, want PATCH of resp-1", calls[1].Method, calls[1].Path)
	}
	if got := calls[1].Content(t); got != "echo: two" {
		t.Fatalf("edited reply = %q, want %q", got, "echo: two")
	}
}

func TestReplaySkipsOldAndNonEdits(t *testing.T) {
	ran := 0
	fx := newRouterFixture(t, command.Spec{Name: "echo", Run: func(context.Context, *command.Invocation) error {
		ran++
		return nil
	}})

	// No edited timestamp: not a user edit.
	fx.router.Replay(context.Background(), message("m1", "?echo hi"))

	// Edited more than an hour after posting.
	old := message("m2", "?echo hi")
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	edited := old.Timestamp.Add(90 * time.Minute)
	old.EditedTimestamp = &edited
	fx.router.Replay(context.Background(), old)

	if ran != 0 {
		t.Fatalf("replay ran %d times, want 0", ran)
	}
}

func TestForgetMessageDeletesResponse(t *testing.T) {
	fx := newRouterFixture(t, command.Spec{Name: "echo", Run: func(ctx context.Context, inv *command.Invocation) error {
		return inv.Reply(ctx, "hi")
	}})

	fx.router.Dispatch(context.Background(), message("m1", "?echo"))
	fx.router.ForgetMessage(context.Background(), "c1", "m1")

	calls := fx.api.recorded()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls (post, delete), got %d", len(calls))
	}
	if calls[1].Method != http.MethodDelete || !strings.HasSuffix(calls[1].Path, "/messages/resp-1") {
		t.Fatalf("second call = %s %s, want DELETE of resp-1", calls[1].Method, calls[1].Path)
	}

	// A message the router never answered is a no-op.
	fx.router.ForgetMessage(context.Background(), "c1", "m-unknown")
	if len(fx.api.recorded()) != 2 {
		t.Fatal("ForgetMessage for unknown message made an API call")
	}
}

func TestPruneHistoryKeepsMostRecent(t *testing.T) {
	fx := newRouterFixture(t, command.Spec{Name: "echo", Run: func(ctx context.Context, inv *command.Invocation) error {
		return inv.Reply(ctx, "hi")
	}})

	first := message("m1", "?echo a")
	second := message("m2", "?echo b")
	fx.router.Dispatch(context.Background(), first)  // answered by resp-1
	fx.router.Dispatch(context.Background(), second) // answered by resp-2

	fx.router.PruneHistory()

	// The pruned entry posts fresh; the kept entry still edits.
	edited := time.Now()
	first.EditedTimestamp = &edited
	fx.router.Replay(context.Background(), first)
	second.EditedTimestamp = &edited
	fx.router.Replay(context.Background(), second)

	calls := fx.api.recorded()
	if len(calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(calls))
	}
	if calls[2].Method != http.MethodPost {
		t.Fatalf("pruned command should post fresh, got %s %s", calls[2].Method, calls[2].Path)
	}
	if calls[3].Method != http.MethodPatch || !strings.HasSuffix(calls[3].Path, "/messages/resp-2") {
		t.Fatalf("kept command should edit resp-2, got %s %s", calls[3].Method, calls[3].Path)
	}
}

func TestRegisterRejectsDuplicatesAndBadNames(t *testing.T) {
	fx := newRouterFixture(t)
	run := func(context.Context, *command.Invocation) error { return nil }

	if err := fx.router.Register(command.Spec{Name: "Tag", Run: run}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := fx.router.Register(command.Spec{Name: "tag", Run: run}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := fx.router.Register(command.Spec{Name: "two words", Run: run}); err == nil {
		t.Fatal("expected whitespace name to fail")
	}
	if err := fx.router.Register(command.Spec{Name: "norun"}); err == nil {
		t.Fatal("expected missing handler to fail")
	}
}

func TestDisabledCommandBehavesLikeUnknown(t *testing.T) {
	enabled := false
	ran := false
	fx := newRouterFixture(t, command.Spec{
		Name:    "crate",
		Enabled: func() bool { return enabled },
		Run: func(context.Context, *command.Invocation) error {
			ran = true
			return nil
		},
	})

	fx.router.Dispatch(context.Background(), message("m1", "?crate serde"))
	if ran || len(fx.api.recorded()) != 0 {
		t.Fatal("disabled command executed or replied")
	}

	enabled = true
	fx.router.Dispatch(context.Background(), message("m2", "?crate serde"))
	if !ran {
		t.Fatal("re-enabled command did not execute")
	}
}

func TestVisibleFiltersByPrivilegeAndToggle(t *testing.T) {
	var visible []string
	run := func(context.Context, *command.Invocation) error { return nil }
	fx := newRouterFixture(t,
		command.Spec{Name: "tag", Run: run},
		command.Spec{Name: "ban", Privilege: perms.PrivilegeMod, Run: run},
		command.Spec{Name: "crate", Enabled: func() bool { return false }, Run: run},
		command.Spec{Name: "help", Run: func(_ context.Context, inv *command.Invocation) error {
			for _, spec := range inv.Visible() {
				visible = append(visible, spec.Name)
			}
			return nil
		}},
	)

	fx.router.Dispatch(context.Background(), message("m1", "?help"))

	want := []string{"tag", "help"}
	if len(visible) != len(want) || visible[0] != want[0] || visible[1] != want[1] {
		t.Fatalf("visible = %v, want %v", visible, want)
	}
}
