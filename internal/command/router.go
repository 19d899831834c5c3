// Package command parses prefixed chat messages and routes them to
// registered handlers under the permission model. Replies are
// history-aware: editing a command message edits the bot's answer, and
// deleting it deletes the answer.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ferrite-bot/ferrite/internal/bus"
	"github.com/ferrite-bot/ferrite/internal/discord"
	"github.com/ferrite-bot/ferrite/internal/perms"
)

const (
	deniedReply  = "You do not have permission to run this command"
	failureReply = "Something went wrong, try again later."

	// replyTimeout bounds the denial/failure replies, which run on a fresh
	// context because the handler's own context may already be dead.
	replyTimeout = 10 * time.Second

	// maxReplayAge is how long after posting an edited message is still
	// re-dispatched, so users can fix typos in commands.
	maxReplayAge = time.Hour
)

// ErrPermissionDenied tells the router a handler refused the invoker.
// Handlers with per-subcommand privileges (the tags family) return it so the
// denial reply stays identical to the router's own.
var ErrPermissionDenied = errors.New("permission denied")

// HandlerFunc executes one command invocation. A returned error produces the
// generic failure reply; the detail is only logged.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Spec describes one registered command.
type Spec struct {
	// Name is the lowercase command word, without prefix.
	Name string
	// Privilege is required to run the command at all.
	Privilege perms.Privilege
	// Help is the one-line description shown in the help menu.
	Help string
	// Detail is the long-form text for "?help <name>". Empty falls back to Help.
	Detail string
	// Enabled gates the command at dispatch time. Nil means always enabled;
	// a disabled command behaves exactly like an unregistered one.
	Enabled func() bool
	// Run is the handler.
	Run HandlerFunc
}

// Config holds the dependencies for a Router.
type Config struct {
	// Prefix is the command sigil, e.g. "?".
	Prefix   string
	Resolver *perms.Resolver
	Rest     *discord.Client
	Logger   *slog.Logger
	// Bus receives command activity events. May be nil.
	Bus *bus.Bus
}

// Router matches inbound messages against the command table and invokes
// handlers. It performs exactly one invocation attempt per inbound message
// and never retries.
type Router struct {
	prefix   string
	resolver *perms.Resolver
	rest     *discord.Client
	logger   *slog.Logger
	bus      *bus.Bus

	table   map[string]*Spec
	order   []string
	history *history
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "?"
	}
	return &Router{
		prefix:   prefix,
		resolver: cfg.Resolver,
		rest:     cfg.Rest,
		logger:   logger,
		bus:      cfg.Bus,
		table:    make(map[string]*Spec),
		history:  newHistory(),
	}
}

// Register adds a command to the table. Registration happens once at
// startup; names are matched case-insensitively by lowercasing both sides.
func (r *Router) Register(spec Spec) error {
	name := strings.ToLower(strings.TrimSpace(spec.Name))
	if name == "" {
		return fmt.Errorf("command name is empty")
	}
	if strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("command name %q contains whitespace", name)
	}
	if spec.Run == nil {
		return fmt.Errorf("command %q has no handler", name)
	}
	if _, exists := r.table[name]; exists {
		return fmt.Errorf("command %q registered twice", name)
	}
	spec.Name = name
	r.table[name] = &spec
	r.order = append(r.order, name)
	r.logger.Debug("command registered", "command", name, "privilege", spec.Privilege.String())
	return nil
}

// Prefix returns the configured command sigil.
func (r *Router) Prefix() string {
	return r.prefix
}

// Specs returns the registered commands in registration order.
func (r *Router) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.table[name])
	}
	return out
}

// Lookup returns the spec for a command name, case-insensitively.
func (r *Router) Lookup(name string) (Spec, bool) {
	spec, ok := r.table[strings.ToLower(name)]
	if !ok {
		return Spec{}, false
	}
	return *spec, true
}

// Dispatch routes one inbound message. Messages without the prefix and
// unknown command names are silent no-ops so unrelated bot prefixes do not
// produce noise. The permission denial is the only visible negative path;
// handler failures produce a deliberately generic reply with the detail
// logged for the operator.
func (r *Router) Dispatch(ctx context.Context, msg *discord.Message) {
	if msg == nil || msg.Author == nil {
		return
	}
	if !strings.HasPrefix(msg.Content, r.prefix) {
		return
	}
	name, tail := splitCommand(msg.Content[len(r.prefix):])
	if name == "" {
		return
	}
	spec, known := r.table[name]
	if !known {
		r.logger.Debug("unknown command ignored", "command", name)
		return
	}
	if spec.Enabled != nil && !spec.Enabled() {
		return
	}

	inv := &Invocation{
		ID:     uuid.NewString(),
		Msg:    msg,
		Args:   tail,
		router: r,
	}
	logger := r.logger.With(
		"invocation_id", inv.ID,
		"command", name,
		"guild_id", msg.GuildID,
		"user_id", msg.Author.ID,
	)

	if !r.resolver.Has(msg.GuildID, msg.Author.ID, spec.Privilege) {
		logger.Info("command denied", "privilege", spec.Privilege.String())
		r.replyOutcome(inv, deniedReply)
		r.publish(bus.TopicCommandDenied, inv, name, 0, ErrPermissionDenied)
		return
	}

	logger.Info("executing command")
	start := time.Now()
	err := spec.Run(ctx, inv)
	duration := time.Since(start)
	switch {
	case err == nil:
		logger.Debug("command finished", "duration_ms", duration.Milliseconds())
	case errors.Is(err, ErrPermissionDenied):
		logger.Info("command denied by handler")
		r.replyOutcome(inv, deniedReply)
		r.publish(bus.TopicCommandDenied, inv, name, duration.Milliseconds(), err)
		return
	default:
		logger.Error("command failed", "error", err, "duration_ms", duration.Milliseconds())
		r.replyOutcome(inv, failureReply)
	}
	r.publish(bus.TopicCommandExecuted, inv, name, duration.Milliseconds(), err)
}

// Replay re-dispatches an edited message so a typo'd command can be fixed in
// place. Edits older than an hour, and updates that are not user edits
// (embed unfurls carry no edited timestamp), are ignored.
func (r *Router) Replay(ctx context.Context, msg *discord.Message) {
	if msg == nil || msg.EditedTimestamp == nil || msg.Timestamp.IsZero() {
		return
	}
	if msg.EditedTimestamp.Sub(msg.Timestamp) >= maxReplayAge {
		return
	}
	if !strings.HasPrefix(msg.Content, r.prefix) {
		return
	}
	r.logger.Info("replaying edited command", "message_id", msg.ID)
	r.Dispatch(ctx, msg)
}

// ForgetMessage handles a deleted command message: the bot's response, if
// any, is deleted too and the history entry dropped.
func (r *Router) ForgetMessage(ctx context.Context, channelID, messageID string) {
	responseID, ok := r.history.remove(messageID)
	if !ok {
		return
	}
	r.logger.Info("deleting response to deleted command", "response_id", responseID)
	if err := r.rest.DeleteMessage(ctx, channelID, responseID); err != nil {
		r.logger.Warn("delete response failed", "response_id", responseID, "error", err)
	}
}

// PruneHistory drops all but the most recent history entry. Run hourly.
func (r *Router) PruneHistory() {
	if dropped := r.history.prune(); dropped > 0 {
		r.logger.Info("command history pruned", "dropped", dropped)
	}
}

// replyOutcome posts a denial or failure reply on a fresh bounded context;
// the invocation's own context may already be cancelled or expired.
func (r *Router) replyOutcome(inv *Invocation, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if err := inv.Reply(ctx, content); err != nil {
		r.logger.Warn("outcome reply failed", "invocation_id", inv.ID, "error", err)
	}
}

func (r *Router) publish(topic string, inv *Invocation, name string, durationMS int64, err error) {
	if r.bus == nil {
		return
	}
	ev := bus.CommandEvent{
		Name:         name,
		GuildID:      inv.Msg.GuildID,
		UserID:       inv.Msg.Author.ID,
		InvocationID: inv.ID,
		DurationMS:   durationMS,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	r.bus.Publish(topic, ev)
}

// splitCommand cuts "name arg tail" into the lowercased name and the raw
// tail. The tail is not tokenized; each handler owns its own argument shape.
func splitCommand(s string) (name, tail string) {
	if idx := strings.IndexAny(s, " \t\n"); idx >= 0 {
		return strings.ToLower(s[:idx]), strings.TrimLeft(s[idx+1:], " \t\n")
	}
	return strings.ToLower(s), ""
}

// Invocation is one command execution: the triggering message, the raw
// argument tail, and the reply surface.
type Invocation struct {
	// ID is the per-invocation trace id carried through logs and bus events.
	ID string
	// Msg is the triggering message.
	Msg *discord.Message
	// Args is the raw text after the command name.
	Args string

	router *Router
}

// Prefix returns the router's command sigil, for help text.
func (inv *Invocation) Prefix() string {
	return inv.router.prefix
}

// Authorized reports whether the invoker holds the privilege. Handlers with
// per-subcommand privileges consult this and return ErrPermissionDenied.
func (inv *Invocation) Authorized(p perms.Privilege) bool {
	return inv.router.resolver.Has(inv.Msg.GuildID, inv.Msg.Author.ID, p)
}

// Visible returns the registered commands the invoker may run, in
// registration order, skipping disabled ones. Used by the help menu.
func (inv *Invocation) Visible() []Spec {
	var out []Spec
	for _, spec := range inv.router.Specs() {
		if spec.Enabled != nil && !spec.Enabled() {
			continue
		}
		if !inv.Authorized(spec.Privilege) {
			continue
		}
		out = append(out, spec)
	}
	return out
}

// Reply posts a text response to the invoking channel. If this command
// message was answered before (the user edited and the command replayed),
// the previous response is edited instead of posting a second one.
func (inv *Invocation) Reply(ctx context.Context, content string) error {
	r := inv.router
	if responseID, ok := r.history.response(inv.Msg.ID); ok {
		if _, err := r.rest.EditMessage(ctx, inv.Msg.ChannelID, responseID, discord.MessageCreate{Content: content}); err != nil {
			return fmt.Errorf("edit reply: %w", err)
		}
		return nil
	}
	resp, err := r.rest.CreateMessage(ctx, inv.Msg.ChannelID, discord.MessageCreate{Content: content})
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	r.history.record(inv.Msg.ID, resp.ID)
	return nil
}

// ReplyEmbed posts an embed response. Embeds are not history-tracked; a
// replayed command posts a fresh embed.
func (inv *Invocation) ReplyEmbed(ctx context.Context, embed discord.Embed) error {
	if _, err := inv.router.rest.CreateMessage(ctx, inv.Msg.ChannelID, discord.MessageCreate{Embeds: []discord.Embed{embed}}); err != nil {
		return fmt.Errorf("send embed: %w", err)
	}
	return nil
}

// React adds a reaction to the invoking message, the quiet acknowledgment
// used by the tag mutations.
func (inv *Invocation) React(ctx context.Context, emoji string) error {
	return inv.router.rest.CreateReaction(ctx, inv.Msg.ChannelID, inv.Msg.ID, emoji)
}
