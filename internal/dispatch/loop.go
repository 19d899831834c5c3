// Package dispatch consumes the gateway's ordered event stream. Member
// cache writes happen inline on the loop (it is the cache's single writer);
// command handlers run on a bounded worker pool so a slow handler never
// stalls decoding. Reaction handlers run on per-key serial lanes instead:
// a grant and a later revoke for the same message and user must reach the
// platform in event order.
package dispatch

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/ferrite-bot/ferrite/internal/coc"
	"github.com/ferrite-bot/ferrite/internal/command"
	"github.com/ferrite-bot/ferrite/internal/discord"
	"github.com/ferrite-bot/ferrite/internal/gateway"
	"github.com/ferrite-bot/ferrite/internal/perms"
	"github.com/ferrite-bot/ferrite/internal/persistence"
)

const (
	defaultWorkers        = 4
	defaultHandlerTimeout = 30 * time.Second
	defaultDrainTimeout   = 5 * time.Second

	// laneBuffer bounds queued reactions per lane before intake blocks.
	laneBuffer = 16
)

type task func(taskCtx context.Context)

// Config holds the loop's collaborators and limits.
type Config struct {
	Events  <-chan gateway.Event
	Router  *command.Router
	Tracker *coc.Tracker
	Cache   *perms.Cache
	Store   *persistence.Store
	Logger  *slog.Logger
	// Workers caps concurrently running handlers.
	Workers int
	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration
	// DrainTimeout bounds the wait for in-flight handlers at shutdown.
	DrainTimeout time.Duration
}

// Loop is the single consumer of the session's event stream.
type Loop struct {
	events         <-chan gateway.Event
	router         *command.Router
	tracker        *coc.Tracker
	cache          *perms.Cache
	store          *persistence.Store
	logger         *slog.Logger
	handlerTimeout time.Duration
	drainTimeout   time.Duration

	slots chan struct{}
	wg    sync.WaitGroup

	// lanes serialize reaction handling per (message, user): events sharing
	// a key land on the same lane and run in arrival order.
	lanes  []chan task
	laneWG sync.WaitGroup

	// selfID is only touched by the loop goroutine.
	selfID string
}

// New creates a dispatch loop.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	handlerTimeout := cfg.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	lanes := make([]chan task, workers)
	for i := range lanes {
		lanes[i] = make(chan task, laneBuffer)
	}
	return &Loop{
		events:         cfg.Events,
		router:         cfg.Router,
		tracker:        cfg.Tracker,
		cache:          cfg.Cache,
		store:          cfg.Store,
		logger:         logger,
		handlerTimeout: handlerTimeout,
		drainTimeout:   drainTimeout,
		slots:          make(chan struct{}, workers),
		lanes:          lanes,
	}
}

// Run consumes events until ctx is cancelled or the event channel closes,
// then waits for in-flight handlers up to the drain timeout.
func (l *Loop) Run(ctx context.Context) {
	for _, lane := range l.lanes {
		l.laneWG.Add(1)
		go l.laneWorker(lane)
	}
	defer l.drain()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.events:
			if !ok {
				return
			}
			l.handle(ctx, ev)
		}
	}
}

func (l *Loop) handle(ctx context.Context, ev gateway.Event) {
	switch data := ev.Data.(type) {
	case *gateway.ReadyEvent:
		l.selfID = data.User.ID
		for i := range data.Guilds {
			l.cache.HydrateGuild(&data.Guilds[i])
		}
		l.logStoredBindings(ctx)

	case *discord.Guild:
		l.cache.HydrateGuild(data)
		l.logger.Info("guild available",
			"guild_id", data.ID,
			"members_cached", len(data.Members),
		)

	case *gateway.GuildMemberAddEvent:
		if data.User != nil {
			l.cache.SetMember(data.GuildID, data.User.ID, data.Roles)
		}

	case *gateway.GuildMemberUpdateEvent:
		l.cache.SetMember(data.GuildID, data.User.ID, data.Roles)

	case *gateway.GuildMemberRemoveEvent:
		l.cache.RemoveMember(data.GuildID, data.User.ID)

	case *discord.Message:
		l.handleMessage(ctx, ev.Type, data)

	case *gateway.MessageDeleteEvent:
		l.submit(ctx, func(taskCtx context.Context) {
			l.router.ForgetMessage(taskCtx, data.ChannelID, data.ID)
		})

	case *gateway.ReactionEvent:
		l.handleReaction(ctx, data)

	case *gateway.GuildBanRemoveEvent:
		// Manual unbans must be marked, or the hourly sweep re-lifts them.
		if err := l.store.MarkUnbanned(ctx, data.GuildID, data.User.ID); err != nil {
			l.logger.Warn("marking manual unban failed",
				"guild_id", data.GuildID,
				"user_id", data.User.ID,
				"error", err,
			)
		}
	}
}

func (l *Loop) handleMessage(ctx context.Context, eventType string, msg *discord.Message) {
	// Message payloads carry the author's current guild roles; keeping the
	// cache fresh here means most commands never need a member fetch.
	if msg.GuildID != "" && msg.Member != nil && msg.Author != nil {
		l.cache.SetMember(msg.GuildID, msg.Author.ID, msg.Member.Roles)
	}
	if msg.Author == nil || msg.Author.ID == l.selfID || msg.Author.Bot {
		return
	}

	switch eventType {
	case gateway.EventMessageCreate:
		l.submit(ctx, func(taskCtx context.Context) {
			l.router.Dispatch(taskCtx, msg)
		})
	case gateway.EventMessageUpdate:
		l.submit(ctx, func(taskCtx context.Context) {
			l.router.Replay(taskCtx, msg)
		})
	}
}

func (l *Loop) handleReaction(ctx context.Context, ev *gateway.ReactionEvent) {
	if ev.Member != nil && ev.Member.User != nil && ev.GuildID != "" {
		l.cache.SetMember(ev.GuildID, ev.Member.User.ID, ev.Member.Roles)
	}
	// The bot seeds its own reaction on every billboard; acting on it would
	// grant the talk role to the bot.
	if ev.UserID == l.selfID {
		return
	}

	reaction := coc.Reaction{
		UserID:    ev.UserID,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		Emoji:     ev.Emoji.Key(),
		Added:     ev.Added,
	}
	l.submitLane(ctx, reaction.MessageID+"\x00"+reaction.UserID, func(taskCtx context.Context) {
		if err := l.tracker.HandleReaction(taskCtx, reaction); err != nil {
			l.logger.Error("reaction handling failed",
				"message_id", reaction.MessageID,
				"user_id", reaction.UserID,
				"error", err,
			)
		}
	})
}

// submitLane queues fn on the lane picked by key. Tasks sharing a key run
// one at a time in submission order; distinct keys still fan out across
// lanes.
func (l *Loop) submitLane(ctx context.Context, key string, fn task) {
	h := fnv.New32a()
	h.Write([]byte(key))
	lane := l.lanes[h.Sum32()%uint32(len(l.lanes))]
	select {
	case lane <- fn:
	case <-ctx.Done():
	}
}

func (l *Loop) laneWorker(lane chan task) {
	defer l.laneWG.Done()
	for fn := range lane {
		l.runTask(fn)
	}
}

// submit runs fn on the worker pool. The task context is detached from the
// loop's: once a handler starts it gets its full timeout, and shutdown
// waits for it via drain instead of cancelling it mid-reply.
func (l *Loop) submit(ctx context.Context, fn task) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { <-l.slots }()
		l.runTask(fn)
	}()
}

// runTask gives fn a detached context with the full handler timeout and
// contains panics.
func (l *Loop) runTask(fn task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("handler panicked", "panic", r)
		}
	}()

	taskCtx, cancel := context.WithTimeout(context.Background(), l.handlerTimeout)
	defer cancel()
	fn(taskCtx)
}

func (l *Loop) drain() {
	for _, lane := range l.lanes {
		close(lane)
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		l.laneWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.logger.Info("dispatch drained")
	case <-time.After(l.drainTimeout):
		l.logger.Warn("dispatch drain timed out", "timeout", l.drainTimeout.String())
	}
}

func (l *Loop) logStoredBindings(ctx context.Context) {
	if l.store == nil {
		return
	}
	bindings, err := l.store.Bindings(ctx)
	if err != nil {
		l.logger.Warn("loading reaction role bindings failed", "error", err)
		return
	}
	l.logger.Info("reaction role bindings loaded", "count", len(bindings))
}
