// Package commands holds ferrite's command handlers and registers them on
// the router: the tag store, crates.io lookups, moderation, the
// code-of-conduct billboard, and the help menu.
package commands

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ferrite-bot/ferrite/internal/coc"
	"github.com/ferrite-bot/ferrite/internal/command"
	"github.com/ferrite-bot/ferrite/internal/crates"
	"github.com/ferrite-bot/ferrite/internal/discord"
	"github.com/ferrite-bot/ferrite/internal/perms"
	"github.com/ferrite-bot/ferrite/internal/persistence"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Store    *persistence.Store
	Rest     *discord.Client
	Crates   *crates.Client
	Tracker  *coc.Tracker
	Resolver *perms.Resolver
	Logger   *slog.Logger
}

// Toggles holds the feature switches for the optional command families.
// The config watcher flips them at runtime; disabled commands behave as if
// they were never registered.
type Toggles struct {
	tags   atomic.Bool
	crates atomic.Bool
}

// NewToggles creates toggles with the given initial state.
func NewToggles(tags, crates bool) *Toggles {
	t := &Toggles{}
	t.Apply(tags, crates)
	return t
}

// Apply swaps both switches. Safe to call while dispatch is running.
func (t *Toggles) Apply(tags, crates bool) {
	t.tags.Store(tags)
	t.crates.Store(crates)
}

// Tags reports whether the tag commands are enabled.
func (t *Toggles) Tags() bool { return t.tags.Load() }

// Crates reports whether the crates.io commands are enabled.
func (t *Toggles) Crates() bool { return t.crates.Load() }

type handlers struct {
	store    *persistence.Store
	rest     *discord.Client
	crates   *crates.Client
	tracker  *coc.Tracker
	resolver *perms.Resolver
	router   *command.Router
	logger   *slog.Logger
}

// Register installs the full command set on the router. Feature-gated
// families consult toggles on every dispatch.
func Register(router *command.Router, deps Deps, toggles *Toggles) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{
		store:    deps.Store,
		rest:     deps.Rest,
		crates:   deps.Crates,
		tracker:  deps.Tracker,
		resolver: deps.Resolver,
		router:   router,
		logger:   logger,
	}

	specs := []command.Spec{
		{
			Name:    "tags",
			Help:    "A key value store",
			Detail:  detailTags,
			Enabled: toggles.Tags,
			Run:     h.tagsCommand,
		},
		{
			Name:    "tag",
			Enabled: toggles.Tags,
			Run:     h.tagCommand,
		},
		{
			Name:    "crate",
			Help:    "Lookup crates on crates.io",
			Detail:  detailCrate,
			Enabled: toggles.Crates,
			Run:     h.crateCommand,
		},
		{
			Name:    "docs",
			Help:    "Lookup documentation",
			Detail:  detailDocs,
			Enabled: toggles.Crates,
			Run:     h.docsCommand,
		},
		{
			Name:      "slowmode",
			Privilege: perms.PrivilegeMod,
			Help:      "Set slowmode on a channel",
			Detail:    detailSlowmode,
			Run:       h.slowmodeCommand,
		},
		{
			Name:      "kick",
			Privilege: perms.PrivilegeMod,
			Help:      "Kick a user from the guild",
			Detail:    detailKick,
			Run:       h.kickCommand,
		},
		{
			Name:      "ban",
			Privilege: perms.PrivilegeMod,
			Help:      "Temporarily ban a user from the guild",
			Detail:    detailBan(),
			Run:       h.banCommand,
		},
		{
			Name:      "coc",
			Privilege: perms.PrivilegeMod,
			Help:      "Post the code of conduct message to a channel",
			Detail:    detailCoC,
			Run:       h.cocCommand,
		},
		{
			Name: "help",
			Run:  h.helpCommand,
		},
	}

	for _, spec := range specs {
		if err := router.Register(spec); err != nil {
			return fmt.Errorf("register %s: %w", spec.Name, err)
		}
	}
	return nil
}
