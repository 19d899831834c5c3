// Package coc posts the code-of-conduct billboard and turns reactions on it
// into role grants. The binding between a billboard message and the role it
// grants lives in sqlite so it survives restarts.
package coc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ferrite-bot/ferrite/internal/discord"
	"github.com/ferrite-bot/ferrite/internal/persistence"
)

// BindEmoji is the reaction that signals agreement.
const BindEmoji = "✅"

// Reaction is one reaction add or remove as seen by the tracker. Declared
// here so the tracker has no dependency on the gateway wire types.
type Reaction struct {
	UserID    string
	GuildID   string
	ChannelID string
	MessageID string
	Emoji     string
	Added     bool
}

// Config holds the tracker's collaborators.
type Config struct {
	Store *persistence.Store
	Rest  *discord.Client
	// TalkRole returns the role granted on agreement. Consulted at bind
	// time; the role id is then frozen into the binding.
	TalkRole func() string
	// Message is the billboard text posted by Bind.
	Message string
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Tracker owns the reaction-role lifecycle: Bind posts a billboard and
// persists its binding, HandleReaction grants or revokes against it.
type Tracker struct {
	store    *persistence.Store
	rest     *discord.Client
	talkRole func() string
	message  string
	logger   *slog.Logger
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    cfg.Store,
		rest:     cfg.Rest,
		talkRole: cfg.TalkRole,
		message:  cfg.Message,
		logger:   logger,
	}
}

// Bind posts the billboard to channelID and installs it as the guild's
// active binding, replacing any previous one. The binding is persisted
// before Bind returns success, so a crash mid-setup can orphan a posted
// message but never leaves a billboard whose reactions do nothing. Seeding
// the bot's own reaction is best effort.
func (t *Tracker) Bind(ctx context.Context, guildID, channelID string) (*persistence.Binding, error) {
	roleID := t.talkRole()
	if roleID == "" {
		return nil, errors.New("coc: talk role is not configured")
	}

	msg, err := t.rest.CreateMessage(ctx, channelID, discord.MessageCreate{Content: t.message})
	if err != nil {
		return nil, fmt.Errorf("post billboard: %w", err)
	}

	binding := persistence.Binding{
		GuildID:   guildID,
		ChannelID: channelID,
		MessageID: msg.ID,
		Emoji:     BindEmoji,
		RoleID:    roleID,
	}
	if err := t.store.ReplaceGuildBinding(ctx, binding); err != nil {
		return nil, fmt.Errorf("persist billboard binding: %w", err)
	}

	if err := t.rest.CreateReaction(ctx, channelID, msg.ID, BindEmoji); err != nil {
		t.logger.Warn("seeding billboard reaction failed",
			"channel_id", channelID,
			"message_id", msg.ID,
			"error", err,
		)
	}

	t.logger.Info("billboard bound",
		"guild_id", guildID,
		"channel_id", channelID,
		"message_id", msg.ID,
		"role_id", roleID,
	)
	return &binding, nil
}

// HandleReaction grants or revokes the bound role for one reaction event.
// Reactions on unbound (message, emoji) pairs are ignored. Grant and revoke
// are idempotent on the platform side, so duplicate or racing deliveries
// need no local coordination.
func (t *Tracker) HandleReaction(ctx context.Context, r Reaction) error {
	binding, err := t.store.BindingFor(ctx, r.MessageID, r.Emoji)
	if errors.Is(err, persistence.ErrBindingNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up billboard binding: %w", err)
	}

	if r.Added {
		if err := t.rest.AddMemberRole(ctx, binding.GuildID, r.UserID, binding.RoleID); err != nil {
			return fmt.Errorf("grant role: %w", err)
		}
		t.logger.Info("granted role via billboard",
			"guild_id", binding.GuildID,
			"user_id", r.UserID,
			"role_id", binding.RoleID,
		)
		return nil
	}

	if err := t.rest.RemoveMemberRole(ctx, binding.GuildID, r.UserID, binding.RoleID); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	t.logger.Info("revoked role via billboard",
		"guild_id", binding.GuildID,
		"user_id", r.UserID,
		"role_id", binding.RoleID,
	)
	return nil
}
