package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ferrite-bot/ferrite/internal/bus"
)

var ErrBindingNotFound = errors.New("binding not found")

// Binding maps a reaction on a specific message to a role grant. The
// (message_id, emoji) pair is the lookup key for incoming reactions.
type Binding struct {
	GuildID   string
	ChannelID string
	MessageID string
	Emoji     string
	RoleID    string
	CreatedAt time.Time
}

// ReplaceGuildBinding drops all bindings for the guild and installs the new
// one in a single transaction. Each guild carries at most one active
// code-of-conduct billboard; reposting replaces the old binding so stale
// reactions on the previous message stop granting the role.
func (s *Store) ReplaceGuildBinding(ctx context.Context, b Binding) error {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin binding tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM reaction_bindings WHERE guild_id = ?;
		`, b.GuildID); err != nil {
			return fmt.Errorf("clear guild bindings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reaction_bindings (guild_id, channel_id, message_id, emoji, role_id, created_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, b.GuildID, b.ChannelID, b.MessageID, b.Emoji, b.RoleID); err != nil {
			return fmt.Errorf("insert binding: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicBindingReplaced, bus.BindingEvent{
			GuildID:   b.GuildID,
			MessageID: b.MessageID,
			RoleID:    b.RoleID,
		})
	}
	return nil
}

// BindingFor looks up the binding for a reaction. Returns ErrBindingNotFound
// when the message/emoji pair is not bound.
func (s *Store) BindingFor(ctx context.Context, messageID, emoji string) (*Binding, error) {
	var b Binding
	err := s.db.QueryRowContext(ctx, `
		SELECT guild_id, channel_id, message_id, emoji, role_id, created_at
		FROM reaction_bindings
		WHERE message_id = ? AND emoji = ?;
	`, messageID, emoji).Scan(&b.GuildID, &b.ChannelID, &b.MessageID, &b.Emoji, &b.RoleID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBindingNotFound
		}
		return nil, fmt.Errorf("select binding: %w", err)
	}
	return &b, nil
}

// Bindings lists every stored binding, used to log the active billboards at
// startup.
func (s *Store) Bindings(ctx context.Context) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, channel_id, message_id, emoji, role_id, created_at
		FROM reaction_bindings
		ORDER BY guild_id ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.GuildID, &b.ChannelID, &b.MessageID, &b.Emoji, &b.RoleID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("binding rows: %w", err)
	}
	return out, nil
}
