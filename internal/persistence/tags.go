package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTagExists   = errors.New("tag already exists")
	ErrTagNotFound = errors.New("tag not found")
)

// Tag is one key/value snippet scoped to a guild. Bodies are stored and
// returned verbatim; keys are case-insensitive.
type Tag struct {
	GuildID   string
	Key       string
	Body      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// normalizeTagKey lowercases and trims a key so lookups are
// case-insensitive regardless of how the key was typed.
func normalizeTagKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// CreateTag inserts a new tag. Returns ErrTagExists when the key is already
// taken in the guild.
func (s *Store) CreateTag(ctx context.Context, guildID, key, body, createdBy string) error {
	key = normalizeTagKey(key)
	if key == "" {
		return fmt.Errorf("tag key is empty")
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tags (guild_id, key, body, created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, guildID, key, body, createdBy)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrTagExists
			}
			return fmt.Errorf("insert tag: %w", err)
		}
		return nil
	})
}

// UpdateTag replaces the body of an existing tag. Returns ErrTagNotFound
// when the key does not exist in the guild.
func (s *Store) UpdateTag(ctx context.Context, guildID, key, body string) error {
	key = normalizeTagKey(key)
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tags
			SET body = ?, updated_at = CURRENT_TIMESTAMP
			WHERE guild_id = ? AND key = ?;
		`, body, guildID, key)
		if err != nil {
			return fmt.Errorf("update tag: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update tag rows affected: %w", err)
		}
		if affected == 0 {
			return ErrTagNotFound
		}
		return nil
	})
}

// DeleteTag removes a tag. Returns ErrTagNotFound when the key does not
// exist in the guild.
func (s *Store) DeleteTag(ctx context.Context, guildID, key string) error {
	key = normalizeTagKey(key)
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM tags WHERE guild_id = ? AND key = ?;
		`, guildID, key)
		if err != nil {
			return fmt.Errorf("delete tag: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete tag rows affected: %w", err)
		}
		if affected == 0 {
			return ErrTagNotFound
		}
		return nil
	})
}

// GetTag fetches one tag by key. Returns ErrTagNotFound when missing.
func (s *Store) GetTag(ctx context.Context, guildID, key string) (*Tag, error) {
	key = normalizeTagKey(key)
	var tag Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT guild_id, key, body, created_by, created_at, updated_at
		FROM tags
		WHERE guild_id = ? AND key = ?;
	`, guildID, key).Scan(&tag.GuildID, &tag.Key, &tag.Body, &tag.CreatedBy, &tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTagNotFound
		}
		return nil, fmt.Errorf("select tag: %w", err)
	}
	return &tag, nil
}

// TagKeys lists all tag keys in a guild, sorted.
func (s *Store) TagKeys(ctx context.Context, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM tags WHERE guild_id = ? ORDER BY key ASC;
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query tag keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan tag key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tag key rows: %w", err)
	}
	return keys, nil
}
