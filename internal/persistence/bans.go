package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ferrite-bot/ferrite/internal/bus"
)

// BanRecord tracks a ban issued through the bot. EndTime nil means
// permanent; the unban sweep only considers rows with an end time.
type BanRecord struct {
	ID        string
	GuildID   string
	UserID    string
	Reason    string
	StartTime time.Time
	EndTime   *time.Time
	Lifted    bool
}

// RecordBan stores a ban and returns its ID. endTime nil records a
// permanent ban that the sweep never touches.
func (s *Store) RecordBan(ctx context.Context, guildID, userID, reason string, startTime time.Time, endTime *time.Time) (string, error) {
	id := uuid.NewString()
	var end sql.NullTime
	if endTime != nil {
		end = sql.NullTime{Time: endTime.UTC(), Valid: true}
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO bans (id, guild_id, user_id, reason, start_time, end_time, lifted)
			VALUES (?, ?, ?, ?, ?, ?, 0);
		`, id, guildID, userID, reason, startTime.UTC(), end)
		if err != nil {
			return fmt.Errorf("insert ban: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicBanRecorded, bus.BanEvent{GuildID: guildID, UserID: userID, BanID: id})
	}
	return id, nil
}

// DueUnbans returns temporary bans whose end time has passed and which have
// not been lifted yet.
func (s *Store) DueUnbans(ctx context.Context, now time.Time) ([]BanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, reason, start_time, end_time, lifted
		FROM bans
		WHERE lifted = 0 AND end_time IS NOT NULL AND end_time <= ?
		ORDER BY end_time ASC;
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query due unbans: %w", err)
	}
	defer rows.Close()

	var out []BanRecord
	for rows.Next() {
		rec, err := scanBan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("due unban rows: %w", err)
	}
	return out, nil
}

// MarkLifted flags a ban record as lifted so the sweep stops retrying it.
func (s *Store) MarkLifted(ctx context.Context, banID string) error {
	return retryOnBusy(ctx, 5, func() error {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE bans SET lifted = 1 WHERE id = ?;
		`, banID); err != nil {
			return fmt.Errorf("mark ban lifted: %w", err)
		}
		return nil
	})
}

// MarkUnbanned lifts every open ban for the user in the guild. Called when
// the platform reports a manual unban so the sweep does not re-lift it.
func (s *Store) MarkUnbanned(ctx context.Context, guildID, userID string) error {
	return retryOnBusy(ctx, 5, func() error {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE bans SET lifted = 1 WHERE guild_id = ? AND user_id = ? AND lifted = 0;
		`, guildID, userID); err != nil {
			return fmt.Errorf("mark user unbanned: %w", err)
		}
		return nil
	})
}

// OpenBans lists unlifted bans in a guild, newest first.
func (s *Store) OpenBans(ctx context.Context, guildID string) ([]BanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, reason, start_time, end_time, lifted
		FROM bans
		WHERE guild_id = ? AND lifted = 0
		ORDER BY start_time DESC;
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query open bans: %w", err)
	}
	defer rows.Close()

	var out []BanRecord
	for rows.Next() {
		rec, err := scanBan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("open ban rows: %w", err)
	}
	return out, nil
}

func scanBan(scanFn func(dest ...any) error) (BanRecord, error) {
	var rec BanRecord
	var end sql.NullTime
	var lifted int
	if err := scanFn(&rec.ID, &rec.GuildID, &rec.UserID, &rec.Reason, &rec.StartTime, &end, &lifted); err != nil {
		return rec, fmt.Errorf("scan ban: %w", err)
	}
	if end.Valid {
		t := end.Time
		rec.EndTime = &t
	}
	rec.Lifted = lifted != 0
	return rec, nil
}
