package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ferrite-bot/ferrite/internal/bus"
	"github.com/ferrite-bot/ferrite/internal/command"
	"github.com/ferrite-bot/ferrite/internal/discord"
	"github.com/ferrite-bot/ferrite/internal/persistence"
)

const hourlyExpr = "0 * * * *"

// UnbanSweep lifts expired temporary bans through the platform API and
// settles their records.
type UnbanSweep struct {
	store  *persistence.Store
	rest   *discord.Client
	bus    *bus.Bus
	logger *slog.Logger
}

// NewUnbanSweep creates the sweep. eventBus may be nil.
func NewUnbanSweep(store *persistence.Store, rest *discord.Client, eventBus *bus.Bus, logger *slog.Logger) *UnbanSweep {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnbanSweep{store: store, rest: rest, bus: eventBus, logger: logger}
}

// Job wraps the sweep as an hourly job that also fires at startup, so bans
// that expired while the process was down are lifted promptly.
func (u *UnbanSweep) Job() Job {
	return Job{Name: "unban_sweep", Expr: hourlyExpr, Immediate: true, Run: u.Run}
}

// Run lifts every due ban. Per-ban failures are logged and retried on the
// next sweep; only the initial query fails the job.
func (u *UnbanSweep) Run(ctx context.Context) error {
	due, err := u.store.DueUnbans(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("query due unbans: %w", err)
	}
	for _, rec := range due {
		if err := u.lift(ctx, rec); err != nil {
			u.logger.Warn("unban failed; will retry next sweep",
				"ban_id", rec.ID,
				"guild_id", rec.GuildID,
				"user_id", rec.UserID,
				"error", err,
			)
		}
	}
	return nil
}

func (u *UnbanSweep) lift(ctx context.Context, rec persistence.BanRecord) error {
	err := u.rest.RemoveBan(ctx, rec.GuildID, rec.UserID)
	switch {
	case err == nil:
	case discord.IsNotFound(err):
		// Already unbanned by hand; just settle the record.
	default:
		return err
	}
	if err := u.store.MarkLifted(ctx, rec.ID); err != nil {
		return err
	}
	if u.bus != nil {
		u.bus.Publish(bus.TopicBanLifted, bus.BanEvent{
			GuildID: rec.GuildID,
			UserID:  rec.UserID,
			BanID:   rec.ID,
		})
	}
	u.logger.Info("temporary ban lifted",
		"guild_id", rec.GuildID,
		"user_id", rec.UserID,
		"ban_id", rec.ID,
	)
	return nil
}

// HistoryPruneJob returns the hourly job that trims the router's
// edit-replay history.
func HistoryPruneJob(router *command.Router) Job {
	return Job{
		Name: "history_prune",
		Expr: hourlyExpr,
		Run: func(ctx context.Context) error {
			router.PruneHistory()
			return nil
		},
	}
}
