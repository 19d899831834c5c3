package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ferrite-bot/ferrite/internal/command"
	"github.com/ferrite-bot/ferrite/internal/discord"
	"github.com/ferrite-bot/ferrite/internal/perms"
)

const (
	detailSlowmode = "\nSet slowmode on a channel\n```\n?slowmode {channel} {seconds}\n```\n" +
		"**Example:**\n```\n?slowmode #bot-usage 10\n```\n" +
		"will set slowmode on the `#bot-usage` channel with a delay of 10 seconds.\n\n" +
		"**Disable slowmode:**\n```\n?slowmode #bot-usage 0\n```\n" +
		"will disable slowmode on the `#bot-usage` channel."

	detailKick = "\nKick a user from the guild\n```\n?kick {user}\n```\n" +
		"**Example:**\n```\n?kick @someuser\n```\n" +
		"will kick a user from the guild."

	// banPurgeDays is how many days of the banned user's messages are
	// removed along with the ban.
	banPurgeDays = 7
)

func detailBan() string {
	return "\nBan a user, temporarily if hours are given\n```\n?ban {user} [hours] [reason...]\n```\n" +
		"**Example:**\n```\n?ban @someuser 24 violating the code of conduct\n```\n" +
		"will ban a user for 24 hours and send them the following message:\n```\n" +
		banNotice("violating the code of conduct", 24) + "\n```"
}

// banNotice is the direct message sent to a temporarily banned user.
func banNotice(reason string, hours int) string {
	if reason == "" {
		return fmt.Sprintf("You have been banned for %d hours.", hours)
	}
	return fmt.Sprintf("You have been banned for %d hours for the following reason:\n%s", hours, reason)
}

// requireModViaAPI re-confirms the invoker's mod role with a fresh member
// fetch. The cached gate already passed; this closes the window where the
// role was revoked but the snapshot has not caught up yet.
func (h *handlers) requireModViaAPI(ctx context.Context, inv *command.Invocation) error {
	roleID := h.resolver.Roles().Mod
	if roleID == "" {
		return command.ErrPermissionDenied
	}
	member, err := h.rest.GuildMember(ctx, inv.Msg.GuildID, inv.Msg.Author.ID)
	if err != nil {
		return fmt.Errorf("verify moderator: %w", err)
	}
	if !perms.HoldsRole(member.Roles, roleID) {
		return command.ErrPermissionDenied
	}
	return nil
}

// banCommand bans a user, temporarily when an hour count is given. The tail
// after the user mention is either "{hours} reason..." or just "reason...";
// a leading integer is read as hours, anything else makes the whole tail
// the reason and the ban permanent.
func (h *handlers) banCommand(ctx context.Context, inv *command.Invocation) error {
	userToken, tail := splitArg(inv.Args)
	if userToken == "" {
		return nil
	}
	userID, ok := ParseUserID(userToken)
	if !ok {
		return inv.Reply(ctx, fmt.Sprintf("could not parse a user from `%s`", userToken))
	}

	hours := 0
	reason := tail
	if hoursToken, rest := splitArg(tail); hoursToken != "" {
		if n, err := strconv.Atoi(hoursToken); err == nil {
			if n <= 0 {
				return inv.Reply(ctx, fmt.Sprintf("invalid hours `%s`", hoursToken))
			}
			hours = n
			reason = rest
		}
	}

	if err := h.requireModViaAPI(ctx, inv); err != nil {
		return err
	}

	var endTime *time.Time
	if hours > 0 {
		end := time.Now().Add(time.Duration(hours) * time.Hour)
		endTime = &end
		// The notice has to go out before the ban lands: once the user is
		// banned the bot shares no guild with them and the DM is refused.
		// Closed DMs are the user's choice, not a reason to abort the ban.
		h.dmBanNotice(ctx, userID, reason, hours)
	}

	if err := h.rest.CreateBan(ctx, inv.Msg.GuildID, userID, banPurgeDays, reason); err != nil {
		return fmt.Errorf("create ban: %w", err)
	}
	if _, err := h.store.RecordBan(ctx, inv.Msg.GuildID, userID, reason, time.Now(), endTime); err != nil {
		return fmt.Errorf("record ban: %w", err)
	}

	h.logger.Info("banned user",
		"guild_id", inv.Msg.GuildID,
		"user_id", userID,
		"hours", hours,
		"invocation_id", inv.ID,
	)
	return nil
}

func (h *handlers) dmBanNotice(ctx context.Context, userID, reason string, hours int) {
	dm, err := h.rest.CreateDM(ctx, userID)
	if err != nil {
		h.logger.Warn("opening ban notice dm failed", "user_id", userID, "error", err)
		return
	}
	if _, err := h.rest.CreateMessage(ctx, dm.ID, discord.MessageCreate{Content: banNotice(reason, hours)}); err != nil {
		h.logger.Warn("sending ban notice failed", "user_id", userID, "error", err)
	}
}

// kickCommand removes a user from the guild.
func (h *handlers) kickCommand(ctx context.Context, inv *command.Invocation) error {
	userToken, _ := splitArg(inv.Args)
	if userToken == "" {
		return nil
	}
	userID, ok := ParseUserID(userToken)
	if !ok {
		return inv.Reply(ctx, fmt.Sprintf("could not parse a user from `%s`", userToken))
	}

	if err := h.requireModViaAPI(ctx, inv); err != nil {
		return err
	}
	if err := h.rest.RemoveMember(ctx, inv.Msg.GuildID, userID, ""); err != nil {
		return fmt.Errorf("kick member: %w", err)
	}

	h.logger.Info("kicked user",
		"guild_id", inv.Msg.GuildID,
		"user_id", userID,
		"invocation_id", inv.ID,
	)
	return nil
}

// slowmodeCommand sets the per-user message interval on a channel. Zero
// disables slow mode.
func (h *handlers) slowmodeCommand(ctx context.Context, inv *command.Invocation) error {
	chanToken, tail := splitArg(inv.Args)
	secToken, _ := splitArg(tail)
	if chanToken == "" || secToken == "" {
		return nil
	}

	channelID, ok := ParseChannelID(chanToken)
	if !ok {
		return inv.Reply(ctx, fmt.Sprintf("could not parse a channel from `%s`", chanToken))
	}
	seconds, err := strconv.Atoi(secToken)
	if err != nil || seconds < 0 {
		return inv.Reply(ctx, fmt.Sprintf("invalid seconds `%s`", secToken))
	}

	if err := h.requireModViaAPI(ctx, inv); err != nil {
		return err
	}
	if err := h.rest.EditChannelSlowmode(ctx, channelID, seconds); err != nil {
		return fmt.Errorf("set slowmode: %w", err)
	}

	h.logger.Info("set slowmode",
		"channel_id", channelID,
		"seconds", seconds,
		"invocation_id", inv.ID,
	)
	return nil
}
