package commands

import (
	"context"
	"fmt"

	"github.com/ferrite-bot/ferrite/internal/command"
)

const detailCoC = "\nPost the code of conduct message to `channel`\n```\n?CoC {channel}\n```\n" +
	"**Example:**\n```\n?CoC #welcome\n```\n" +
	"will post the code of conduct message to the channel specified. " +
	"Reacting to it with ✅ grants the talk role."

// cocCommand posts the code-of-conduct billboard to the named channel and
// binds it as the guild's active one. The posted billboard is the visible
// outcome, so success is otherwise silent.
func (h *handlers) cocCommand(ctx context.Context, inv *command.Invocation) error {
	token, _ := splitArg(inv.Args)
	if token == "" {
		return nil
	}
	channelID, ok := ParseChannelID(token)
	if !ok {
		return inv.Reply(ctx, fmt.Sprintf("could not parse a channel from `%s`", token))
	}

	if _, err := h.tracker.Bind(ctx, inv.Msg.GuildID, channelID); err != nil {
		return fmt.Errorf("bind code of conduct: %w", err)
	}
	return nil
}
