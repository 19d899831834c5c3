package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ferrite-bot/ferrite/internal/command"
	"github.com/ferrite-bot/ferrite/internal/perms"
	"github.com/ferrite-bot/ferrite/internal/persistence"
)

// Message bodies cap out at 2000 characters on the platform; the key list
// stops folding before it gets there.
const tagListLimit = 1980

const detailTags = "```\n" +
	"?tags create {key} value...     Create a tag.  Limited to WG & Teams.\n" +
	"?tags update {key} value...     Update a tag.  Limited to WG & Teams.\n" +
	"?tags delete {key}              Delete a tag.  Limited to WG & Teams.\n" +
	"?tags help                      This menu.\n" +
	"?tags                           Get all the tags.\n" +
	"?tag {key}                      Get a specific tag.\n" +
	"```"

// tagsCommand handles the ?tags family. Listing and help are open to
// everyone; create, update, and delete require the wg-and-teams role and
// surface the router's standard denial when it is missing.
func (h *handlers) tagsCommand(ctx context.Context, inv *command.Invocation) error {
	sub, rest := splitArg(inv.Args)
	switch sub {
	case "":
		return h.listTags(ctx, inv)
	case "help":
		return inv.Reply(ctx, detailTags)
	case "create":
		return h.mutateTag(ctx, inv, rest, h.createTag)
	case "update":
		return h.mutateTag(ctx, inv, rest, h.updateTag)
	case "delete":
		return h.deleteTag(ctx, inv, rest)
	default:
		// Unrecognized subcommands get the same silence as unknown
		// commands.
		return nil
	}
}

func (h *handlers) listTags(ctx context.Context, inv *command.Invocation) error {
	keys, err := h.store.TagKeys(ctx, inv.Msg.GuildID)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	if len(keys) == 0 {
		return inv.Reply(ctx, "No tags found")
	}

	var b strings.Builder
	for _, key := range keys {
		if b.Len() >= tagListLimit {
			break
		}
		b.WriteString(key)
		b.WriteString("\n")
	}
	return inv.Reply(ctx, "All tags: ```\n"+b.String()+"```")
}

// mutateTag gates and parses "{key} body..." before handing off to op,
// which replies or acks on its own.
func (h *handlers) mutateTag(ctx context.Context, inv *command.Invocation, args string, op func(ctx context.Context, inv *command.Invocation, key, body string) error) error {
	if !inv.Authorized(perms.PrivilegeWgAndTeams) {
		return command.ErrPermissionDenied
	}
	key, body := splitArg(args)
	if key == "" || body == "" {
		return nil
	}
	return op(ctx, inv, key, body)
}

func (h *handlers) createTag(ctx context.Context, inv *command.Invocation, key, body string) error {
	err := h.store.CreateTag(ctx, inv.Msg.GuildID, key, body, inv.Msg.Author.ID)
	if errors.Is(err, persistence.ErrTagExists) {
		return inv.Reply(ctx, fmt.Sprintf("Tag already exists for `%s`", key))
	}
	if err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	return inv.React(ctx, "✅")
}

func (h *handlers) updateTag(ctx context.Context, inv *command.Invocation, key, body string) error {
	err := h.store.UpdateTag(ctx, inv.Msg.GuildID, key, body)
	if errors.Is(err, persistence.ErrTagNotFound) {
		return inv.Reply(ctx, fmt.Sprintf("Tag not found for `%s`", key))
	}
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	return inv.React(ctx, "✅")
}

func (h *handlers) deleteTag(ctx context.Context, inv *command.Invocation, args string) error {
	if !inv.Authorized(perms.PrivilegeWgAndTeams) {
		return command.ErrPermissionDenied
	}
	key, _ := splitArg(args)
	if key == "" {
		return nil
	}
	err := h.store.DeleteTag(ctx, inv.Msg.GuildID, key)
	if errors.Is(err, persistence.ErrTagNotFound) {
		return inv.Reply(ctx, fmt.Sprintf("Tag not found for `%s`", key))
	}
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return inv.React(ctx, "✅")
}

// tagCommand replies with a tag body verbatim.
func (h *handlers) tagCommand(ctx context.Context, inv *command.Invocation) error {
	key, _ := splitArg(inv.Args)
	if key == "" {
		return nil
	}
	tag, err := h.store.GetTag(ctx, inv.Msg.GuildID, key)
	if errors.Is(err, persistence.ErrTagNotFound) {
		return inv.Reply(ctx, fmt.Sprintf("Tag not found for `%s`", key))
	}
	if err != nil {
		return fmt.Errorf("get tag: %w", err)
	}
	return inv.Reply(ctx, tag.Body)
}
