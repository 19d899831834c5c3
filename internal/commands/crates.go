package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferrite-bot/ferrite/internal/command"
	"github.com/ferrite-bot/ferrite/internal/crates"
	"github.com/ferrite-bot/ferrite/internal/discord"
)

const (
	detailCrate = "search for a crate on crates.io\n```\n?crate query...\n```"
	detailDocs  = "retrieve documentation for a given crate\n```\n?docs crate_name...\n```"
)

// crateCommand replies with an embed card for the registry's top hit.
func (h *handlers) crateCommand(ctx context.Context, inv *command.Invocation) error {
	query := strings.TrimSpace(inv.Args)
	if query == "" {
		return nil
	}

	krate, err := h.crates.Search(ctx, query)
	if errors.Is(err, crates.ErrNotFound) {
		return inv.Reply(ctx, "No crates found.")
	}
	if err != nil {
		return fmt.Errorf("crate search: %w", err)
	}

	return inv.ReplyEmbed(ctx, discord.Embed{
		Title:       krate.Name,
		URL:         krate.PageURL(),
		Description: krate.Description,
		Fields: []discord.EmbedField{
			{Name: "version", Value: krate.Version(), Inline: true},
			{Name: "downloads", Value: fmt.Sprintf("%d", krate.Downloads), Inline: true},
		},
		Timestamp: krate.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// docsCommand replies with the documentation URL for a crate or item path.
func (h *handlers) docsCommand(ctx context.Context, inv *command.Invocation) error {
	query := strings.TrimSpace(inv.Args)
	if query == "" {
		return nil
	}

	target, err := h.crates.ResolveDocs(ctx, query)
	if errors.Is(err, crates.ErrNotFound) {
		return inv.Reply(ctx, "No crates found.")
	}
	if err != nil {
		return fmt.Errorf("resolve docs: %w", err)
	}
	return inv.Reply(ctx, target)
}
