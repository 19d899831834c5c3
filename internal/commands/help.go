package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferrite-bot/ferrite/internal/command"
)

// helpCommand renders the command menu, or the detail text for one command
// when a name is given. Both views honor the invoker's privileges: commands
// they may not run are simply absent.
func (h *handlers) helpCommand(ctx context.Context, inv *command.Invocation) error {
	name, _ := splitArg(inv.Args)
	if name == "" {
		return inv.Reply(ctx, h.renderMenu(inv))
	}

	name = strings.ToLower(strings.TrimPrefix(name, inv.Prefix()))
	spec, ok := h.router.Lookup(name)
	if !ok || spec.Detail == "" {
		return nil
	}
	if spec.Enabled != nil && !spec.Enabled() {
		return nil
	}
	if !inv.Authorized(spec.Privilege) {
		return nil
	}
	return inv.Reply(ctx, spec.Detail)
}

func (h *handlers) renderMenu(inv *command.Invocation) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, spec := range inv.Visible() {
		if spec.Help == "" {
			continue
		}
		fmt.Fprintf(&b, "\t%-12s%s\n", inv.Prefix()+spec.Name, spec.Help)
	}
	fmt.Fprintf(&b, "\t%-12sThis menu\n", inv.Prefix()+"help")
	fmt.Fprintf(&b, "\nType %shelp command for more info on a command.\n", inv.Prefix())
	b.WriteString("\nAdditional Info:\n")
	b.WriteString("\tYou can edit your message to the bot and the bot will edit its response.")
	return b.String()
}
