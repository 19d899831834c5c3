package commands_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ferrite-bot/ferrite/internal/discord"
)

func TestCrateRepliesWithEmbed(t *testing.T) {
	fx := newFixture(t)

	fx.dispatch("u1", "?crate serde")

	posts := fx.platform.channelPosts()
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	var payload struct {
		Content string          `json:"content"`
		Embeds  []discord.Embed `json:"embeds"`
	}
	if err := json.Unmarshal([]byte(posts[0].Body), &payload); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("embeds = %+v", payload.Embeds)
	}
	embed := payload.Embeds[0]
	if embed.Title != "serde" || embed.URL != "https://crates.io/crates/serde" {
		t.Fatalf("embed header = %+v", embed)
	}
	if embed.Description != "A serialization framework" {
		t.Fatalf("embed description = %q", embed.Description)
	}
	wantFields := map[string]string{"version": "1.0.218", "downloads": "500000000"}
	for _, f := range embed.Fields {
		if want, ok := wantFields[f.Name]; !ok || f.Value != want || !f.Inline {
			t.Fatalf("embed field = %+v", f)
		}
	}
	if embed.Timestamp != "2025-03-09T14:23:11Z" {
		t.Fatalf("embed timestamp = %q", embed.Timestamp)
	}
}

func TestCrateNotFound(t *testing.T) {
	fx := newFixture(t)

	fx.dispatch("u1", "?crate nonexistent-crate")
	if got := fx.lastReply(); got != "No crates found." {
		t.Fatalf("reply = %q", got)
	}
}

func TestDocsRepliesWithURL(t *testing.T) {
	fx := newFixture(t)

	fx.dispatch("u1", "?docs serde::Deserialize")
	if got := fx.lastReply(); got != "https://docs.serde.rs/serde/?search=Deserialize" {
		t.Fatalf("reply = %q", got)
	}

	// Toolchain crates skip the registry entirely.
	fx.dispatch("u1", "?docs std")
	if got := fx.lastReply(); got != "https://doc.rust-lang.org/stable/std/" {
		t.Fatalf("builtin reply = %q", got)
	}
}

func TestDocsNotFound(t *testing.T) {
	fx := newFixture(t)

	fx.dispatch("u1", "?docs nonexistent-crate")
	if got := fx.lastReply(); got != "No crates found." {
		t.Fatalf("reply = %q", got)
	}
}

func TestCrateEmptyQueryIsSilent(t *testing.T) {
	fx := newFixture(t)

	fx.dispatch("u1", "?crate")
	fx.dispatch("u1", "?docs")
	if posts := fx.platform.find(http.MethodPost, "/messages"); len(posts) != 0 {
		t.Fatalf("bare queries replied: %v", posts)
	}
}

func TestCoCCommandBindsChannel(t *testing.T) {
	fx := newFixture(t)
	fx.grantEverywhere("moderator", "mod-role")

	fx.dispatch("moderator", "?CoC <#777>")

	posts := fx.platform.find(http.MethodPost, "/channels/777/messages")
	if len(posts) != 1 {
		t.Fatalf("billboard posts = %v", fx.platform.recorded())
	}
	if got := posts[0].content(t); got != "welcome text" {
		t.Fatalf("billboard content = %q", got)
	}
	if reacts := fx.platform.find(http.MethodPut, "/reactions/"); len(reacts) != 1 {
		t.Fatalf("reaction seeds = %d, want 1", len(reacts))
	}

	binding, err := fx.store.BindingFor(context.Background(), "resp-1", "✅")
	if err != nil {
		t.Fatalf("BindingFor() error = %v", err)
	}
	if binding.GuildID != "g1" || binding.ChannelID != "777" || binding.RoleID != "talk-role" {
		t.Fatalf("binding = %+v", binding)
	}
}
