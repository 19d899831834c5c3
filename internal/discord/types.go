// Package discord holds the wire types and REST client for the Discord API.
// Only the slice of the API ferrite actually touches is modeled here.
package discord

import "time"

// IDs are snowflakes on the wire. They are carried as strings end to end;
// nothing in ferrite does arithmetic on them.

// User is a platform account, human or bot.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// Member is a user's guild-scoped state. User is absent on some partial
// payloads (e.g. MESSAGE_CREATE embeds the author separately).
type Member struct {
	User     *User    `json:"user,omitempty"`
	Nick     string   `json:"nick,omitempty"`
	Roles    []string `json:"roles"`
	JoinedAt string   `json:"joined_at,omitempty"`
}

// Role is a guild role. Ferrite only needs identity and display name.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Guild as delivered by GUILD_CREATE. Members is only populated when the
// guild members intent is granted.
type Guild struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Unavailable bool     `json:"unavailable,omitempty"`
	Roles       []Role   `json:"roles,omitempty"`
	Members     []Member `json:"members,omitempty"`
}

// Channel is a guild channel or DM channel.
type Channel struct {
	ID               string `json:"id"`
	Type             int    `json:"type"`
	GuildID          string `json:"guild_id,omitempty"`
	Name             string `json:"name,omitempty"`
	RateLimitPerUser int    `json:"rate_limit_per_user,omitempty"`
}

// Message is a chat message. EditedTimestamp is non-nil on MESSAGE_UPDATE
// payloads for user edits.
type Message struct {
	ID              string     `json:"id"`
	ChannelID       string     `json:"channel_id"`
	GuildID         string     `json:"guild_id,omitempty"`
	Author          *User      `json:"author,omitempty"`
	Member          *Member    `json:"member,omitempty"`
	Content         string     `json:"content"`
	Timestamp       time.Time  `json:"timestamp,omitempty"`
	EditedTimestamp *time.Time `json:"edited_timestamp,omitempty"`
	Embeds          []Embed    `json:"embeds,omitempty"`
}

// Embed is the rich-content block attached to a message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	// Timestamp is an ISO8601 instant rendered in the embed footer.
	Timestamp string `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Emoji identifies a reaction emoji. Unicode emoji have an empty ID and the
// literal character in Name; custom emoji carry both.
type Emoji struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Key returns the stable identity used to match reaction-role bindings:
// the bare character for unicode emoji, name:id for custom emoji.
func (e Emoji) Key() string {
	if e.ID == "" {
		return e.Name
	}
	return e.Name + ":" + e.ID
}

// Gateway intent bits. Ferrite identifies with the set required for
// moderation, message commands, and reaction tracking.
const (
	IntentGuilds                = 1 << 0
	IntentGuildMembers          = 1 << 1
	IntentGuildModeration       = 1 << 2
	IntentGuildMessages         = 1 << 9
	IntentGuildMessageReactions = 1 << 10
	IntentDirectMessages        = 1 << 12
	IntentMessageContent        = 1 << 15
)

// DefaultIntents covers every event ferrite consumes.
const DefaultIntents = IntentGuilds |
	IntentGuildMembers |
	IntentGuildModeration |
	IntentGuildMessages |
	IntentGuildMessageReactions |
	IntentMessageContent

// GatewayBotResponse is the REST handshake that yields the websocket URL.
type GatewayBotResponse struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total      int `json:"total"`
		Remaining  int `json:"remaining"`
		ResetAfter int `json:"reset_after"`
	} `json:"session_start_limit"`
}
