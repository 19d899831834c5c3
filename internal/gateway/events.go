// Package gateway maintains the websocket session with the chat platform:
// identify, heartbeat, resume, and decoding of dispatched events into a
// single ordered stream.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/ferrite-bot/ferrite/internal/discord"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// payload is the wire envelope. S and T are only set on dispatches.
type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Dispatch type names as sent by the platform.
const (
	EventReady             = "READY"
	EventResumed           = "RESUMED"
	EventMessageCreate     = "MESSAGE_CREATE"
	EventMessageUpdate     = "MESSAGE_UPDATE"
	EventMessageDelete     = "MESSAGE_DELETE"
	EventReactionAdd       = "MESSAGE_REACTION_ADD"
	EventReactionRemove    = "MESSAGE_REACTION_REMOVE"
	EventGuildCreate       = "GUILD_CREATE"
	EventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventGuildBanRemove    = "GUILD_BAN_REMOVE"
)

// Event is one decoded dispatch, delivered in arrival order. Data holds the
// typed payload for the event's Type.
type Event struct {
	Type string
	Seq  int64
	Data any
}

// ReadyEvent carries the fields of READY the runtime needs: the resume
// coordinates and initial guild state.
type ReadyEvent struct {
	SessionID        string          `json:"session_id"`
	ResumeGatewayURL string          `json:"resume_gateway_url"`
	User             discord.User    `json:"user"`
	Guilds           []discord.Guild `json:"guilds"`
}

type ResumedEvent struct{}

// MessageDeleteEvent is a tombstone; only IDs are available.
type MessageDeleteEvent struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
}

// ReactionEvent covers both reaction add and remove. Added distinguishes
// the two.
type ReactionEvent struct {
	UserID    string          `json:"user_id"`
	ChannelID string          `json:"channel_id"`
	MessageID string          `json:"message_id"`
	GuildID   string          `json:"guild_id"`
	Emoji     discord.Emoji   `json:"emoji"`
	Member    *discord.Member `json:"member,omitempty"`
	Added     bool            `json:"-"`
}

type GuildMemberAddEvent struct {
	GuildID string `json:"guild_id"`
	discord.Member
}

type GuildMemberUpdateEvent struct {
	GuildID string       `json:"guild_id"`
	User    discord.User `json:"user"`
	Roles   []string     `json:"roles"`
}

type GuildMemberRemoveEvent struct {
	GuildID string       `json:"guild_id"`
	User    discord.User `json:"user"`
}

type GuildBanRemoveEvent struct {
	GuildID string       `json:"guild_id"`
	User    discord.User `json:"user"`
}

// decodeDispatch turns a raw dispatch into its typed payload. Unknown event
// types decode to nil and are dropped by the caller.
func decodeDispatch(eventType string, data json.RawMessage) (any, error) {
	switch eventType {
	case EventReady:
		var ev ReadyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode READY: %w", err)
		}
		return &ev, nil
	case EventResumed:
		return &ResumedEvent{}, nil
	case EventMessageCreate, EventMessageUpdate:
		var msg discord.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return &msg, nil
	case EventMessageDelete:
		var ev MessageDeleteEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode MESSAGE_DELETE: %w", err)
		}
		return &ev, nil
	case EventReactionAdd, EventReactionRemove:
		var ev ReactionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		ev.Added = eventType == EventReactionAdd
		return &ev, nil
	case EventGuildCreate:
		var guild discord.Guild
		if err := json.Unmarshal(data, &guild); err != nil {
			return nil, fmt.Errorf("decode GUILD_CREATE: %w", err)
		}
		return &guild, nil
	case EventGuildMemberAdd:
		var ev GuildMemberAddEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode GUILD_MEMBER_ADD: %w", err)
		}
		return &ev, nil
	case EventGuildMemberUpdate:
		var ev GuildMemberUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode GUILD_MEMBER_UPDATE: %w", err)
		}
		return &ev, nil
	case EventGuildMemberRemove:
		var ev GuildMemberRemoveEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode GUILD_MEMBER_REMOVE: %w", err)
		}
		return &ev, nil
	case EventGuildBanRemove:
		var ev GuildBanRemoveEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode GUILD_BAN_REMOVE: %w", err)
		}
		return &ev, nil
	default:
		return nil, nil
	}
}
