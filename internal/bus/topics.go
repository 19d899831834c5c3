package bus

// Gateway session lifecycle topics.
const (
	TopicSessionConnected    = "session.connected"
	TopicSessionReady        = "session.ready"
	TopicSessionResumed      = "session.resumed"
	TopicSessionDisconnected = "session.disconnected"
)

// Command dispatch topics.
const (
	TopicCommandExecuted = "command.executed"
	TopicCommandDenied   = "command.denied"
)

// Moderation and reaction-role topics.
const (
	TopicBindingReplaced = "binding.replaced"
	TopicBanRecorded     = "ban.recorded"
	TopicBanLifted       = "ban.lifted"
)

// SessionEvent is published on session lifecycle transitions.
type SessionEvent struct {
	State   string // session state after the transition
	Reason  string // close reason or error, if any
	Resumes int    // total successful resumes this process
}

// CommandEvent is published after a command invocation finishes or is denied.
type CommandEvent struct {
	Name         string // command name, without prefix
	GuildID      string
	UserID       string
	InvocationID string
	DurationMS   int64
	Err          string // empty on success
}

// BindingEvent is published when a guild's reaction role binding is replaced.
type BindingEvent struct {
	GuildID   string
	MessageID string
	RoleID    string
}

// BanEvent is published when a ban is recorded or lifted.
type BanEvent struct {
	GuildID string
	UserID  string
	BanID   string
}
