package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://discord.com/api/v10"

	// maxResponseBytes bounds how much of an API response we read. Nothing
	// ferrite requests legitimately exceeds this.
	maxResponseBytes = 8 << 20
)

// APIError is a non-2xx response from the platform API. Code and Message
// carry the platform's own error envelope.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("discord: %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("discord: %d (code %d)", e.StatusCode, e.Code)
}

// IsNotFound reports whether err is a 404 from the platform API. Used by
// callers that treat missing entities as already-settled state (e.g. lifting
// a ban that was removed manually).
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Token is the bot token. Sent as "Bot <token>"; never logged.
	Token string
	// BaseURL overrides the API origin. Empty uses the public API.
	BaseURL string
	// UserAgent is sent on every request.
	UserAgent string
	// HTTPClient is used for all requests. If nil, a client with a 30s
	// timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is a typed REST client for the slice of the platform API ferrite
// uses. All methods take a context and return wrapped errors; non-2xx
// responses surface as *APIError.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("discord: invalid base URL %q: %w", base, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "ferrite (github.com/ferrite-bot/ferrite)"
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      cfg.Token,
		userAgent:  ua,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops pooled connections. Called after a network
// disruption so the next request dials fresh instead of reusing a poisoned
// connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// do performs one API request. A single 429 is honored by sleeping out the
// advertised retry_after and reissuing the request once; there is no retry
// loop beyond that.
func (c *Client) do(ctx context.Context, method, path string, requestBody any, header http.Header) ([]byte, error) {
	body, retryAfter, err := c.doOnce(ctx, method, path, requestBody, header)
	if retryAfter <= 0 {
		return body, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryAfter):
	}
	body, _, err = c.doOnce(ctx, method, path, requestBody, header)
	return body, err
}

func (c *Client) doOnce(ctx context.Context, method, path string, requestBody any, header http.Header) ([]byte, time.Duration, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, 0, fmt.Errorf("discord: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("discord: create request: %w", err)
	}
	request.Header.Set("Authorization", "Bot "+c.token)
	request.Header.Set("User-Agent", c.userAgent)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, v := range values {
			request.Header.Add(key, v)
		}
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("discord: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("discord: read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, 0, nil
	}

	if response.StatusCode == http.StatusTooManyRequests {
		var limited struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if json.Unmarshal(responseBody, &limited) == nil && limited.RetryAfter > 0 {
			c.logger.Warn("discord api rate limited",
				"method", method,
				"path", path,
				"retry_after_seconds", limited.RetryAfter,
			)
			return nil, time.Duration(limited.RetryAfter * float64(time.Second)), nil
		}
	}

	apiErr := &APIError{StatusCode: response.StatusCode}
	if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil {
		return nil, 0, fmt.Errorf("discord: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	return nil, 0, apiErr
}

// MessageCreate is the outbound message payload: plain content, an embed,
// or both.
type MessageCreate struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID string, m MessageCreate) (*Message, error) {
	body, err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", m, nil)
	if err != nil {
		return nil, fmt.Errorf("create message in %s: %w", channelID, err)
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("parse created message: %w", err)
	}
	return &msg, nil
}

// EditMessage replaces the content of a previously sent message.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, m MessageCreate) (*Message, error) {
	body, err := c.do(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, m, nil)
	if err != nil {
		return nil, fmt.Errorf("edit message %s: %w", messageID, err)
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("parse edited message: %w", err)
	}
	return &msg, nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, nil); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// CreateReaction adds the bot's own reaction to a message.
func (c *Client) CreateReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := "/channels/" + channelID + "/messages/" + messageID + "/reactions/" + url.PathEscape(emoji) + "/@me"
	if _, err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("create reaction on %s: %w", messageID, err)
	}
	return nil
}

// GuildMember fetches a member's current guild state. This is the
// authoritative role check used before destructive moderation actions.
func (c *Client) GuildMember(ctx context.Context, guildID, userID string) (*Member, error) {
	body, err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/members/"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch member %s: %w", userID, err)
	}
	var member Member
	if err := json.Unmarshal(body, &member); err != nil {
		return nil, fmt.Errorf("parse member: %w", err)
	}
	return &member, nil
}

// AddMemberRole grants a role. The operation is idempotent on the platform
// side: granting an already-held role succeeds without a state change.
func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	path := "/guilds/" + guildID + "/members/" + userID + "/roles/" + roleID
	if _, err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("add role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

// RemoveMemberRole revokes a role. Idempotent like AddMemberRole.
func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	path := "/guilds/" + guildID + "/members/" + userID + "/roles/" + roleID
	if _, err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("remove role %s from %s: %w", roleID, userID, err)
	}
	return nil
}

// CreateBan bans a user and purges their recent messages.
func (c *Client) CreateBan(ctx context.Context, guildID, userID string, deleteMessageDays int, reason string) error {
	payload := struct {
		DeleteMessageDays int `json:"delete_message_days,omitempty"`
	}{DeleteMessageDays: deleteMessageDays}
	if _, err := c.do(ctx, http.MethodPut, "/guilds/"+guildID+"/bans/"+userID, payload, auditReason(reason)); err != nil {
		return fmt.Errorf("ban %s: %w", userID, err)
	}
	return nil
}

// RemoveBan lifts a ban. A 404 means the ban no longer exists; callers use
// IsNotFound to treat that as settled.
func (c *Client) RemoveBan(ctx context.Context, guildID, userID string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/guilds/"+guildID+"/bans/"+userID, nil, nil); err != nil {
		return fmt.Errorf("unban %s: %w", userID, err)
	}
	return nil
}

// RemoveMember kicks a user from the guild.
func (c *Client) RemoveMember(ctx context.Context, guildID, userID, reason string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/guilds/"+guildID+"/members/"+userID, nil, auditReason(reason)); err != nil {
		return fmt.Errorf("kick %s: %w", userID, err)
	}
	return nil
}

// EditChannelSlowmode sets the per-user message interval on a channel.
// Zero disables slow mode.
func (c *Client) EditChannelSlowmode(ctx context.Context, channelID string, seconds int) error {
	payload := struct {
		RateLimitPerUser int `json:"rate_limit_per_user"`
	}{RateLimitPerUser: seconds}
	if _, err := c.do(ctx, http.MethodPatch, "/channels/"+channelID, payload, nil); err != nil {
		return fmt.Errorf("set slowmode on %s: %w", channelID, err)
	}
	return nil
}

// CreateDM opens (or reuses) a DM channel with a user.
func (c *Client) CreateDM(ctx context.Context, recipientID string) (*Channel, error) {
	payload := struct {
		RecipientID string `json:"recipient_id"`
	}{RecipientID: recipientID}
	body, err := c.do(ctx, http.MethodPost, "/users/@me/channels", payload, nil)
	if err != nil {
		return nil, fmt.Errorf("open dm with %s: %w", recipientID, err)
	}
	var ch Channel
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("parse dm channel: %w", err)
	}
	return &ch, nil
}

// GatewayBot fetches the websocket URL and session start budget.
func (c *Client) GatewayBot(ctx context.Context) (*GatewayBotResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/gateway/bot", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch gateway url: %w", err)
	}
	var resp GatewayBotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse gateway response: %w", err)
	}
	return &resp, nil
}

// auditReason builds the audit-log header for moderation calls. The reason
// shows up in the guild's audit log next to the action.
func auditReason(reason string) http.Header {
	if strings.TrimSpace(reason) == "" {
		return nil
	}
	h := make(http.Header)
	h.Set("X-Audit-Log-Reason", url.PathEscape(reason))
	return h
}
