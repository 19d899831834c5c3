package crates

import (
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
	defaultBaseURL = "https://crates.io/api/v1"

	// The registry rejects anonymous user agents, so every request
	// identifies the bot.
	defaultUserAgent = "ferrite (github.com/ferrite-bot/ferrite)"

	maxResponseBytes = 4 << 20
)

// ErrNotFound reports a search that matched no crate.
var ErrNotFound = errors.New("crates: no matching crate")

// Crate is the subset of registry metadata the bot renders.
type Crate struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	NewestVersion    string    `json:"newest_version"`
	MaxStableVersion string    `json:"max_stable_version"`
	Description      string    `json:"description"`
	Documentation    string    `json:"documentation"`
	Downloads        int64     `json:"downloads"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Version returns the newest stable release when one exists, otherwise the
// newest release of any kind (pre-releases included).
func (c *Crate) Version() string {
	if c.MaxStableVersion != "" {
		return c.MaxStableVersion
	}
	return c.NewestVersion
}

// PageURL returns the crate's registry page.
func (c *Crate) PageURL() string {
	return "https://crates.io/crates/" + url.PathEscape(c.ID)
}

// DocsURL returns where the crate's documentation lives: the link declared
// in its registry metadata when set, docs.rs otherwise.
func (c *Crate) DocsURL() string {
	if c.Documentation != "" {
		return c.Documentation
	}
	return "https://docs.rs/" + url.PathEscape(c.Name)
}

// builtinDocs maps toolchain-shipped crates and release channels to their
// rust-lang.org documentation roots. These resolve without touching the
// registry.
var builtinDocs = map[string]string{
	"std":        "https://doc.rust-lang.org/stable/std/",
	"core":       "https://doc.rust-lang.org/stable/core/",
	"alloc":      "https://doc.rust-lang.org/stable/alloc/",
	"proc_macro": "https://doc.rust-lang.org/stable/proc_macro/",
	"beta":       "https://doc.rust-lang.org/beta/std/",
	"nightly":    "https://doc.rust-lang.org/nightly/std/",
	"rustc":      "https://doc.rust-lang.org/nightly/nightly-rustc/",
}

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL overrides the registry API origin. Empty uses crates.io.
	BaseURL string
	// UserAgent overrides the request user agent.
	UserAgent string
	// HTTPClient is used for all requests. If nil, a client with a 15s
	// timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client queries the crates.io registry: keyword search plus documentation
// URL resolution.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a registry client.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		userAgent:  ua,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Search returns the registry's top hit for query, or ErrNotFound when
// nothing matches.
func (c *Client) Search(ctx context.Context, query string) (*Crate, error) {
	c.logger.Debug("searching registry", "query", query)

	endpoint := c.baseURL + "/crates?q=" + url.QueryEscape(query)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("crates: create request: %w", err)
	}
	request.Header.Set("User-Agent", c.userAgent)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("crates: search %q: %w", query, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("crates: read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crates: search %q: unexpected status %d", query, response.StatusCode)
	}

	var result struct {
		Crates []Crate `json:"crates"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("crates: parse search response: %w", err)
	}
	if len(result.Crates) == 0 {
		return nil, ErrNotFound
	}
	return &result.Crates[0], nil
}

// ResolveDocs turns a doc query into a documentation URL. The segment before
// the first "::" names the crate; anything after it becomes a doc search on
// the resolved site. Toolchain crates and channel names resolve from
// builtinDocs without a registry round trip. Returns ErrNotFound when the
// crate does not exist.
func (c *Client) ResolveDocs(ctx context.Context, query string) (string, error) {
	name, item, _ := strings.Cut(query, "::")

	target := builtinDocs[name]
	if target == "" {
		krate, err := c.Search(ctx, name)
		if err != nil {
			return "", err
		}
		target = krate.DocsURL()
	}
	if item != "" {
		target += "?search=" + url.QueryEscape(item)
	}
	return target, nil
}
