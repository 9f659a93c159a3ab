package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/Jnavarr56/authentication-api/internal/util"
)

const (
	// DefaultUsersPath is appended to the base URL when none is configured.
	DefaultUsersPath = "/users"

	maxErrorBody = 512
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the user service root, e.g. https://gateway.internal. Required.
	BaseURL string

	// UsersPath is the users collection. Default: DefaultUsersPath.
	UsersPath string

	// TokenSource authenticates calls with a bearer token. Optional.
	TokenSource oauth2.TokenSource

	// HTTPClient is the base client. Default: 10 second timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// HTTPClient talks to the user service over its REST API.
type HTTPClient struct {
	usersURL string
	client   *http.Client
	logger   *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a user service client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := util.NormalizeURL(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("user service base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid user service base URL: %w", err)
	}
	path := cfg.UsersPath
	if path == "" {
		path = DefaultUsersPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.TokenSource != nil {
		client = &http.Client{
			Timeout: client.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, cfg.TokenSource),
				Base:   client.Transport,
			},
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		usersURL: base + path,
		client:   client,
		logger:   logger,
	}, nil
}

// FindByProviderID queries the first active user with the Spotify ID.
func (c *HTTPClient) FindByProviderID(ctx context.Context, providerID string) (*User, error) {
	if providerID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	q := url.Values{}
	q.Set("spotify_id", providerID)
	q.Set("limit", "1")
	q.Set("active", "true")

	var body struct {
		QueryResults []User `json:"query_results"`
	}
	status, err := c.do(ctx, http.MethodGet, c.usersURL+"?"+q.Encode(), nil, &body)
	if status == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	if len(body.QueryResults) == 0 {
		return nil, ErrUserNotFound
	}
	return &body.QueryResults[0], nil
}

// Create posts a new user.
func (c *HTTPClient) Create(ctx context.Context, user *NewUser) (*User, error) {
	if user == nil || user.SpotifyID == "" {
		return nil, fmt.Errorf("new user requires a provider id")
	}

	var body struct {
		NewUser *User `json:"new_user"`
	}
	if _, err := c.do(ctx, http.MethodPost, c.usersURL, user, &body); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if body.NewUser == nil {
		return nil, fmt.Errorf("failed to create user: response has no new_user")
	}
	c.logger.Info("Created directory user", "user_id", body.NewUser.ID)
	return body.NewUser, nil
}

func (c *HTTPClient) do(ctx context.Context, method, target string, in, out any) (int, error) {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, fmt.Errorf("user service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}
