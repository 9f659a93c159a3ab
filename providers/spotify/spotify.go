// Package spotify implements providers.Provider for the Spotify accounts
// service and Web API.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/providers"
)

const (
	providerName = "spotify"

	// DefaultAPIBaseURL is the Spotify Web API root.
	DefaultAPIBaseURL = "https://api.spotify.com/v1"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// DefaultScopes is used when Config.Scopes is empty.
var DefaultScopes = []string{"user-top-read"}

// Config holds Spotify OAuth configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// AuthURL, TokenURL and APIBaseURL override the Spotify endpoints.
	AuthURL    string
	TokenURL   string
	APIBaseURL string

	HTTPClient *http.Client // Optional custom HTTP client

	Instrumentation *instrumentation.Instrumentation
}

// Provider implements the providers.Provider interface for Spotify.
type Provider struct {
	config     *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
	inst       *instrumentation.Instrumentation
}

var _ providers.Provider = (*Provider)(nil)

// NewProvider creates a new Spotify provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	endpoint := endpoints.Spotify
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	// Spotify expects client credentials in a Basic authorization header.
	endpoint.AuthStyle = oauth2.AuthStyleInHeader

	apiBaseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = DefaultAPIBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		apiBaseURL: apiBaseURL,
		httpClient: httpClient,
		inst:       cfg.Instrumentation,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// AuthorizationURL returns the Spotify authorize URL for state.
func (p *Provider) AuthorizationURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for tokens
func (p *Provider) ExchangeCode(ctx context.Context, code string) (resp *providers.TokenResponse, err error) {
	defer p.observe(ctx, "exchange_code", time.Now(), &err)

	token, err := providers.ExchangeCode(ctx, p.config, p.httpClient, code)
	if err != nil {
		return nil, err
	}
	return providers.NewTokenResponse(token, time.Now()), nil
}

// RefreshToken refreshes an expired token
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (resp *providers.TokenResponse, err error) {
	defer p.observe(ctx, "refresh_token", time.Now(), &err)

	token, err := providers.RefreshToken(ctx, p.config, p.httpClient, refreshToken)
	if err != nil {
		return nil, err
	}
	return providers.NewTokenResponse(token, time.Now()), nil
}

// FetchIdentity calls the Web API /me endpoint with accessToken.
func (p *Provider) FetchIdentity(ctx context.Context, accessToken string) (identity *providers.Identity, err error) {
	defer p.observe(ctx, "fetch_identity", time.Now(), &err)

	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client := p.config.Client(ctx, &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("profile request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var profile struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
		Country     string `json:"country"`
		Product     string `json:"product"`
		Images      []struct {
			URL    string `json:"url"`
			Height *int   `json:"height"`
			Width  *int   `json:"width"`
		} `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("user profile has no id")
	}

	identity = &providers.Identity{
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		Country:     profile.Country,
		Product:     profile.Product,
	}
	for _, img := range profile.Images {
		image := providers.Image{URL: img.URL}
		if img.Height != nil {
			image.Height = *img.Height
		}
		if img.Width != nil {
			image.Width = *img.Width
		}
		identity.Images = append(identity.Images, image)
	}
	return identity, nil
}

func (p *Provider) observe(ctx context.Context, operation string, started time.Time, err *error) {
	p.inst.Metrics().RecordProviderAPICall(ctx, providerName, operation,
		float64(time.Since(started).Microseconds())/1000, *err)
}
