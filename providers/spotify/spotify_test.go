package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testRedirectURL  = "https://example.com/authentication/callback"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:   "valid config",
			config: &Config{ClientID: testClientID, ClientSecret: testClientSecret, RedirectURL: testRedirectURL},
		},
		{
			name:    "nil config",
			wantErr: true,
		},
		{
			name:    "missing client ID",
			config:  &Config{ClientSecret: testClientSecret, RedirectURL: testRedirectURL},
			wantErr: true,
		},
		{
			name:    "missing client secret",
			config:  &Config{ClientID: testClientID, RedirectURL: testRedirectURL},
			wantErr: true,
		},
		{
			name:    "missing redirect URL",
			config:  &Config{ClientID: testClientID, ClientSecret: testClientSecret},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && provider.httpClient == nil {
				t.Error("NewProvider() httpClient is nil")
			}
		})
	}
}

func TestProvider_AuthorizationURL(t *testing.T) {
	provider, err := NewProvider(&Config{ClientID: testClientID, ClientSecret: testClientSecret, RedirectURL: testRedirectURL})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	raw := provider.AuthorizationURL("sealed-state")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("AuthorizationURL() = %q is not a URL: %v", raw, err)
	}
	if u.Host != "accounts.spotify.com" || u.Path != "/authorize" {
		t.Errorf("AuthorizationURL() endpoint = %s%s", u.Host, u.Path)
	}

	q := u.Query()
	want := map[string]string{
		"response_type": "code",
		"client_id":     testClientID,
		"redirect_uri":  testRedirectURL,
		"state":         "sealed-state",
		"scope":         "user-top-read",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
}

func TestProvider_AuthorizationURL_CustomScopes(t *testing.T) {
	provider, _ := NewProvider(&Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testRedirectURL,
		Scopes:       []string{"user-read-email", "user-top-read"},
	})
	u, _ := url.Parse(provider.AuthorizationURL("s"))
	if got := u.Query().Get("scope"); got != "user-read-email user-top-read" {
		t.Errorf("scope = %q", got)
	}
}

// newTokenServer answers token requests with body after checking client auth.
func newTokenServer(t *testing.T, wantGrant string, body map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testClientID || pass != testClientSecret {
			t.Errorf("token request without basic client auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != wantGrant {
			t.Errorf("grant_type = %q, want %q", got, wantGrant)
		}
		if r.PostForm.Get("client_secret") != "" {
			t.Error("client secret sent in the form body")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, tokenURL, apiURL string) *Provider {
	t.Helper()
	provider, err := NewProvider(&Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testRedirectURL,
		TokenURL:     tokenURL,
		APIBaseURL:   apiURL,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return provider
}

func TestProvider_ExchangeCode(t *testing.T) {
	srv := newTokenServer(t, "authorization_code", map[string]any{
		"access_token":  "AT1",
		"token_type":    "Bearer",
		"refresh_token": "RT1",
		"expires_in":    3600,
		"scope":         "user-top-read",
	})
	provider := newTestProvider(t, srv.URL, "")

	resp, err := provider.ExchangeCode(context.Background(), "code-123")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if resp.AccessToken != "AT1" || resp.RefreshToken != "RT1" {
		t.Errorf("tokens = %q/%q, want AT1/RT1", resp.AccessToken, resp.RefreshToken)
	}
	if resp.ExpiresIn < 3599*time.Second || resp.ExpiresIn > 3600*time.Second {
		t.Errorf("ExpiresIn = %v, want about 1h", resp.ExpiresIn)
	}
	if len(resp.Scopes) != 1 || resp.Scopes[0] != "user-top-read" {
		t.Errorf("Scopes = %v", resp.Scopes)
	}
}

func TestProvider_ExchangeCode_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid authorization code"}`))
	}))
	defer srv.Close()
	provider := newTestProvider(t, srv.URL, "")

	if _, err := provider.ExchangeCode(context.Background(), "bad-code"); err == nil {
		t.Error("ExchangeCode() expected error")
	}
	if _, err := provider.ExchangeCode(context.Background(), ""); err == nil {
		t.Error("ExchangeCode() with empty code expected error")
	}
}

func TestProvider_RefreshToken(t *testing.T) {
	srv := newTokenServer(t, "refresh_token", map[string]any{
		"access_token": "AT2",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	provider := newTestProvider(t, srv.URL, "")

	resp, err := provider.RefreshToken(context.Background(), "RT1")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if resp.AccessToken != "AT2" {
		t.Errorf("AccessToken = %q, want AT2", resp.AccessToken)
	}
	// The response carried no refresh token, so RT1 stays usable.
	if resp.RefreshToken != "" && resp.RefreshToken != "RT1" {
		t.Errorf("RefreshToken = %q, want empty or RT1", resp.RefreshToken)
	}
}

func TestProvider_RefreshToken_Empty(t *testing.T) {
	provider := newTestProvider(t, "http://127.0.0.1:1/token", "")
	if _, err := provider.RefreshToken(context.Background(), ""); err == nil {
		t.Error("RefreshToken() with empty token expected error")
	}
}

func TestProvider_FetchIdentity(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/me" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer AT1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "spotify-user-1",
			"display_name": "Test User",
			"email": "test@example.com",
			"country": "US",
			"product": "premium",
			"images": [{"url": "https://i.scdn.co/image/abc", "height": 300, "width": 300}, {"url": "https://i.scdn.co/image/def", "height": null, "width": null}]
		}`))
	}))
	defer api.Close()
	provider := newTestProvider(t, "", api.URL+"/v1/")

	identity, err := provider.FetchIdentity(context.Background(), "AT1")
	if err != nil {
		t.Fatalf("FetchIdentity() error = %v", err)
	}
	if identity.ID != "spotify-user-1" || identity.DisplayName != "Test User" {
		t.Errorf("identity = %+v", identity)
	}
	if identity.Email != "test@example.com" || identity.Country != "US" || identity.Product != "premium" {
		t.Errorf("identity = %+v", identity)
	}
	if len(identity.Images) != 2 || identity.Images[0].Height != 300 || identity.Images[1].Width != 0 {
		t.Errorf("images = %+v", identity.Images)
	}
}

func TestProvider_FetchIdentity_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		token   string
		wantSub string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"status":401}}`, token: "AT1", wantSub: "401"},
		{name: "missing id", status: http.StatusOK, body: `{"display_name":"x"}`, token: "AT1", wantSub: "no id"},
		{name: "bad json", status: http.StatusOK, body: `{`, token: "AT1", wantSub: "decode"},
		{name: "empty token", token: "", wantSub: "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer api.Close()
			provider := newTestProvider(t, "", api.URL)

			_, err := provider.FetchIdentity(context.Background(), tt.token)
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("FetchIdentity() error = %v, want containing %q", err, tt.wantSub)
			}
		})
	}
}

func TestProvider_Name(t *testing.T) {
	provider := newTestProvider(t, "", "")
	if provider.Name() != "spotify" {
		t.Errorf("Name() = %q", provider.Name())
	}
}
