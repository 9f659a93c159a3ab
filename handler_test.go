package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Jnavarr56/authentication-api/providers"
	"github.com/Jnavarr56/authentication-api/security"
	"github.com/Jnavarr56/authentication-api/tokencodec"
)

func newTestHandler(t *testing.T, h *harness, mutate func(*Config)) http.Handler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RateLimit.Rate = 0
	if mutate != nil {
		mutate(cfg)
	}
	handler := NewHandler(h.service, cfg)
	t.Cleanup(handler.Close)
	return handler.Routes()
}

func doRequest(t *testing.T, handler http.Handler, target string, modify func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if modify != nil {
		modify(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return v
}

func tokenCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// initiate calls the initiate endpoint and returns the state it issued.
func initiate(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doRequest(t, handler, PathInitiate, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody[map[string]string](t, rec)
	u, err := url.Parse(body["spotify_authorization_url"])
	if err != nil || u.Query().Get("state") == "" {
		t.Fatalf("initiate returned %v without a usable authorization URL", body)
	}
	return u.Query().Get("state")
}

func callbackURL(state, code string) string {
	q := url.Values{}
	q.Set("state", state)
	q.Set("code", code)
	return PathCallback + "?" + q.Encode()
}

func TestHandler_Initiate(t *testing.T) {
	h := newHarness(t, true)
	handler := newTestHandler(t, h, nil)

	rec := doRequest(t, handler, PathInitiate, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if rec.Header().Get(security.RequestIDHeader) == "" {
		t.Error("missing request ID header")
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	body := decodeBody[map[string]string](t, rec)
	if !strings.HasPrefix(body["spotify_authorization_url"], "https://mock.example.com/authorize?state=") {
		t.Errorf("spotify_authorization_url = %q", body["spotify_authorization_url"])
	}
}

func TestHandler_SignInFlow(t *testing.T) {
	h := newHarness(t, true)
	handler := newTestHandler(t, h, nil)

	rec := doRequest(t, handler, callbackURL(initiate(t, handler), "code"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body = %s", rec.Code, rec.Body.String())
	}

	cookie := tokenCookie(rec, "authapi_token")
	if cookie == nil {
		t.Fatal("callback did not set the token cookie")
	}
	if cookie.Value != tokencodec.Encode("AT1") {
		t.Errorf("cookie value = %q, want encoded AT1", cookie.Value)
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Errorf("cookie HttpOnly = %v, Secure = %v, want both", cookie.HttpOnly, cookie.Secure)
	}

	body := decodeBody[CallbackResponse](t, rec)
	if body.Identity == nil || body.Identity.ID != "mock-user" {
		t.Errorf("me_data = %+v, want mock-user", body.Identity)
	}
	if body.User == nil || body.User.ID != "user-1" || !body.NewUser {
		t.Errorf("user = %+v, new_user = %v", body.User, body.NewUser)
	}

	// Cookie presentation, still fresh.
	rec = doRequest(t, handler, PathAuthorize, func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize status = %d, body = %s", rec.Code, rec.Body.String())
	}
	auth := decodeBody[AuthorizeResponse](t, rec)
	if auth.Rotated || auth.UserID != "user-1" {
		t.Errorf("fresh authorize = %+v", auth)
	}
	if tokenCookie(rec, "authapi_token") != nil {
		t.Error("fresh authorize re-set the cookie")
	}

	// Bearer presentation after expiry.
	h.clock.Advance(2 * time.Hour)
	rec = doRequest(t, handler, PathAuthorize, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+cookie.Value)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expired authorize status = %d, body = %s", rec.Code, rec.Body.String())
	}
	auth = decodeBody[AuthorizeResponse](t, rec)
	if !auth.Rotated || auth.AccessToken != tokencodec.Encode("AT2") {
		t.Errorf("expired authorize = %+v, want rotation to AT2", auth)
	}
	if c := tokenCookie(rec, "authapi_token"); c == nil || c.Value != tokencodec.Encode("AT2") {
		t.Errorf("rotated cookie = %v, want encoded AT2", c)
	}
}

func TestHandler_CallbackErrors(t *testing.T) {
	tests := []struct {
		name       string
		target     func(t *testing.T, handler http.Handler) string
		setup      func(h *harness)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "provider denied",
			target:     func(t *testing.T, handler http.Handler) string { return PathCallback + "?error=access_denied&state=x" },
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeAccessDenied,
		},
		{
			name:       "missing code",
			target:     func(t *testing.T, handler http.Handler) string { return PathCallback + "?state=" + initiate(t, handler) },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "unknown state",
			target:     func(t *testing.T, handler http.Handler) string { return callbackURL("forged", "code") },
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeInvalidState,
		},
		{
			name:   "code exchange failure",
			target: func(t *testing.T, handler http.Handler) string { return callbackURL(initiate(t, handler), "code") },
			setup: func(h *harness) {
				h.provider.ExchangeCodeFunc = func(ctx context.Context, code string) (*providers.TokenResponse, error) {
					return nil, errors.New("invalid_grant")
				}
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   ErrorCodeTokenFetch,
		},
		{
			name:       "directory failure",
			target:     func(t *testing.T, handler http.Handler) string { return callbackURL(initiate(t, handler), "code") },
			setup:      func(h *harness) { h.directory.findErr = errors.New("down") },
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrorCodeDirectory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			if tt.setup != nil {
				tt.setup(h)
			}
			handler := newTestHandler(t, h, nil)

			rec := doRequest(t, handler, tt.target(t, handler), nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decodeBody[ErrorResponse](t, rec)
			if body.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", body.Error, tt.wantCode)
			}
			if tt.wantStatus == http.StatusUnauthorized && !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer") {
				t.Errorf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
			}
			if tokenCookie(rec, "authapi_token") != nil {
				t.Error("failed callback set the token cookie")
			}
		})
	}
}

func TestHandler_AuthorizeErrors(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(r *http.Request)
		wantStatus  int
		wantCode    string
		wantCleared bool
	}{
		{
			name:       "no token",
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeInvalidToken,
		},
		{
			name:       "wrong scheme",
			modify:     func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") },
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeInvalidToken,
		},
		{
			name:       "malformed token",
			modify:     func(r *http.Request) { r.Header.Set("Authorization", "Bearer !!!") },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name: "unknown token",
			modify: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "authapi_token", Value: tokencodec.Encode("never-issued")})
			},
			wantStatus:  http.StatusUnauthorized,
			wantCode:    ErrorCodeInvalidToken,
			wantCleared: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			handler := newTestHandler(t, h, nil)

			rec := doRequest(t, handler, PathAuthorize, tt.modify)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if body := decodeBody[ErrorResponse](t, rec); body.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", body.Error, tt.wantCode)
			}
			c := tokenCookie(rec, "authapi_token")
			if tt.wantCleared && (c == nil || c.MaxAge >= 0) {
				t.Errorf("cookie = %v, want cleared", c)
			}
		})
	}
}

func TestHandler_AuthorizeRefreshRejected(t *testing.T) {
	h := newHarness(t, true)
	handler := newTestHandler(t, h, nil)

	rec := doRequest(t, handler, callbackURL(initiate(t, handler), "code"), nil)
	cookie := tokenCookie(rec, "authapi_token")
	if cookie == nil {
		t.Fatalf("callback status = %d, no cookie", rec.Code)
	}

	h.provider.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
		return nil, errors.New("invalid_grant: refresh token revoked")
	}
	h.clock.Advance(2 * time.Hour)

	rec = doRequest(t, handler, PathAuthorize, func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if body := decodeBody[ErrorResponse](t, rec); body.Error != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want %q", body.Error, ErrorCodeInvalidGrant)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	h := newHarness(t, true)
	handler := newTestHandler(t, h, func(c *Config) {
		c.RateLimit.Rate = 1
		c.RateLimit.Burst = 1
	})

	if rec := doRequest(t, handler, PathHealth, nil); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := doRequest(t, handler, PathHealth, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if !strings.Contains(h.audit.String(), security.EventRateLimitExceeded) {
		t.Error("rate limit was not audited")
	}
}

func TestHandler_Health(t *testing.T) {
	h := newHarness(t, false)
	handler := newTestHandler(t, h, nil)

	rec := doRequest(t, handler, PathHealth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decodeBody[HealthResponse](t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newHarness(t, false)
	handler := newTestHandler(t, h, nil)

	req := httptest.NewRequest(http.MethodPost, PathInitiate, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Cookie.Name != "authapi_token" || cfg.Cookie.Path != "/" {
		t.Errorf("cookie = %+v", cfg.Cookie)
	}
	if cfg.Cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cfg.Cookie.SameSite)
	}
	if cfg.Cookie.AllowInsecure {
		t.Error("cookies should be Secure by default")
	}
	if cfg.RateLimit.Rate != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if !cfg.Security.EnableAuditLogging {
		t.Error("audit logging should be on by default")
	}
	if cfg.Logger == nil {
		t.Error("logger not defaulted")
	}
}

func TestHandler_InsecureCookie(t *testing.T) {
	h := newHarness(t, false)
	handler := newTestHandler(t, h, func(c *Config) { c.Cookie.AllowInsecure = true })

	rec := doRequest(t, handler, callbackURL(initiate(t, handler), "code"), nil)
	c := tokenCookie(rec, "authapi_token")
	if c == nil {
		t.Fatalf("callback status = %d, no cookie", rec.Code)
	}
	if c.Secure {
		t.Error("cookie Secure with AllowInsecure set")
	}
}
