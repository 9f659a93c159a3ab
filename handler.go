package authapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Jnavarr56/authentication-api/internal/util"
	"github.com/Jnavarr56/authentication-api/security"
)

// Route paths served by Handler.
const (
	PathInitiate  = "/authentication/initiate"
	PathCallback  = "/authentication/callback"
	PathAuthorize = "/authentication/authorize"
	PathHealth    = "/healthz"
)

const tokenTypeBearer = "Bearer"

// Handler serves the authentication HTTP API.
type Handler struct {
	service     *Service
	config      *Config
	logger      *slog.Logger
	ips         *security.ClientIPResolver
	rateLimiter *security.RateLimiter
}

// NewHandler creates a handler for service. A nil cfg uses DefaultConfig.
// Call Close to stop the rate limiter's cleanup goroutine.
func NewHandler(service *Service, cfg *Config) *Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)

	h := &Handler{
		service: service,
		config:  cfg,
		logger:  cfg.Logger,
		ips: &security.ClientIPResolver{
			TrustProxy:        cfg.RateLimit.TrustProxy,
			TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		},
	}

	if cfg.RateLimit.Rate > 0 {
		h.rateLimiter = security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.Rate,
			Burst:             cfg.RateLimit.Burst,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
			Logger:            cfg.Logger,
		})
	}

	return h
}

// Routes returns the API with request IDs, security headers and per-IP rate
// limiting applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathInitiate, h.ServeInitiate)
	mux.HandleFunc("GET "+PathCallback, h.ServeCallback)
	mux.HandleFunc("GET "+PathAuthorize, h.ServeAuthorize)
	mux.HandleFunc("GET "+PathHealth, h.ServeHealth)

	var next http.Handler = mux
	if h.rateLimiter != nil {
		next = h.rateLimiter.Middleware(h.ips, h.service.auditor, next)
	}
	next = security.HeadersMiddleware(h.config.Security.StrictTransportSecurity, next)
	return security.RequestIDMiddleware(next)
}

// Close releases background resources.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// ServeInitiate starts an authorization and returns the provider URL.
func (h *Handler) ServeInitiate(w http.ResponseWriter, r *http.Request) {
	clientIP := h.ips.Resolve(r)

	authURL, err := h.service.BeginAuthorization(r.Context(), clientIP)
	if err != nil {
		h.writeCoreError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, InitiateResponse{AuthorizationURL: authURL})
}

// ServeCallback handles the provider redirect after the user has decided.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := h.ips.Resolve(r)
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Info("Provider denied authorization",
			"request_id", security.RequestIDFrom(ctx),
			"error", util.SafeTruncate(providerErr, 64))
		h.service.auditor.LogAuthFailure("", clientIP, "provider_denied")
		h.writeError(w, ErrAccessDenied("Authorization was denied at the provider"))
		return
	}

	code := query.Get("code")
	if code == "" {
		h.writeError(w, ErrInvalidRequest("Missing code parameter"))
		return
	}

	session, err := h.service.CompleteAuthorization(ctx, query.Get("state"), code, clientIP)
	if err != nil {
		h.writeCoreError(w, r, err)
		return
	}

	h.setTokenCookie(w, session.TransportToken)
	h.logger.Info("Authorization completed",
		"request_id", security.RequestIDFrom(ctx),
		"user_id", session.Record.UserID,
		"new_user", session.NewUser)

	h.writeJSON(w, http.StatusOK, CallbackResponse{
		User:        session.User,
		Identity:    session.Identity,
		AccessToken: session.TransportToken,
		ExpiresAt:   expiryPtr(session.Record.ExpiresAt),
		NewUser:     session.NewUser,
	})
}

// ServeAuthorize validates a presented token, refreshing the credential
// behind it when it has expired. A rotated token is returned in the body and
// re-set as the cookie.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	clientIP := h.ips.Resolve(r)

	token, ok := h.extractToken(w, r)
	if !ok {
		return
	}

	res, err := h.service.Authorize(r.Context(), token, clientIP)
	if err != nil {
		oauthErr := ErrorFromCore(err)
		if oauthErr.Status == http.StatusUnauthorized {
			h.clearTokenCookie(w)
		}
		h.logError(r, err, oauthErr)
		h.writeError(w, oauthErr)
		return
	}

	if res.Rotated {
		h.setTokenCookie(w, res.TransportToken)
	}

	h.writeJSON(w, http.StatusOK, AuthorizeResponse{
		UserID:      res.Record.UserID,
		ProviderID:  res.Record.ProviderID,
		AccessToken: res.TransportToken,
		ExpiresAt:   expiryPtr(res.Record.ExpiresAt),
		Rotated:     res.Rotated,
	})
}

// ServeHealth reports liveness.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// extractToken reads the transport token from the Authorization header,
// falling back to the cookie. It writes the error response itself.
func (h *Handler) extractToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) || parts[1] == "" {
			h.writeError(w, ErrInvalidToken("Invalid Authorization header format"))
			return "", false
		}
		return parts[1], true
	}

	if cookie, err := r.Cookie(h.config.Cookie.Name); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	h.writeError(w, ErrInvalidToken("Missing token"))
	return "", false
}

func (h *Handler) setTokenCookie(w http.ResponseWriter, value string) {
	c := h.config.Cookie
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge.Seconds()),
		Secure:   !c.AllowInsecure,
		HttpOnly: true,
		SameSite: c.SameSite,
	})
}

func (h *Handler) clearTokenCookie(w http.ResponseWriter) {
	c := h.config.Cookie
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		Secure:   !c.AllowInsecure,
		HttpOnly: true,
		SameSite: c.SameSite,
	})
}

func (h *Handler) writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	oauthErr := ErrorFromCore(err)
	h.logError(r, err, oauthErr)
	h.writeError(w, oauthErr)
}

func (h *Handler) logError(r *http.Request, err error, oauthErr *OAuthError) {
	level := slog.LevelInfo
	if oauthErr.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "Request failed",
		"request_id", security.RequestIDFrom(r.Context()),
		"path", r.URL.Path,
		"status", oauthErr.Status,
		"code", oauthErr.Code,
		"error", err)
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("%s error=%q, error_description=%q",
			tokenTypeBearer, oauthErr.Code, oauthErr.Description))
	}
	h.writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to write response", "error", err)
	}
}
