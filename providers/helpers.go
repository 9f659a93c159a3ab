package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2ConfigExchanger is the Exchange method of oauth2.Config.
type OAuth2ConfigExchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// ExchangeCode exchanges code using httpClient for the token request.
func ExchangeCode(ctx context.Context, config OAuth2ConfigExchanger, httpClient *http.Client, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// RefreshToken runs a refresh grant for refreshToken against config.
func RefreshToken(ctx context.Context, config *oauth2.Config, httpClient *http.Client, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	token, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return token, nil
}

// NewTokenResponse converts an oauth2 token. now anchors the lifetime when
// the token only carries an absolute expiry.
func NewTokenResponse(token *oauth2.Token, now time.Time) *TokenResponse {
	if token == nil {
		return nil
	}

	var lifetime time.Duration
	switch {
	case token.ExpiresIn > 0:
		lifetime = time.Duration(token.ExpiresIn) * time.Second
	case !token.Expiry.IsZero():
		lifetime = token.Expiry.Sub(now).Round(time.Second)
		if lifetime < 0 {
			lifetime = 0
		}
	}

	resp := &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    lifetime,
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		resp.Scopes = strings.Fields(scope)
	}
	return resp
}
