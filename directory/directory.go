// Package directory resolves provider identities to users of the platform's
// user service.
package directory

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned by FindByProviderID when no active user holds
// the provider identity.
var ErrUserNotFound = errors.New("user not found")

// User is a directory account.
type User struct {
	ID          string `json:"_id"`
	SpotifyID   string `json:"spotify_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active"`
}

// NewUser is the payload for creating an account.
type NewUser struct {
	SpotifyID   string `json:"spotify_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Country     string `json:"country,omitempty"`
}

// Client is the user directory.
type Client interface {
	// FindByProviderID returns the active user linked to providerID, or
	// ErrUserNotFound.
	FindByProviderID(ctx context.Context, providerID string) (*User, error)

	// Create registers a new user.
	Create(ctx context.Context, user *NewUser) (*User, error)
}

// FindOrCreate returns the user linked to the provider identity, creating it
// from newUser when none exists.
func FindOrCreate(ctx context.Context, c Client, newUser *NewUser) (user *User, created bool, err error) {
	user, err = c.FindByProviderID(ctx, newUser.SpotifyID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}
	user, err = c.Create(ctx, newUser)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}
