// Package storage defines the durable tier for credential records.
//
// The durable tier is append-only: a refresh adds a new record and never
// rewrites an old one, so the rotation history of a user's credentials is
// retained. Each rotated record names the record it replaces, and a record
// can be replaced at most once. Lookups by access token return the newest
// matching record.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound is returned when no record holds the access token.
	ErrRecordNotFound = errors.New("credential record not found")

	// ErrDuplicateAccessToken is returned by CreateRecord when the access
	// token already belongs to another record.
	ErrDuplicateAccessToken = errors.New("access token already stored")

	// ErrAlreadyReplaced is returned by CreateRecord when another record
	// already replaces rec.ReplacesID.
	ErrAlreadyReplaced = errors.New("credential record already replaced")
)

// Record is one issued credential.
type Record struct {
	// ID identifies the durable row.
	ID uuid.UUID `json:"id"`

	AccessToken string `json:"access_token"`

	// RefreshToken is never empty once a record has been created through
	// the credential store: refreshes that omit one keep the previous value.
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is the persistence time plus the provider lifetime, in UTC.
	// A record stored without a lifetime expires at its persistence time.
	ExpiresAt time.Time `json:"expires_at"`

	// ProviderID is the user's identifier at the OAuth provider.
	ProviderID string `json:"provider_id"`

	// UserID is the directory user. It may be empty.
	UserID string `json:"user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// ReplacesID is the record this one rotated away. uuid.Nil for a
	// credential issued by a sign-in.
	ReplacesID uuid.UUID `json:"replaces_id"`
}

// Clone returns a copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// RecordStore is the durable tier.
type RecordStore interface {
	// CreateRecord appends rec. It fails with ErrDuplicateAccessToken if the
	// access token is already stored, and with ErrAlreadyReplaced if
	// rec.ReplacesID is set and another record already replaces it.
	CreateRecord(ctx context.Context, rec *Record) error

	// IsReplaced reports whether some record names id as its ReplacesID.
	IsReplaced(ctx context.Context, id uuid.UUID) (bool, error)

	// FindLatestByAccessToken returns the newest record (by CreatedAt) holding
	// accessToken, or ErrRecordNotFound.
	FindLatestByAccessToken(ctx context.Context, accessToken string) (*Record, error)

	// Close releases the store's resources.
	Close() error
}

// Validate reports whether rec can be persisted.
func Validate(rec *Record) error {
	switch {
	case rec == nil:
		return errors.New("record is nil")
	case rec.ID == uuid.Nil:
		return errors.New("record id is required")
	case rec.AccessToken == "":
		return errors.New("access token is required")
	case rec.CreatedAt.IsZero():
		return errors.New("created at is required")
	case rec.ReplacesID != uuid.Nil && rec.ReplacesID == rec.ID:
		return errors.New("record cannot replace itself")
	}
	return nil
}
