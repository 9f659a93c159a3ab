package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Jnavarr56/authentication-api/storage"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random URL-safe string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// NewRecord returns a credential record with random tokens expiring an hour
// after createdAt.
func NewRecord(createdAt time.Time) *storage.Record {
	return &storage.Record{
		ID:           uuid.New(),
		AccessToken:  GenerateRandomString(32),
		RefreshToken: GenerateRandomString(32),
		ExpiresAt:    createdAt.Add(time.Hour).UTC(),
		ProviderID:   "spotify-" + GenerateRandomString(8),
		UserID:       "user-" + GenerateRandomString(8),
		CreatedAt:    createdAt.UTC(),
	}
}

// AssertRecordEqual fails the test if the persisted fields of got and want differ.
func AssertRecordEqual(t *testing.T, got, want *storage.Record) {
	t.Helper()
	if got == nil || want == nil {
		t.Fatalf("record mismatch: got %v, want %v", got, want)
	}
	if got.ID != want.ID {
		t.Errorf("ID = %v, want %v", got.ID, want.ID)
	}
	if got.AccessToken != want.AccessToken {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, want.AccessToken)
	}
	if got.RefreshToken != want.RefreshToken {
		t.Errorf("RefreshToken = %q, want %q", got.RefreshToken, want.RefreshToken)
	}
	if got.ProviderID != want.ProviderID {
		t.Errorf("ProviderID = %q, want %q", got.ProviderID, want.ProviderID)
	}
	if got.UserID != want.UserID {
		t.Errorf("UserID = %q, want %q", got.UserID, want.UserID)
	}
	if got.ReplacesID != want.ReplacesID {
		t.Errorf("ReplacesID = %v, want %v", got.ReplacesID, want.ReplacesID)
	}
	AssertTimeEqual(t, got.ExpiresAt, want.ExpiresAt, time.Millisecond)
	AssertTimeEqual(t, got.CreatedAt, want.CreatedAt, time.Millisecond)
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}
