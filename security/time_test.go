package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		leeway    time.Duration
		want      bool
	}{
		{name: "expired a minute ago", expiresAt: now.Add(-time.Minute), want: true},
		{name: "expires in a minute", expiresAt: now.Add(time.Minute), want: false},
		{name: "exactly at expiry", expiresAt: now, want: false},
		{name: "one nanosecond past", expiresAt: now.Add(-time.Nanosecond), want: true},
		{name: "zero time is expired", expiresAt: time.Time{}, want: true},
		{name: "within leeway", expiresAt: now.Add(20 * time.Second), leeway: 30 * time.Second, want: true},
		{name: "outside leeway", expiresAt: now.Add(time.Minute), leeway: 30 * time.Second, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(now, tt.expiresAt, tt.leeway); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUntilNextDay(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Duration
	}{
		{
			name: "noon UTC",
			now:  time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: 12 * time.Hour,
		},
		{
			name: "nil location is UTC",
			now:  time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC),
			loc:  nil,
			want: time.Minute,
		},
		{
			name: "exactly midnight is a full day",
			now:  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: 24 * time.Hour,
		},
		{
			name: "other location",
			now:  time.Date(2024, 1, 10, 22, 0, 0, 0, time.UTC),
			loc:  berlin,
			want: time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UntilNextDay(tt.now, tt.loc); got != tt.want {
				t.Errorf("UntilNextDay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpiresAt(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	if got := ExpiresAt(now, time.Hour); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt() = %v, want %v", got, now.Add(time.Hour))
	}
	for _, lifetime := range []time.Duration{0, -time.Second} {
		if got := ExpiresAt(now, lifetime); !got.Equal(now) {
			t.Errorf("ExpiresAt(%v) = %v, want %v", lifetime, got, now)
		}
	}
}
