package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPResolver_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		resolver   *ClientIPResolver
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{
			name:       "direct connection",
			resolver:   &ClientIPResolver{},
			remoteAddr: "192.168.1.100:12345",
			want:       "192.168.1.100",
		},
		{
			name:       "nil resolver uses remote addr",
			resolver:   nil,
			remoteAddr: "192.168.1.100:12345",
			xff:        "203.0.113.1",
			want:       "192.168.1.100",
		},
		{
			name:       "forwarded for ignored without trust",
			resolver:   &ClientIPResolver{},
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1",
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded for with one trusted proxy",
			resolver:   &ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:12345",
			xff:        "203.0.113.1, 10.0.0.2",
			want:       "203.0.113.1",
		},
		{
			name:       "spoofed leftmost entry skipped",
			resolver:   &ClientIPResolver{TrustProxy: true, TrustedProxyCount: 1},
			remoteAddr: "10.0.0.1:12345",
			xff:        "6.6.6.6, 203.0.113.1, 10.0.0.2",
			want:       "203.0.113.1",
		},
		{
			name:       "real ip fallback",
			resolver:   &ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "203.0.113.9",
			want:       "203.0.113.9",
		},
		{
			name:       "invalid forwarded value falls back",
			resolver:   &ClientIPResolver{TrustProxy: true},
			remoteAddr: "10.0.0.1:12345",
			xff:        "not-an-ip",
			want:       "10.0.0.1",
		},
		{
			name:       "remote addr without port",
			resolver:   &ClientIPResolver{},
			remoteAddr: "10.0.0.1",
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := tt.resolver.Resolve(req); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
