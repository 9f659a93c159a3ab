package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the caller address from a request.
//
// Forwarding headers are only honoured when TrustProxy is set. With
// X-Forwarded-For the rightmost TrustedProxyCount hops are ours and the
// entry just left of them is the client.
type ClientIPResolver struct {
	TrustProxy        bool
	TrustedProxyCount int
}

// Resolve returns the best client IP for r.
func (c *ClientIPResolver) Resolve(r *http.Request) string {
	if c != nil && c.TrustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), c.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func fromForwardedFor(header string, trusted int) string {
	if header == "" {
		return ""
	}
	if trusted <= 0 {
		trusted = 1
	}

	hops := strings.Split(header, ",")
	idx := len(hops) - trusted - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
