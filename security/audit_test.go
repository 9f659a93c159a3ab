package security

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Jnavarr56/authentication-api/instrumentation"
)

func TestNewAuditor(t *testing.T) {
	auditor := NewAuditor(nil, true)
	if auditor.logger == nil {
		t.Error("logger should default when nil")
	}
	if !auditor.enabled {
		t.Error("enabled = false, want true")
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			auditor := NewAuditor(logger, tt.enabled)
			auditor.LogEvent(Event{
				Type:       "test_event",
				UserID:     "user-123",
				ProviderID: "spotify-abc",
				IPAddress:  "192.168.1.1",
			})

			if hasLog := buf.Len() > 0; hasLog != tt.wantLog {
				t.Errorf("LogEvent() logged = %v, want %v", hasLog, tt.wantLog)
			}
		})
	}
}

func TestAuditor_HashesIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogCredentialIssued("user-123", "spotify-abc", "10.0.0.1")

	out := buf.String()
	if strings.Contains(out, "user-123") || strings.Contains(out, "spotify-abc") {
		t.Errorf("audit log leaked raw identifiers: %s", out)
	}
	if !strings.Contains(out, EventCredentialIssued) {
		t.Errorf("audit log missing event type: %s", out)
	}
}

func TestAuditor_Helpers(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	tests := []struct {
		name  string
		log   func()
		event string
	}{
		{name: "authorization started", log: func() { auditor.LogAuthorizationStarted("10.0.0.1", "spotify") }, event: EventAuthorizationStarted},
		{name: "state rejected", log: func() { auditor.LogStateRejected("10.0.0.1", "unknown") }, event: EventStateRejected},
		{name: "refreshed", log: func() { auditor.LogCredentialRefreshed("u", "p", true) }, event: EventCredentialRefreshed},
		{name: "auth failure", log: func() { auditor.LogAuthFailure("", "10.0.0.1", "not found") }, event: EventAuthFailure},
		{name: "rate limit", log: func() { auditor.LogRateLimitExceeded("10.0.0.1") }, event: EventRateLimitExceeded},
		{name: "exchange failed", log: func() { auditor.LogProviderExchangeFailed("10.0.0.1", "invalid_grant") }, event: EventProviderCodeExchangeFailed},
		{name: "directory failed", log: func() { auditor.LogDirectoryLookupFailed("p", "10.0.0.1", "timeout") }, event: EventDirectoryLookupFailed},
		{name: "refresh rejected", log: func() { auditor.LogRefreshRejected("u", "p", "invalid_grant") }, event: EventRefreshRejected},
		{name: "refresh store failed", log: func() { auditor.LogRefreshStoreFailed("u", "p") }, event: EventRefreshStoreFailed},
		{name: "malformed token", log: func() { auditor.LogMalformedToken("10.0.0.1") }, event: EventMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			if !strings.Contains(buf.String(), tt.event) {
				t.Errorf("log output %q does not contain %q", buf.String(), tt.event)
			}
		})
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogRateLimitExceeded("10.0.0.1")
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}
	h := hashForLogging("sensitive")
	if len(h) != 16 {
		t.Errorf("hashForLogging() length = %d, want 16", len(h))
	}
	if h != hashForLogging("sensitive") {
		t.Error("hashForLogging() is not deterministic")
	}
}

func TestAuditor_Metrics(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MetricExporter: instrumentation.ExporterPrometheus})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	// Disabled auditing still counts events.
	auditor := NewAuditor(nil, false)
	auditor.SetMetrics(inst.Metrics())
	auditor.LogRateLimitExceeded("192.0.2.1")

	srv := httptest.NewServer(inst.PrometheusHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"audit.events", "rate_limit.exceeded"} {
		if !strings.Contains(string(body), name) && !strings.Contains(string(body), strings.ReplaceAll(name, ".", "_")) {
			t.Errorf("scrape output missing %s", name)
		}
	}
}
