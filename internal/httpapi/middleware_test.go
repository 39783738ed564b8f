package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected configured origin, got %q", got)
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api, up, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if up.created != 0 {
		t.Fatalf("preflight must not reach the backend")
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api, _, _ := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := `{"invoice_number":"` + veryLong + `","payment_mode":"CASH","lines":[]}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestServerErrorsAreMasked(t *testing.T) {
	res := httptest.NewRecorder()
	writeError(res, http.StatusInternalServerError, errors.New("pq: relation terminal_sales does not exist"))

	if strings.Contains(res.Body.String(), "terminal_sales") {
		t.Fatalf("internal detail leaked: %s", res.Body.String())
	}
	if !strings.Contains(res.Body.String(), "internal server error") {
		t.Fatalf("expected generic message, got %s", res.Body.String())
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestAttemptLimiterWindow(t *testing.T) {
	l := newAttemptLimiter(2, time.Minute)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("expected first two attempts to pass")
	}
	if l.Allow("a") {
		t.Fatalf("expected third attempt to be refused")
	}
	if !l.Allow("b") {
		t.Fatalf("limits are per client")
	}

	l.mu.Lock()
	l.entries["a"] = []time.Time{time.Now().Add(-2 * time.Minute)}
	l.mu.Unlock()
	if !l.Allow("a") {
		t.Fatalf("expected attempts outside the window to expire")
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:5000"
	if got := clientKey(req); got != "::1" {
		t.Fatalf("expected ::1, got %q", got)
	}
}

func TestEmptyAllowedOriginOmitsCORSHeader(t *testing.T) {
	api, _, _ := newTestAPI(t)
	api.allowedOrigin = ""
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if _, ok := res.Header()["Access-Control-Allow-Origin"]; ok {
		t.Fatalf("expected no Access-Control-Allow-Origin header, got %q", res.Header().Get("Access-Control-Allow-Origin"))
	}
}
