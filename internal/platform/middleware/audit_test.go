package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/nlq/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestContext(method, path, body string, opts ...func(*http.Request)) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withAuth(userID string, roles []string) func(*http.Request) {
	return func(req *http.Request) {
		ctx := req.Context()
		ctx = context.WithValue(ctx, auth.UserIDKey, userID)
		ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
		*req = *req.WithContext(ctx)
	}
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_QueryExecution(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	rec := &mockRecorder{}

	c, _ := newTestContext(http.MethodPost, "/query", `{"query":"diabetic patients named Smith"}`,
		withAuth("user-1", []string{"physician"}))
	c.Set("request_id", "req-abc")

	if err := Audit(logger, rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 audit entry, got %d", rec.count())
	}
	entry := rec.last()
	if entry.UserID != "user-1" || entry.Action != "execute" || entry.RequestID != "req-abc" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.StatusCode)
	}
	if len(entry.UserRoles) != 1 || entry.UserRoles[0] != "physician" {
		t.Errorf("unexpected roles %v", entry.UserRoles)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["type"] != "hipaa_audit" || line["message"] != "phi_access" {
		t.Errorf("unexpected audit line %v", line)
	}
	if strings.Contains(buf.String(), "Smith") {
		t.Error("question text must not be audited")
	}
}

func TestAudit_Actions(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/query", "execute"},
		{http.MethodPost, "/query/translate", "translate"},
		{http.MethodGet, "/api/v1/terminology/conditions", "lookup"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := &mockRecorder{}
			c, _ := newTestContext(tt.method, tt.path, "")
			if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := rec.last().Action; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestAudit_SkipsNonAuditablePaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, path := range []string{"/health", "/health/upstream", "/metrics", "/queryx"} {
		c, _ := newTestContext(http.MethodGet, path, "")
		if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if rec.count() != 0 {
		t.Errorf("expected no audit entries, got %d", rec.count())
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{err: errors.New("disk full")}
	c, res := newTestContext(http.MethodPost, "/query", "")

	if err := Audit(zerolog.New(&buf), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Error("expected recorder failure to be logged")
	}
}

func TestAudit_PropagatesHandlerError(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newTestContext(http.MethodPost, "/query", "")
	sentinel := errors.New("boom")

	err := Audit(zerolog.Nop(), rec, nil, AuditRecorderFunc(func(AuditEntry) error { return nil }))(
		func(echo.Context) error { return sentinel })(c)
	if !errors.Is(err, sentinel) {
		t.Errorf("expected handler error, got %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected entry even on error, got %d", rec.count())
	}
}
