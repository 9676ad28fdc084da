package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alecgard/teamspace/internal/metrics"
	"github.com/alecgard/teamspace/internal/project"
	"github.com/alecgard/teamspace/internal/upload"
	"github.com/alecgard/teamspace/internal/user"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- system routes ---

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantStatus int
		wantDB     string
	}{
		{"no database configured", nil, http.StatusOK, "connected"},
		{"database reachable", &fakePinger{}, http.StatusOK, "connected"},
		{"database down", &fakePinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewRouter(RouterDeps{DBPool: tt.db}), httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["database"] != tt.wantDB {
				t.Errorf("database = %q, want %q", body["database"], tt.wantDB)
			}
		})
	}
}

func TestWellKnownManifest(t *testing.T) {
	rec := serve(NewRouter(RouterDeps{}), httptest.NewRequest(http.MethodGet, "/.well-known/teamspace.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var manifest struct {
		Name      string            `json:"name"`
		APIBase   string            `json:"api_base"`
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&manifest); err != nil {
		t.Fatalf("decoding manifest: %v", err)
	}
	if manifest.Name != "Teamspace" || manifest.APIBase != "/api/v1" {
		t.Errorf("unexpected manifest header %+v", manifest)
	}
	for _, ep := range []string{"register", "login", "projects", "votes", "members", "invites", "uploads", "events"} {
		if manifest.Endpoints[ep] == "" {
			t.Errorf("endpoints missing %q", ep)
		}
	}
}

func TestRouter_MetricsEndpoints(t *testing.T) {
	m := metrics.New()
	handler := NewRouter(RouterDeps{Metrics: m})

	serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "teamspace_http_requests_total") {
		t.Error("expected teamspace_http_requests_total in exposition")
	}
	if !strings.Contains(rec.Body.String(), `path_pattern="/health"`) {
		t.Error("expected requests to be labelled by route pattern")
	}

	rec = serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from summary, got %d", rec.Code)
	}
}

func TestRouter_UnknownPath(t *testing.T) {
	rec := serve(NewRouter(RouterDeps{}), httptest.NewRequest(http.MethodGet, "/nonexistent-path", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// --- global middleware ---

func TestCORS(t *testing.T) {
	tests := []struct {
		name            string
		allowed         []string
		origin          string
		preflight       bool
		wantStatus      int
		wantAllowOrigin string
		wantCredentials bool
	}{
		{"no origins configured", nil, "https://app.example.com", false, http.StatusOK, "", false},
		{"named origin gets credentials", []string{"https://app.example.com"}, "https://app.example.com", false, http.StatusOK, "https://app.example.com", true},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example.com", false, http.StatusOK, "", false},
		{"wildcard never sends credentials", []string{"*"}, "https://any.example.com", false, http.StatusOK, "*", false},
		{"preflight for named origin", []string{"https://app.example.com"}, "https://app.example.com", true, http.StatusNoContent, "https://app.example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			if tt.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := serve(NewRouter(RouterDeps{AllowedOrigins: tt.allowed}), req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCredentials)
			}
			if tt.preflight && rec.Header().Get("Access-Control-Allow-Methods") != "GET, POST" {
				t.Errorf("Allow-Methods = %q", rec.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}

func TestCORS_PlainOptionsIsNotAPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := serve(NewRouter(RouterDeps{AllowedOrigins: []string{"https://app.example.com"}}), req)
	if rec.Code == http.StatusNoContent {
		t.Error("OPTIONS without Access-Control-Request-Method should reach the router")
	}
}

func TestSecureHeaders(t *testing.T) {
	rec := serve(NewRouter(RouterDeps{}), httptest.NewRequest(http.MethodGet, "/health", nil))
	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "same-origin",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for header, v := range want {
		if got := rec.Header().Get(header); got != v {
			t.Errorf("%s = %q, want %q", header, got, v)
		}
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"generated when absent", "", false},
		{"forwarded when well formed", "edge-7f3a.b1:42", true},
		{"surrounding whitespace trimmed", "  trace-123\n", true},
		{"header injection replaced", "abc\r\nSet-Cookie: x", false},
		{"oversized replaced", strings.Repeat("a", maxRequestIDLength+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set("X-Request-ID", tt.inbound)
			}
			rec := serve(h, req)

			got := rec.Header().Get("X-Request-ID")
			if got != seen {
				t.Errorf("context id %q differs from header %q", seen, got)
			}
			if tt.keep {
				if got != strings.TrimSpace(tt.inbound) {
					t.Errorf("expected forwarded id, got %q", got)
				}
				return
			}
			if len(got) != 32 || strings.Trim(got, "0123456789abcdef") != "" {
				t.Errorf("expected generated 32-char hex id, got %q", got)
			}
		})
	}

	if id := RequestIDFromContext(context.Background()); id != "" {
		t.Errorf("bare context should carry no id, got %q", id)
	}
}

// --- helpers ---

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "not_found", "project not found")

	if rec.Code != http.StatusNotFound || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	var env errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "not_found" || env.Error.Message != "project not found" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestReadJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"Apollo","weeks":4}`, false},
		{"malformed", `{not json`, true},
		{"empty", ``, true},
		{"oversized", `{"name":"` + strings.Repeat("x", maxBodySize) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in project.CreateProjectInput
			err := readJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)), &in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (in.Name != "Apollo" || in.Weeks != 4) {
				t.Errorf("decoded %+v", in)
			}
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", fmt.Errorf("creating project: %w", project.ErrWeeksInvalid), http.StatusUnprocessableEntity, "validation_error"},
		{"weak password", user.ErrPasswordTooWeak, http.StatusUnprocessableEntity, "validation_error"},
		{"bad cursor", project.ErrInvalidCursor, http.StatusBadRequest, "invalid_query"},
		{"unknown project", project.ErrProjectNotFound, http.StatusNotFound, "not_found"},
		{"not a member", project.ErrNotAMember, http.StatusForbidden, "not_a_member"},
		{"completed", project.ErrProjectCompleted, http.StatusConflict, "project_completed"},
		{"file too large", upload.ErrTooLarge, http.StatusRequestEntityTooLarge, "too_large"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := errorCode(t, rec); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}
