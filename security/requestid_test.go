package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/giantswarm/guard/internal/testutil"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("GenerateRequestID() returned the same ID twice")
	}

	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("GenerateRequestID() = %q is not a UUID: %v", id1, err)
	}
	if parsed.Version() != 4 {
		t.Errorf("UUID version = %d, want 4", parsed.Version())
	}
	if !isValidRequestID(id1) {
		t.Errorf("generated ID %q does not pass validation", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want req-123", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID(empty) = %q, want empty", got)
	}
}

func TestLoggerWithRequestID(t *testing.T) {
	logger, buf := testutil.NewCaptureLogger()

	LoggerWithRequestID(WithRequestID(context.Background(), "req-abc"), logger).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-abc") {
		t.Errorf("log output %q missing request_id", buf.String())
	}

	if LoggerWithRequestID(context.Background(), nil) == nil {
		t.Error("LoggerWithRequestID(nil logger) returned nil")
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		valid     bool
	}{
		{name: "alphanumeric", requestID: "abc123", valid: true},
		{name: "hyphens and underscores", requestID: "req_ID-123_abc", valid: true},
		{name: "UUID", requestID: "550e8400-e29b-41d4-a716-446655440000", valid: true},
		{name: "max length", requestID: strings.Repeat("a", 128), valid: true},
		{name: "too long", requestID: strings.Repeat("a", 129), valid: false},
		{name: "empty", requestID: "", valid: false},
		{name: "newline", requestID: "id123\nX-Injected: evil", valid: false},
		{name: "carriage return", requestID: "id123\rmalicious", valid: false},
		{name: "space", requestID: "id 123", valid: false},
		{name: "null byte", requestID: "id\x00123", valid: false},
		{name: "markup", requestID: "<script>alert(1)</script>", valid: false},
		{name: "AWS trace header", requestID: "Root=1-67891234-abcdef", valid: false},
		{name: "dot", requestID: "id.123", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidRequestID(tt.requestID); got != tt.valid {
				t.Errorf("isValidRequestID(%q) = %v, want %v", tt.requestID, got, tt.valid)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		upstream  string
		expectNew bool
	}{
		{name: "generates ID when missing", expectNew: true},
		{name: "keeps valid upstream ID", upstream: "upstream-request-id-xyz"},
		{name: "replaces ID with spaces", upstream: "id with spaces", expectNew: true},
		{name: "replaces oversized ID", upstream: strings.Repeat("x", 200), expectNew: true},
		{name: "replaces markup", upstream: "<script>alert(1)</script>", expectNew: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.upstream != "" {
				req.Header.Set(RequestIDHeader, tt.upstream)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			responseID := rec.Header().Get(RequestIDHeader)
			if responseID == "" || responseID != seen {
				t.Fatalf("response ID = %q, context ID = %q, want equal and non-empty", responseID, seen)
			}

			if tt.expectNew {
				if seen == tt.upstream {
					t.Error("upstream ID was kept, want a new one")
				}
				if _, err := uuid.Parse(seen); err != nil {
					t.Errorf("generated ID %q is not a UUID", seen)
				}
			} else if seen != tt.upstream {
				t.Errorf("request ID = %q, want upstream %q", seen, tt.upstream)
			}
		})
	}
}
