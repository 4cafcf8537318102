package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/giantswarm/guard"
	"github.com/giantswarm/guard/audit"
	"github.com/giantswarm/guard/internal/testutil"
)

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "order.schema.json")
	docPath := filepath.Join(dir, "order.json")
	if err := os.WriteFile(schemaPath, []byte(`{"type":"object","required":["item"],"properties":{"item":{"type":"string"}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(docPath, []byte(`{"qty":2}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		args     []string
		stdin    string
		wantErr  bool
		contains string
	}{
		{name: "clean text", args: []string{"validate", "hello", "world"}, contains: `"sanitized": "hello world"`},
		{name: "sql injection", args: []string{"validate", "1; DROP TABLE users"}, wantErr: true, contains: "sql_injection"},
		{name: "stdin", args: []string{"validate"}, stdin: "<b>hi</b>\n", contains: `"sanitized": "&lt;b&gt;hi&lt;/b&gt;"`},
		{name: "private url", args: []string{"validate", "--url", "http://127.0.0.1/admin"}, contains: "private_ip"},
		{name: "bad email", args: []string{"validate", "--email", "nobody"}, wantErr: true, contains: `"success": false`},
		{name: "schema failure", args: []string{"validate", "--file", docPath, "--schema", schemaPath}, wantErr: true, contains: "item"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCommand(t, tt.stdin, tt.args...)
			if tt.wantErr {
				if !errors.Is(err, errRejected) {
					t.Errorf("error = %v, want errRejected", err)
				}
			} else if err != nil {
				t.Errorf("error = %v", err)
			}
			testutil.AssertStringContains(t, out, tt.contains)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "", "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	testutil.AssertStringContains(t, out, "guardd "+version)
}

func newTestGuard(t *testing.T) *guard.Guard {
	t.Helper()
	cfg := guard.DefaultConfig()
	cfg.Environment = guard.EnvTest
	cfg.Logger, _ = testutil.NewCaptureLogger()

	g, err := guard.New(&cfg)
	if err != nil {
		t.Fatalf("guard.New() error = %v", err)
	}
	t.Cleanup(func() { _ = g.Stop(context.Background()) })
	return g
}

func TestDemoMux_Orders(t *testing.T) {
	mux := newDemoMux(newTestGuard(t), "")

	rr := testutil.NewHTTPRequest(http.MethodPost, "/api/orders").
		WithHeader("Content-Type", "application/json").
		WithHeader("Origin", "https://erp.example.com").
		WithRemoteAddr("203.0.113.30:4000").
		WithBody(`{"customerId":"7b0c5f8e-3c43-4f0e-9a53-2f1d2f7b6a10","item":" Desk ","quantity":3}`).
		Do(mux)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Order orderRequest `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Order.Item != "Desk" || resp.Order.Quantity != 3 {
		t.Errorf("order = %+v", resp.Order)
	}

	rr = testutil.NewHTTPRequest(http.MethodPost, "/api/orders").
		WithHeader("Content-Type", "application/json").
		WithHeader("Origin", "https://erp.example.com").
		WithRemoteAddr("203.0.113.30:4000").
		WithBody(`{"customerId":"nope","item":"Desk","quantity":0}`).
		Do(mux)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid order status = %d, want 400", rr.Code)
	}
}

func TestDemoMux_LoginAudited(t *testing.T) {
	g := newTestGuard(t)
	mux := newDemoMux(g, "S3cure-pass")

	login := func(password string) int {
		return testutil.NewHTTPRequest(http.MethodPost, "/auth/login").
			WithHeader("Content-Type", "application/json").
			WithHeader("Origin", "https://erp.example.com").
			WithRemoteAddr("203.0.113.31:4000").
			WithBody(`{"username":"jane_doe","password":"` + password + `"}`).
			Do(mux).Code
	}

	if got := login("wrong-pass"); got != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", got)
	}
	if got := login("S3cure-pass"); got != http.StatusOK {
		t.Errorf("right password status = %d, want 200", got)
	}

	ctx := context.Background()
	failed, _ := g.AuditLogger().GetAuditLogs(ctx, audit.Filter{EventType: audit.EventAuthFailed})
	succeeded, _ := g.AuditLogger().GetAuditLogs(ctx, audit.Filter{EventType: audit.EventAuthSuccess})
	if len(failed) != 1 || len(succeeded) != 1 {
		t.Fatalf("auth events failed=%d succeeded=%d, want 1 each", len(failed), len(succeeded))
	}
	if failed[0].UserID != "jane_doe" || failed[0].IPAddress != "203.0.113.31" {
		t.Errorf("failed entry = %+v", failed[0])
	}
}

func TestDemoMux_HealthUnprotected(t *testing.T) {
	mux := newDemoMux(newTestGuard(t), "")
	rr := testutil.NewHTTPRequest(http.MethodGet, "/health").Do(mux)
	if rr.Code != http.StatusOK || rr.Header().Get("X-RateLimit-Remaining") != "" {
		t.Errorf("health status = %d, headers %v", rr.Code, rr.Header())
	}
}

func TestRootHelp(t *testing.T) {
	out, err := runCommand(t, "", "--help")
	if err != nil {
		t.Fatalf("help error = %v", err)
	}
	testutil.AssertStringContains(t, out, "Fixed-window rate limiting")
}
