package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/hapra/internal/config"
	"github.com/haasonsaas/hapra/internal/signature"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "signature", "tools", "config", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	out, err := execute(t, "signature", "encode", "--agent-url", "http://agents:8000", "--app", "helper", "--model-ref", "org|d|m")
	if err != nil {
		t.Fatalf("encode error = %v", err)
	}
	encoded := strings.TrimSpace(out)
	if !strings.HasPrefix(encoded, signature.Prefix) {
		t.Fatalf("encoded = %q, want %s prefix", encoded, signature.Prefix)
	}

	out, err = execute(t, "signature", "decode", encoded)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	var sig signature.Signature
	if err := json.Unmarshal([]byte(out), &sig); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if sig.AppName != "helper" || sig.ModelRef != "org|d|m" || sig.AgentURL != "http://agents:8000" {
		t.Errorf("decoded = %+v", sig)
	}
}

func TestSignatureDecodeRejectsGarbage(t *testing.T) {
	if _, err := execute(t, "signature", "decode", "external_agent/!!!"); err == nil {
		t.Fatal("expected error for malformed signature")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "hapra "+version) {
		t.Errorf("version output = %q", out)
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hapra.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out, err := execute(t, "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("config validate error = %v", err)
	}
	if !strings.Contains(out, "port 9100") {
		t.Errorf("validate output = %q", out)
	}

	out, err = execute(t, "config", "schema")
	if err != nil {
		t.Fatalf("config schema error = %v", err)
	}
	if !strings.Contains(out, "heartbeat") {
		t.Errorf("schema output missing heartbeat section")
	}
}

// fakeToolGateway answers the MCP calls made by "tools list".
func fakeToolGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		id, ok := req["id"]
		if !ok {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		var result any
		switch req["method"] {
		case "initialize":
			result = map[string]any{
				"protocolVersion": "2024-11-05",
				"capabilities":    map[string]any{},
				"serverInfo":      map[string]any{"name": "fake", "version": "1"},
			}
		case "tools/list":
			result = map[string]any{"tools": []any{
				map[string]any{"name": "create_card", "description": "Create a card\nmore", "inputSchema": map[string]any{"type": "object"},
					"_meta": map[string]any{"_fastmcp": map[string]any{"tags": []string{"public", "trello"}}}},
				map[string]any{"name": "admin_reset", "inputSchema": map[string]any{"type": "object"},
					"_meta": map[string]any{"_fastmcp": map[string]any{"tags": []string{"admin"}}}},
			}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestToolsList(t *testing.T) {
	srv := fakeToolGateway(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hapra.yaml")
	if err := os.WriteFile(path, []byte("tools:\n  url: "+srv.URL+"/mcp/\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out, err := execute(t, "tools", "list", "--config", path, "--tags", "trello")
	if err != nil {
		t.Fatalf("tools list error = %v", err)
	}
	if !strings.Contains(out, "create_card") || strings.Contains(out, "admin_reset") {
		t.Errorf("tools list output = %q", out)
	}
	if strings.Contains(out, "more") {
		t.Errorf("description should be cut to its first line: %q", out)
	}

	out, err = execute(t, "tools", "list", "--config", path, "--json")
	if err != nil {
		t.Fatalf("tools list --json error = %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("json output %q: %v", out, err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestNewAppServesHealthz(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second

	a := newApp(cfg, newLogger(config.LoggingConfig{Level: "error", Format: "json"}))
	if err := a.server.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.shutdown()

	resp, err := http.Get("http://" + a.server.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get("http://" + a.server.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestSchedulerFactoryRejectsBadToken(t *testing.T) {
	factory := schedulerFactory(config.Default().Scheduler, nil, nil)
	sched, err := factory("not-a-jwt", "org|d|m")
	if err == nil {
		t.Fatal("expected error for token without url claim")
	}
	if sched != nil {
		t.Fatalf("scheduler = %#v, want nil interface", sched)
	}
}
