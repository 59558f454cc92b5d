package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/backendvisor/internal/launch"
	"github.com/loykin/backendvisor/internal/server"
	"github.com/loykin/backendvisor/internal/supervisor"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelpMentionsCommands(t *testing.T) {
	out, err := execRoot(t, "--help")
	if err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, want := range []string{"backendvisor", "run", "resolve", "status"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output missing %q: %s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execRoot(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != "backendvisor "+version {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestResolvePackagedJSON(t *testing.T) {
	dir := t.TempDir()
	out, err := execRoot(t, "resolve", "--packaged", "--base-dir", dir, "--json")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var got struct {
		Mode    string   `json:"mode"`
		Program string   `json:"program"`
		Args    []string `json:"args"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Mode != "packaged" || got.Program != filepath.Join(dir, launch.DefaultLayout().Binary) || len(got.Args) != 0 {
		t.Fatalf("unexpected spec: %+v", got)
	}
}

func TestResolveDevelopmentFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "backendvisor.toml")
	body := "base_dir = \"" + filepath.ToSlash(dir) + "\"\n[backend]\ninterpreter = \"python3.12\"\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execRoot(t, "--config", cfgPath, "resolve")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(out, "python3.12 ") || !strings.Contains(out, "api.py") {
		t.Fatalf("unexpected command line: %q", out)
	}
}

func TestResolveBadConfig(t *testing.T) {
	if _, err := execRoot(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "resolve"); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

type stubController struct{ running bool }

func (s *stubController) Start() error {
	if s.running {
		return supervisor.ErrAlreadyRunning
	}
	s.running = true
	return nil
}

func (s *stubController) Stop() error { s.running = false; return nil }

func (s *stubController) Status() supervisor.Status {
	st := supervisor.Status{Name: "api", Command: "api_server"}
	if s.running {
		st.State, st.PID = supervisor.StateRunning, 42
	}
	return st
}

func TestRemoteCommands(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(server.NewRouter(&stubController{}, "/api", nil).Handler())
	defer ts.Close()
	api := ts.URL + "/api"

	out, err := execRoot(t, "start", "--api-url", api)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out, `"pid": 42`) {
		t.Fatalf("start output: %s", out)
	}

	_, err = execRoot(t, "start", "--api-url", api)
	if err == nil || !strings.Contains(err.Error(), supervisor.ErrAlreadyRunning.Error()) {
		t.Fatalf("second start should report conflict, got %v", err)
	}

	out, err = execRoot(t, "status", "--api-url", api)
	if err != nil || !strings.Contains(out, `"state": "running"`) {
		t.Fatalf("status: %v %s", err, out)
	}

	if out, err = execRoot(t, "stop", "--api-url", api); err != nil || strings.TrimSpace(out) != "stopped" {
		t.Fatalf("stop: %v %q", err, out)
	}

	// no history reader attached
	if _, err := execRoot(t, "history", "--api-url", api); err == nil {
		t.Fatalf("history should fail without a journal")
	}
}

func TestStatusUnreachable(t *testing.T) {
	_, err := execRoot(t, "status", "--api-url", "http://127.0.0.1:1/api", "--api-timeout", "200ms")
	if err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestRunHostUntilCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sh")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "api.sh"), []byte("echo up\nexec sleep 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "backendvisor.toml")
	body := strings.Join([]string{
		`name = "api"`,
		`base_dir = "` + dir + `"`,
		`drain_grace = "500ms"`,
		`[backend]`,
		`interpreter = "/bin/sh"`,
		`script = "api.sh"`,
		`[log]`,
		`level = "error"`,
	}, "\n")
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := runHost(ctx, cfgPath); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("run did not stop the backend promptly")
	}
}
