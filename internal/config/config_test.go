package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/backendvisor/internal/launch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "backendvisor.toml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Name != "backend" || c.Packaged || !c.AutoStart {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.DrainGrace != 2*time.Second {
		t.Fatalf("drain_grace default: %v", c.DrainGrace)
	}
	if !c.Backend.UseOSEnv || c.History.Buffer != 64 || c.Server.Listen != "127.0.0.1:8787" {
		t.Fatalf("unexpected section defaults: %+v", c)
	}
	if c.Mode() != launch.ModeDevelopment {
		t.Fatalf("mode: %v", c.Mode())
	}
}

func TestLoadFromTOML(t *testing.T) {
	p := writeConfig(t, `
name = "api"
packaged = true
base_dir = "/res"
auto_start = false
drain_grace = "500ms"

[backend]
binary = "server"
env = ["PORT=8000", "MODE=${PORT}-x"]
use_os_env = false

[log]
level = "debug"
format = "json"
dir = "/var/log/app"
max_backups = 5

[server]
enabled = true
listen = ":9000"

[history]
enabled = true
dsn = "sqlite://:memory:"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Name != "api" || !c.Packaged || c.AutoStart || c.DrainGrace != 500*time.Millisecond {
		t.Fatalf("top-level: %+v", c)
	}
	if c.Backend.Binary != "server" || len(c.Backend.Env) != 2 || c.Backend.UseOSEnv {
		t.Fatalf("backend: %+v", c.Backend)
	}
	lc := c.Logger()
	if lc.Level != "debug" || lc.Format != "json" || lc.File.Dir != "/var/log/app" || lc.File.MaxBackups != 5 {
		t.Fatalf("logger: %+v", lc)
	}
	if !c.Server.Enabled || c.Server.Listen != ":9000" || c.Server.BasePath != "/api" {
		t.Fatalf("server: %+v", c.Server)
	}
	if !c.History.Enabled || c.History.DSN != "sqlite://:memory:" {
		t.Fatalf("history: %+v", c.History)
	}

	envList, err := c.BackendEnv()
	if err != nil {
		t.Fatalf("BackendEnv: %v", err)
	}
	if strings.Join(envList, ",") != "MODE=8000-x,PORT=8000" {
		t.Fatalf("env: %v", envList)
	}
}

func TestEnvOverrides(t *testing.T) {
	p := writeConfig(t, "name = \"api\"\n[log]\nlevel = \"info\"\n")
	t.Setenv("BACKENDVISOR_PACKAGED", "true")
	t.Setenv("BACKENDVISOR_LOG_LEVEL", "error")
	t.Setenv("BACKENDVISOR_BASE_DIR", "/opt/app")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Packaged || c.Log.Level != "error" || c.BaseDir != "/opt/app" {
		t.Fatalf("env overrides not applied: %+v", c)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	cases := map[string]string{
		"bad name":        `name = "a b"`,
		"negative grace":  `drain_grace = "-1s"`,
		"bad format":      "[log]\nformat = \"xml\"",
		"history w/o dsn": "[history]\nenabled = true",
		"server w/o addr": "[server]\nenabled = true\nlisten = \"\"",
		"bad env":         "[backend]\nenv = [\"NOEQUALS\"]",
		"negative buffer": "[history]\nbuffer = -1",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLaunchSpec(t *testing.T) {
	base := t.TempDir()
	c := &Config{Name: "api", BaseDir: base, Backend: BackendConfig{Interpreter: "py", Script: "srv/app.py"}}
	s, err := c.LaunchSpec()
	if err != nil {
		t.Fatalf("LaunchSpec: %v", err)
	}
	if s.Program != "py" || s.Args[0] != filepath.Join(base, "srv", "app.py") {
		t.Fatalf("dev spec: %+v", s)
	}

	c.Packaged = true
	s, _ = c.LaunchSpec()
	if s.Mode != launch.ModePackaged || filepath.Dir(s.Program) != base {
		t.Fatalf("packaged spec: %+v", s)
	}
}

func TestResolveBaseDirDefaults(t *testing.T) {
	wd, _ := os.Getwd()
	c := &Config{}
	got, err := c.ResolveBaseDir()
	if err != nil || got != wd {
		t.Fatalf("development base: %q, %v (want %q)", got, err, wd)
	}
	c.Packaged = true
	got, err = c.ResolveBaseDir()
	if err != nil || filepath.Base(got) != "resources" {
		t.Fatalf("packaged base: %q, %v", got, err)
	}
}

func TestBackendEnvFiles(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "a.env")
	f2 := filepath.Join(dir, "b.env")
	_ = os.WriteFile(f1, []byte("A=1\nB=1\n"), 0o600)
	_ = os.WriteFile(f2, []byte("B=2\n"), 0o600)
	c := &Config{Backend: BackendConfig{EnvFiles: []string{f1, f2}, Env: []string{"C=${A}${B}"}}}
	got, err := c.BackendEnv()
	if err != nil {
		t.Fatalf("BackendEnv: %v", err)
	}
	if strings.Join(got, ",") != "A=1,B=2,C=12" {
		t.Fatalf("env: %v", got)
	}

	c.Backend.EnvFiles = []string{filepath.Join(dir, "nope.env")}
	if _, err := c.BackendEnv(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
