package launch

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Mode selects how the backend is located and started.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModePackaged    Mode = "packaged"
)

// ModeFor maps the host's "is packaged" flag to a Mode.
func ModeFor(packaged bool) Mode {
	if packaged {
		return ModePackaged
	}
	return ModeDevelopment
}

// ParseMode accepts "development"/"dev" and "packaged"/"prod"/"production".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return ModeDevelopment, nil
	case "packaged", "prod", "production":
		return ModePackaged, nil
	default:
		return "", fmt.Errorf("unknown build mode %q, must be one of: development, packaged", s)
	}
}

func (m Mode) String() string { return string(m) }

// Layout holds the names used to locate the backend under a base directory.
// Script is slash-separated and relative to the base directory.
type Layout struct {
	Interpreter string `json:"interpreter" mapstructure:"interpreter"`
	Script      string `json:"script" mapstructure:"script"`
	Binary      string `json:"binary" mapstructure:"binary"`
}

// DefaultScript is the development entry point relative to the project root.
const DefaultScript = "backend/api.py"

// DefaultLayout returns the platform layout: a Python interpreter running
// backend/api.py in development and the api_server binary when packaged.
func DefaultLayout() Layout {
	return Layout{
		Interpreter: defaultInterpreter,
		Script:      DefaultScript,
		Binary:      defaultBinary,
	}
}

// withDefaults fills empty fields from DefaultLayout.
func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if strings.TrimSpace(l.Interpreter) == "" {
		l.Interpreter = d.Interpreter
	}
	if strings.TrimSpace(l.Script) == "" {
		l.Script = d.Script
	}
	if strings.TrimSpace(l.Binary) == "" {
		l.Binary = d.Binary
	}
	return l
}

// Spec is a resolved description of how to start the backend.
// It is a value type; callers must not mutate Args after resolution.
type Spec struct {
	Mode    Mode     `json:"mode"`
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

// Resolve computes the launch spec for mode under baseDir using DefaultLayout.
func Resolve(mode Mode, baseDir string) Spec {
	return DefaultLayout().Resolve(mode, baseDir)
}

// Resolve computes the launch spec for mode under baseDir.
// Any mode other than ModePackaged resolves as development.
// It has no side effects; missing files surface only when the command starts.
func (l Layout) Resolve(mode Mode, baseDir string) Spec {
	l = l.withDefaults()
	if mode == ModePackaged {
		return Spec{
			Mode:    ModePackaged,
			Program: joinUnder(baseDir, l.Binary),
			Args:    []string{},
		}
	}
	return Spec{
		Mode:    ModeDevelopment,
		Program: l.Interpreter,
		Args:    []string{joinUnder(baseDir, l.Script)},
	}
}

// joinUnder joins a slash-separated relative path onto base using the host
// separator. Absolute rel values are returned cleaned and unchanged.
func joinUnder(base, rel string) string {
	rel = filepath.FromSlash(rel)
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(base, rel)
}

// Cmd builds an *exec.Cmd for the spec without going through a shell.
func (s Spec) Cmd() *exec.Cmd {
	args := append([]string(nil), s.Args...)
	// ok: program and arguments come from resolved configuration, not user input
	// #nosec G204
	return exec.Command(s.Program, args...)
}

// String renders the command line for logs and errors.
func (s Spec) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, quoteArg(s.Program))
	for _, a := range s.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(a string) string {
	if a == "" {
		return `""`
	}
	if strings.ContainsAny(a, " \t\"'") {
		return fmt.Sprintf("%q", a)
	}
	return a
}

// Equal reports whether two specs describe the same command.
func (s Spec) Equal(o Spec) bool {
	if s.Mode != o.Mode || s.Program != o.Program || len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}
