package env

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env composes the environment handed to the backend. Values are layered:
// base (OS environment, when enabled) < global vars < per-call overrides.
// Env values are immutable; WithSet and WithOS return modified copies.
type Env struct {
	vars Var
	base Var
}

func New() Env { return Env{vars: Var{}} }

// WithOS returns a copy that uses the current process environment as base.
func (e Env) WithOS() Env {
	base := Var{}
	for _, kv := range os.Environ() {
		if k, v, ok := splitKV(kv); ok {
			base[k] = v
		}
	}
	e.base = base
	return e
}

// WithSet returns a copy with k=v added to the global vars.
func (e Env) WithSet(k, v string) Env {
	if k == "" {
		return e
	}
	nv := make(Var, len(e.vars)+1)
	for kk, vv := range e.vars {
		nv[kk] = vv
	}
	nv[k] = v
	e.vars = nv
	return e
}

// WithPairs applies each "KEY=VALUE" entry via WithSet; malformed entries are skipped.
func (e Env) WithPairs(kvs []string) Env {
	for _, kv := range kvs {
		if k, v, ok := splitKV(kv); ok {
			e = e.WithSet(k, v)
		}
	}
	return e
}

// Merge composes the final "K=V" list, applying perCall overrides last.
// ${VAR} references in global and per-call values are expanded against the
// composed map in one pass; values taken unchanged from the OS base are
// passed through literally. Unknown references are kept as written. The
// result is sorted by key.
func (e Env) Merge(perCall []string) []string {
	m := make(Var, len(e.base)+len(e.vars)+len(perCall))
	configured := make(map[string]bool, len(e.vars)+len(perCall))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
		configured[k] = true
	}
	for _, kv := range perCall {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
			configured[k] = true
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		if configured[k] {
			v = expand(v, m)
		}
		out = append(out, k+"="+v)
	}
	return out
}

// expand replaces ${NAME} with its value from m. Bare $NAME is not a
// reference.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			break
		}
		name := s[i+2 : i+2+end]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+end])
		}
		s = s[i+3+end:]
	}
	b.WriteString(s)
	return b.String()
}

func splitKV(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// LoadFile parses a simple .env file with KEY=VALUE lines. Blank lines and
// lines starting with # are ignored, an optional "export " prefix is
// stripped, and one pair of surrounding quotes is removed from values.
func LoadFile(path string) ([]string, error) {
	clean := filepath.Clean(path)
	f, err := os.Open(clean)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := splitKV(line)
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", clean, n)
		}
		out = append(out, strings.TrimSpace(k)+"="+unquote(strings.TrimSpace(v)))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func unquote(v string) string {
	if n := len(v); n >= 2 {
		if (v[0] == '"' && v[n-1] == '"') || (v[0] == '\'' && v[n-1] == '\'') {
			return v[1 : n-1]
		}
	}
	return v
}
