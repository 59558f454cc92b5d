package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FuzzLoadFileMerge feeds arbitrary .env content through LoadFile and the
// WithPairs/Merge layering.
func FuzzLoadFileMerge(f *testing.F) {
	f.Add([]byte("A=1\nexport B=\"${A}-x\"\n# note\n"), "C=${B}-y")
	f.Add([]byte("FOO=bar\n"), "FOO=${FOO}")
	f.Add([]byte("X=${NOPE}\nY='${X}'\n"), "Z=${UNSET_FUZZ_VAR}")
	f.Add([]byte("BROKEN\n"), "")

	f.Fuzz(func(t *testing.T, file []byte, override string) {
		p := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(p, file, 0o600); err != nil {
			t.Fatal(err)
		}
		pairs, err := LoadFile(p)
		if err != nil {
			return
		}
		for _, kv := range pairs {
			if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
				t.Fatalf("LoadFile produced bad pair %q", kv)
			}
		}

		e := New().WithPairs(pairs)
		out := e.Merge([]string{override})
		keys := map[string]bool{}
		for _, kv := range out {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("bad pair: %q", kv)
			}
			keys[k] = true
		}

		// a reference to a name defined nowhere survives literally
		const ref = "${UNSET_FUZZ_VAR}"
		if keys["UNSET_FUZZ_VAR"] {
			return
		}
		lit := New().WithPairs(pairs).Merge([]string{"FUZZ_REF=" + ref})
		for _, kv := range lit {
			if kv == "FUZZ_REF="+ref {
				return
			}
		}
		t.Fatalf("unknown reference not kept: %v", lit)
	})
}
