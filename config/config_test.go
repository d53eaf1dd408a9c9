package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anymcp/anymcp/manager"
)

const sampleConfig = `
settings:
  call_timeout: 45s
  probe_failure_limit: 5

providers:
  - name: calculator
    kind: script
    command: ./bin/calcmcp
    description: Demo calculator

  - name: notion
    kind: docker
    image: ghcr.io/example/notion-mcp
    env:
      NOTION_TOKEN: ${NOTION_TOKEN}
    enabled: false

  - name: search
    kind: remote
    address: 127.0.0.1:8900
`

func TestParsePreservesOrderAndDefaults(t *testing.T) {
	f, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	names := make([]string, len(f.Providers))
	for i, p := range f.Providers {
		names[i] = p.Name
	}
	want := []string{"calculator", "notion", "search"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("provider order %v, want %v", names, want)
		}
	}

	opts := f.Options()
	if opts.CallTimeout != 45*time.Second {
		t.Errorf("CallTimeout = %v, want 45s", opts.CallTimeout)
	}
	if opts.ProbeFailureLimit != 5 {
		t.Errorf("ProbeFailureLimit = %d, want 5", opts.ProbeFailureLimit)
	}
	// Unset fields fall back to stock defaults.
	if opts.InitTimeout != manager.DefaultOptions().InitTimeout {
		t.Errorf("InitTimeout = %v, want default", opts.InitTimeout)
	}
}

func TestParseKeepsEnvReferencesLiteral(t *testing.T) {
	t.Setenv("NOTION_TOKEN", "should-not-expand-yet")
	f, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	notion, ok := f.Provider("notion")
	if !ok {
		t.Fatal("notion provider missing")
	}
	if notion.Env["NOTION_TOKEN"] != "${NOTION_TOKEN}" {
		t.Errorf("env reference expanded at load time: %q", notion.Env["NOTION_TOKEN"])
	}
	if notion.IsEnabled() {
		t.Error("notion should be disabled")
	}
}

func TestParseRejectsDuplicateNames(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  - {name: twin, kind: script, command: a.py}
  - {name: twin, kind: script, command: b.py}
`))
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestParseRejectsInvalidProvider(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  - {name: broken, kind: docker}
`))
	if err == nil {
		t.Fatal("expected validation error for docker without image")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(f.Providers) != 3 {
		t.Errorf("got %d providers", len(f.Providers))
	}
	if _, ok := f.Provider("ghost"); ok {
		t.Error("ghost provider should not exist")
	}
}
