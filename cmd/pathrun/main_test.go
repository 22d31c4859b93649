// ABOUTME: Tests for CLI helpers: YAML bindings loading and graph validation exit codes.
package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadBindingsYAML(t *testing.T) {
	path := writeFile(t, "learner.yaml", `
name: Ada
elpaLevel: 2
interests:
  - science
  - music
`)
	bindings, err := loadBindings(path)
	if err != nil {
		t.Fatalf("loadBindings: %v", err)
	}
	if bindings["name"] != "Ada" {
		t.Errorf("name = %v", bindings["name"])
	}
	if bindings["elpaLevel"] != 2 {
		t.Errorf("elpaLevel = %v", bindings["elpaLevel"])
	}
	interests, ok := bindings["interests"].([]any)
	if !ok || len(interests) != 2 {
		t.Errorf("interests = %v", bindings["interests"])
	}
}

func TestLoadBindingsEmptyPath(t *testing.T) {
	bindings, err := loadBindings("")
	if err != nil || bindings != nil {
		t.Errorf("loadBindings(\"\") = %v, %v", bindings, err)
	}
}

func TestLoadBindingsMalformedYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "foo: [unclosed")
	if _, err := loadBindings(path); err == nil {
		t.Fatal("want error for malformed YAML")
	}
}

func TestValidateGraphExitCodes(t *testing.T) {
	good := writeFile(t, "good.json", `{
		"nodes": [{"id": "intro", "type": "content", "data": {"template": "hi"}}]
	}`)
	if code := validateGraph(config{graphFile: good}); code != 0 {
		t.Errorf("valid graph exit = %d, want 0", code)
	}

	bad := writeFile(t, "bad.json", `{"nodes": [{"id": "x", "type": "warp"}]}`)
	if code := validateGraph(config{graphFile: bad}); code != 1 {
		t.Errorf("invalid graph exit = %d, want 1", code)
	}

	if code := validateGraph(config{graphFile: filepath.Join(t.TempDir(), "missing.json")}); code != 1 {
		t.Errorf("missing file exit = %d, want 1", code)
	}
}
