package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.Text("error.game_full"); got != "GAME IS FULL" {
		t.Fatalf("error.game_full = %q", got)
	}
	if got := c.Text("invalid.wrong_color"); got != "INVALID MOVE WRONG COLOR" {
		t.Fatalf("invalid.wrong_color = %q", got)
	}
}

func TestMissingKeyFallsBackToKey(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.Text("error.no_such_key"); got != "error.no_such_key" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := []byte("error:\n  game_full: \"NO SEATS LEFT\"\n")
	if err := os.WriteFile(filepath.Join(dir, "10-local.yaml"), override, 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.Text("error.game_full"); got != "NO SEATS LEFT" {
		t.Fatalf("override not applied: %q", got)
	}
	// untouched keys keep defaults
	if got := c.Text("search.found"); got != "FOUND" {
		t.Fatalf("default lost: %q", got)
	}
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("search:\n  found: \"YES\"\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
