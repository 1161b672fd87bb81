package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cases := map[string]string{
		"":            "",
		"/tmp":        "/tmp",
		"~":           home,
		"~/inferd.db": filepath.Join(home, "inferd.db"),
		"~other/x":    "~other/x",
	}
	for in, want := range cases {
		got, err := ExpandHome(in)
		if err != nil || got != want {
			t.Fatalf("ExpandHome(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestPathExistsAndIsFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "config.json")
	if err := os.WriteFile(f, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !PathExists(f) || !IsFile(f) {
		t.Fatalf("file not detected")
	}
	if !PathExists(dir) || IsFile(dir) {
		t.Fatalf("dir misclassified")
	}
	missing := filepath.Join(dir, "missing")
	if PathExists(missing) || IsFile(missing) {
		t.Fatalf("missing path reported as present")
	}
}
