package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"inferd/pkg/types"
)

func TestScan_FindsGGUFAndCheckpointDirs(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"llama-3.1-8b-q4_k_m.gguf", "Phi.GGUF", "notes.txt", "model.bin"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	ckpt := filepath.Join(dir, "Mistral-7B-Instruct-AWQ")
	if err := os.MkdirAll(ckpt, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ckpt, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "empty-dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	models, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []types.Model{
		{ID: "Mistral-7B-Instruct-AWQ", Name: "Mistral-7B-Instruct-AWQ", Path: ckpt, Quant: "awq", Family: "mistral"},
		{ID: "Phi", Name: "Phi.GGUF", Path: filepath.Join(dir, "Phi.GGUF"), Family: "native"},
		{ID: "llama-3.1-8b-q4_k_m", Name: "llama-3.1-8b-q4_k_m.gguf", Path: filepath.Join(dir, "llama-3.1-8b-q4_k_m.gguf"), Family: "llama3"},
	}
	if diff := cmp.Diff(want, models); diff != "" {
		t.Fatalf("models mismatch (-want +got):\n%s", diff)
	}
	if m, ok := Find(models, "Phi"); !ok || m.Name != "Phi.GGUF" {
		t.Fatalf("Find = %+v, %v", m, ok)
	}
	if _, ok := Find(models, "missing"); ok {
		t.Fatalf("Find should miss")
	}
}

func TestScan_ExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	sub := filepath.Join(home, "models")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "x.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	models, err := Scan("~/models")
	if err != nil || len(models) != 1 || models[0].ID != "x" {
		t.Fatalf("Scan(~/models) = %+v, %v", models, err)
	}
}

func TestScan_MissingDir(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
