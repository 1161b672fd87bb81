package main

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"inferd/pkg/types"
)

func TestParseLoadFlag(t *testing.T) {
	cases := []struct {
		in   string
		want types.LoadModelRequest
	}{
		{"m1=/models/m1", types.LoadModelRequest{ModelID: "m1", ModelPath: "/models/m1"}},
		{"m1=/models/m1:awq", types.LoadModelRequest{ModelID: "m1", ModelPath: "/models/m1", Quantization: "awq"}},
		{"m1=/models/m1:None", types.LoadModelRequest{ModelID: "m1", ModelPath: "/models/m1", Quantization: "None"}},
		{`m1=C:\models\m1`, types.LoadModelRequest{ModelID: "m1", ModelPath: `C:\models\m1`}},
	}
	for _, tc := range cases {
		got, err := parseLoadFlag(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%q (-want +got):\n%s", tc.in, diff)
		}
	}
	for _, bad := range []string{"", "m1", "=path", "m1="} {
		if _, err := parseLoadFlag(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("inferd %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestKeysCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "inferd.db")
	out := run(t, "keys", "create", "ci", "--db", db, "--log-level", "off")
	m := regexp.MustCompile(`id:\s+(\S+)\nkey: (sk-live-\S+)`).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("unexpected create output: %q", out)
	}
	id, raw := m[1], m[2]

	list := run(t, "keys", "list", "--db", db, "--log-level", "off")
	if !strings.Contains(list, id) || !strings.Contains(list, raw[:12]) || strings.Contains(list, raw) {
		t.Fatalf("unexpected list output: %q", list)
	}

	run(t, "keys", "revoke", id, "--db", db, "--log-level", "off")
	if list := run(t, "keys", "ls", "--db", db, "--log-level", "off"); strings.Contains(list, id) {
		t.Fatalf("revoked key still listed: %q", list)
	}

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"keys", "revoke", id, "--db", db, "--log-level", "off"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected error revoking a revoked key")
	}
}

func TestCacheStats_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "inferd.db")
	out := run(t, "cache", "stats", "--db", db, "--log-level", "off")
	if !strings.Contains(out, "MODEL") || !strings.Contains(out, "total") {
		t.Fatalf("unexpected stats output: %q", out)
	}
}

func TestVersion(t *testing.T) {
	if out := run(t, "version"); !strings.HasPrefix(out, "inferd ") {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("INFERD_ADDR", ":1111")
	cmd := newRootCmd()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve: %v", err)
	}
	if err := serveCmd.ParseFlags([]string{"--addr", ":2222", "--db", "/tmp/x.db"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(serveCmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":2222" || cfg.DBPath != "/tmp/x.db" {
		t.Fatalf("flags did not override: addr=%s db=%s", cfg.Addr, cfg.DBPath)
	}
}
