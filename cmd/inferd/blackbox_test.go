package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func goBuild(t *testing.T, out, pkg string) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), out)
	cmd := exec.Command("go", "build", "-o", bin, pkg)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build %s: %v\n%s", pkg, err, b)
	}
	return bin
}

// embeddingServer answers /embeddings with a vector derived from the input
// text, so equal prompts embed identically and different ones do not.
func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		sum := sha256.Sum256([]byte(req.Input))
		vec := make([]float32, 384)
		for i := range vec {
			vec[i] = float32(sum[i%len(sum)]) - 127.5
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"embedding": vec}}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, payload string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, b
}

func TestBlackbox_Flow(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := goBuild(t, "inferd", ".")
	fake := goBuild(t, "fake_server", "../../internal/engine/testdata/fake_server.go")
	emb := embeddingServer(t)

	modelsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(modelsDir, "alpha.gguf"), nil, 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	port := findFreePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	cfgPath := filepath.Join(t.TempDir(), "inferd.yaml")
	cfg := fmt.Sprintf(`addr: "127.0.0.1:%d"
db_path: %s
models_dir: %s
log_level: warn
engine:
  kind: llama-server
  bin: %s
  ctx_size: 0
  port_start: 32000
  port_end: 32999
  startup_timeout: 20s
embedding:
  base_url: %s
`, port, filepath.Join(t.TempDir(), "inferd.db"), modelsDir, fake, emb.URL)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := exec.Command(bin, "serve", "--config", cfgPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	t.Cleanup(func() {
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-exited:
		case <-time.After(10 * time.Second):
			_ = cmd.Process.Kill()
		}
	})

	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if code, body := postJSON(t, base+"/generate", `{"prompt":"hi"}`); code != http.StatusConflict {
		t.Fatalf("generate before load: %d %s", code, body)
	}
	if code, body := postJSON(t, base+"/admin/load-model", `{"model_id":"alpha","quantization":"None"}`); code != http.StatusOK {
		t.Fatalf("load: %d %s", code, body)
	}

	code, body := postJSON(t, base+"/generate", `{"prompt":"What is the speed of light?"}`)
	if code != http.StatusOK {
		t.Fatalf("generate: %d %s", code, body)
	}
	var first struct {
		Response  string `json:"response"`
		ModelUsed string `json:"model_used"`
		Source    string `json:"source"`
	}
	if err := json.Unmarshal(body, &first); err != nil {
		t.Fatalf("generate json: %v", err)
	}
	if first.Source != "accelerator" || first.ModelUsed != "alpha" || first.Response == "" {
		t.Fatalf("unexpected first reply: %s", body)
	}

	// The write path is asynchronous; the repeat turns into a hit once it lands.
	deadline = time.Now().Add(5 * time.Second)
	for {
		_, body = postJSON(t, base+"/generate", `{"prompt":"What is the speed of light?"}`)
		var again struct {
			Response string `json:"response"`
			Source   string `json:"source"`
		}
		_ = json.Unmarshal(body, &again)
		if again.Source == "cache" {
			if again.Response != first.Response {
				t.Fatalf("cached reply %q differs from %q", again.Response, first.Response)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("repeat prompt never served from cache: %s", body)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if code, body := postJSON(t, base+"/admin/unload-model", ``); code != http.StatusOK {
		t.Fatalf("unload: %d %s", code, body)
	}
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var h map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&h)
	if h["model_loaded"] != false || h["current_model"] != nil {
		t.Fatalf("unexpected health after unload: %v", h)
	}
}
