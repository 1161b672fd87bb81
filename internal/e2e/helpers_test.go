package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/admission"
	"inferd/internal/apikeys"
	"inferd/internal/embedding"
	"inferd/internal/engine/enginetest"
	"inferd/internal/gateway"
	"inferd/internal/httpapi"
	"inferd/internal/lifecycle"
	"inferd/internal/semcache"
	"inferd/internal/store"
)

const (
	speedOfLight = "What is the speed of light?"
	lightFast    = "How fast does light travel?"
	france       = "Capital of France?"
)

// createTempModelsDir creates a temporary directory populated with empty .gguf files.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// stack is a fully wired gateway behind a real HTTP server, with a fake
// accelerator and fixed embeddings.
type stack struct {
	srv    *httptest.Server
	eng    *enginetest.Engine
	gate   *admission.Controller
	emb    *embedding.Static
	writer *semcache.Writer
	events *lifecycle.MemoryPublisher
}

// newStack builds a stack over the sqlite file at dbPath. Everything is torn
// down in t's cleanup: model unloaded, writer drained, server and db closed.
func newStack(t *testing.T, dbPath, modelsDir string) *stack {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cache, err := semcache.Open(ctx, db, semcache.Config{})
	if err != nil {
		t.Fatalf("semcache.Open: %v", err)
	}
	emb := embedding.NewStatic(map[string][]float32{
		speedOfLight: {1, 0, 0},
		lightFast:    {0.98, 0.05, 0},
		france:       {0, 1, 0},
	})
	writer := semcache.NewWriter(semcache.WriterConfig{Store: cache, Embedder: emb})
	eng := enginetest.New()
	gate := admission.New(admission.Config{})
	events := lifecycle.NewMemoryPublisher()
	lc := lifecycle.New(lifecycle.Config{Runtime: eng, Gate: gate, Publisher: events})
	gw := gateway.New(gateway.Config{
		Lifecycle:    lc,
		Admission:    gate,
		Embedder:     emb,
		Cache:        cache,
		Writer:       writer,
		CacheEnabled: true,
		ReadEnabled:  true,
		ModelsDir:    modelsDir,
		Logger:       zerolog.Nop(),
	})
	srv := httptest.NewServer(httpapi.NewMux(gw, apikeys.New(db, zerolog.Nop())))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		if err := gw.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return &stack{srv: srv, eng: eng, gate: gate, emb: emb, writer: writer, events: events}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func (s *stack) load(t *testing.T, id string) {
	t.Helper()
	resp, body := httpPostJSON(t, s.srv.URL+"/admin/load-model", []byte(`{"model_id":"`+id+`"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load %s: %d %s", id, resp.StatusCode, body)
	}
}

func (s *stack) generate(t *testing.T, prompt string) (int, map[string]any) {
	t.Helper()
	code, out, err := s.tryGenerate(prompt)
	if err != nil {
		t.Fatalf("generate %q: %v", prompt, err)
	}
	return code, out
}

// tryGenerate is generate for goroutines other than the test's own.
func (s *stack) tryGenerate(prompt string) (int, map[string]any, error) {
	payload, _ := json.Marshal(map[string]any{"prompt": prompt})
	resp, err := http.Post(s.srv.URL+"/generate", "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode: %w", err)
	}
	return resp.StatusCode, out, nil
}
