package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"inferd/internal/lifecycle"
	"inferd/pkg/types"
)

func TestE2E_GenerateThenCacheHit(t *testing.T) {
	dir := createTempModelsDir(t, "alpha.gguf")
	s := newStack(t, filepath.Join(t.TempDir(), "inferd.db"), dir)

	resp, body := httpGet(t, s.srv.URL+"/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/models %d %s", resp.StatusCode, body)
	}
	var models types.ModelsResponse
	if err := json.Unmarshal(body, &models); err != nil || len(models.Models) != 1 || models.Models[0].ID != "alpha" {
		t.Fatalf("/models = %s (%v)", body, err)
	}

	s.load(t, "alpha")
	if resp, _ := httpGet(t, s.srv.URL+"/readyz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz after load = %d", resp.StatusCode)
	}

	code, first := s.generate(t, speedOfLight)
	if code != http.StatusOK || first["source"] != types.SourceAccelerator || first["model_used"] != "alpha" {
		t.Fatalf("first generate: %d %v", code, first)
	}
	s.writer.Wait()

	acq, gens := s.gate.Acquisitions(), s.eng.Generates()
	for _, p := range []string{speedOfLight, lightFast} {
		code, out := s.generate(t, p)
		if code != http.StatusOK || out["source"] != types.SourceCache || out["response"] != first["response"] {
			t.Fatalf("%q: expected cached reply, got %d %v", p, code, out)
		}
		if _, ok := out["distance"]; !ok {
			t.Fatalf("%q: cache hit without distance", p)
		}
	}
	if s.gate.Acquisitions() != acq || s.eng.Generates() != gens {
		t.Fatalf("cache hits reached the accelerator")
	}

	if code, out := s.generate(t, france); code != http.StatusOK || out["source"] != types.SourceAccelerator {
		t.Fatalf("unrelated prompt: %d %v", code, out)
	}
}

func TestE2E_NoModelLoaded409(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "inferd.db"), "")
	code, out := s.generate(t, speedOfLight)
	if code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %v", code, out)
	}
	if s.gate.Acquisitions() != 0 {
		t.Fatalf("rejected request acquired the token")
	}
	resp, body := httpGet(t, s.srv.URL+"/health")
	var h types.HealthResponse
	if err := json.Unmarshal(body, &h); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("/health %d %s", resp.StatusCode, body)
	}
	if h.ModelLoaded || h.CurrentModel != nil || h.Status != "ok" {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestE2E_LoadUnknownModel404(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "inferd.db"), createTempModelsDir(t, "alpha.gguf"))
	resp, body := httpPostJSON(t, s.srv.URL+"/admin/load-model", []byte(`{"model_id":"missing"}`))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", resp.StatusCode, body)
	}
	if s.eng.Loads() != 0 {
		t.Fatalf("unknown model reached the runtime")
	}
}

func TestE2E_ConcurrentGeneratesAreSerialized(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "inferd.db"), createTempModelsDir(t, "alpha.gguf"))
	s.load(t, "alpha")
	s.eng.Delay = 10 * time.Millisecond

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		prompt := fmt.Sprintf("prompt %d", i)
		g.Go(func() error {
			code, out, err := s.tryGenerate(prompt)
			if err != nil {
				return err
			}
			if code != http.StatusOK || out["source"] != types.SourceAccelerator {
				return fmt.Errorf("%s: %d %v", prompt, code, out)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := s.eng.MaxInflight(); got != 1 {
		t.Fatalf("accelerator calls overlapped: max inflight %d", got)
	}
}

func TestE2E_HealthDoesNotWaitForToken(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "inferd.db"), createTempModelsDir(t, "alpha.gguf"))
	s.load(t, "alpha")
	s.eng.Delay = 500 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, _, err := s.tryGenerate(france)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		start := time.Now()
		_, body := httpGet(t, s.srv.URL+"/health")
		if took := time.Since(start); took > 250*time.Millisecond {
			t.Fatalf("/health took %v while a generation ran", took)
		}
		var h types.HealthResponse
		_ = json.Unmarshal(body, &h)
		if h.GPULocked {
			if h.CurrentModel == nil || *h.CurrentModel != "alpha" {
				t.Fatalf("unexpected health: %s", body)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never observed gpu_locked during a generation")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := <-done; err != nil {
		t.Fatalf("generate: %v", err)
	}
}

func TestE2E_CacheIsScopedToModel(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "inferd.db"), createTempModelsDir(t, "alpha.gguf", "beta.gguf"))
	s.load(t, "alpha")
	s.generate(t, speedOfLight)
	s.writer.Wait()

	s.load(t, "beta")
	code, out := s.generate(t, speedOfLight)
	if code != http.StatusOK || out["source"] != types.SourceAccelerator || out["model_used"] != "beta" {
		t.Fatalf("expected beta to miss alpha's entry, got %d %v", code, out)
	}
	want := []string{"load:alpha", "generate:alpha", "close:alpha", "teardown", "load:beta", "generate:beta"}
	got := s.eng.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
	names := s.events.Names()
	if len(names) == 0 {
		t.Fatalf("no lifecycle events recorded")
	}
	if names[len(names)-1] != lifecycle.EventLoadDone {
		t.Fatalf("last event = %s", names[len(names)-1])
	}
}

func TestE2E_CacheSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "inferd.db")
	dir := createTempModelsDir(t, "alpha.gguf")
	var first map[string]any
	t.Run("first process", func(t *testing.T) {
		s := newStack(t, dbPath, dir)
		s.load(t, "alpha")
		_, first = s.generate(t, speedOfLight)
		s.writer.Wait()
	})
	t.Run("second process", func(t *testing.T) {
		s := newStack(t, dbPath, dir)
		s.load(t, "alpha")
		code, out := s.generate(t, speedOfLight)
		if code != http.StatusOK || out["source"] != types.SourceCache || out["response"] != first["response"] {
			t.Fatalf("expected persisted entry, got %d %v", code, out)
		}
		if s.eng.Generates() != 0 {
			t.Fatalf("restarted process generated on the accelerator")
		}
	})
}

func TestE2E_FailedLoadLeavesSlotEmpty(t *testing.T) {
	s := newStack(t, filepath.Join(t.TempDir(), "inferd.db"), createTempModelsDir(t, "alpha.gguf", "beta.gguf"))
	s.eng.LoadErr["alpha"] = fmt.Errorf("cuda out of memory")

	resp, body := httpPostJSON(t, s.srv.URL+"/admin/load-model", []byte(`{"model_id":"alpha"}`))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %s", resp.StatusCode, body)
	}
	if resp, _ := httpGet(t, s.srv.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz after failed load = %d", resp.StatusCode)
	}
	_, body = httpGet(t, s.srv.URL+"/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("/status json: %v", err)
	}
	if st.State != "empty" || st.LastError == "" {
		t.Fatalf("unexpected status after failed load: %+v", st)
	}

	s.load(t, "beta")
	if code, out := s.generate(t, france); code != http.StatusOK || out["model_used"] != "beta" {
		t.Fatalf("generate after recovery: %d %v", code, out)
	}
	if s.eng.Resident() != 1 {
		t.Fatalf("resident handles = %d", s.eng.Resident())
	}
}
