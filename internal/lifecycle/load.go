package lifecycle

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"inferd/internal/engine"
	"inferd/internal/metrics"
	"inferd/internal/prompt"
)

// Load makes req.ModelID the resident model.
//
// Loading the id that is already resident is a no-op. Loading a different id
// releases the current model first, so at most one model occupies the
// accelerator. A failed allocation rolls the runtime back and leaves the slot
// Empty; the returned error satisfies IsAllocation and wraps the runtime's
// cause.
func (m *Manager) Load(ctx context.Context, req LoadRequest) error {
	id := strings.TrimSpace(req.ModelID)
	path := strings.TrimSpace(req.Path)
	if id == "" {
		return invalidLoadError{msg: "model_id is required"}
	}
	if path == "" {
		return invalidLoadError{msg: "model_path is required"}
	}
	family := prompt.DetectFamily(id)
	if req.Family != "" {
		f, ok := prompt.ParseFamily(req.Family)
		if !ok {
			return invalidLoadError{msg: "unknown prompt family " + req.Family}
		}
		family = f
	}
	spec := engine.LoadSpec{ModelID: id, Path: path, Quantization: engine.ParseQuantization(req.Quantization)}

	release, err := m.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if cur := m.CurrentModel(); cur == id {
		metrics.ModelLoads.WithLabelValues("skip").Inc()
		m.publish(EventLoadSkip, id, nil)
		m.log.Info().Str("model", id).Msg("model already loaded")
		return nil
	}

	op := uuid.NewString()
	m.publish(EventLoadStart, id, map[string]any{"op": op, "path": path, "quantization": string(spec.Quantization)})
	m.unloadLocked()

	m.log.Info().Str("model", id).Str("path", path).Str("quantization", string(spec.Quantization)).Str("runtime", m.rt.Name()).Msg("loading model")
	h, err := m.rt.Load(ctx, spec)
	if err != nil {
		// Roll back whatever the runtime partially allocated.
		m.teardown(id)
		m.mu.Lock()
		m.lastErr = err.Error()
		m.mu.Unlock()
		metrics.ModelLoads.WithLabelValues("error").Inc()
		m.publish(EventLoadFailed, id, map[string]any{"op": op, "error": err.Error()})
		m.log.Error().Err(err).Str("model", id).Msg("model load failed")
		return ErrAllocation(id, err)
	}

	info := &ModelInfo{
		ID:           id,
		Path:         path,
		Quantization: spec.Quantization,
		Family:       family,
		LoadedAt:     m.now(),
	}
	m.mu.Lock()
	m.handle, m.cur = h, info
	m.lastErr = ""
	m.loads++
	m.mu.Unlock()
	metrics.ModelLoads.WithLabelValues("ok").Inc()
	m.publish(EventLoadDone, id, map[string]any{"op": op, "family": string(family)})
	m.log.Info().Str("model", id).Str("family", string(family)).Msg("model loaded")
	return nil
}
