package lifecycle

import (
	"context"

	"inferd/internal/metrics"
)

// Unload releases the resident model. Unloading an empty slot is a no-op.
// Teardown failures are logged and published, never returned; the only error
// is ctx.Err() while waiting for the token.
func (m *Manager) Unload(ctx context.Context) error {
	release, err := m.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	m.unloadLocked()
	return nil
}

// Close unloads the resident model and tears the runtime down. Call it once
// at shutdown.
func (m *Manager) Close(ctx context.Context) error {
	release, err := m.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	m.unloadLocked()
	m.teardown("")
	return nil
}

// unloadLocked requires the admission token.
func (m *Manager) unloadLocked() {
	m.mu.RLock()
	h, cur := m.handle, m.cur
	m.mu.RUnlock()
	if cur == nil {
		return
	}
	m.publish(EventUnloadStart, cur.ID, nil)

	// The slot is Empty from here on regardless of how teardown goes.
	m.mu.Lock()
	m.handle, m.cur = nil, nil
	m.unloads++
	m.mu.Unlock()

	if h != nil {
		if err := h.Close(); err != nil {
			m.log.Warn().Err(err).Str("model", cur.ID).Msg("release model failed")
			m.publish(EventTeardownError, cur.ID, map[string]any{"stage": "close", "error": err.Error()})
		}
	}
	m.teardown(cur.ID)
	metrics.ModelUnloads.Inc()
	m.publish(EventUnloadDone, cur.ID, nil)
	m.log.Info().Str("model", cur.ID).Msg("model unloaded")
}

// teardown resets runtime-wide accelerator state. Requires the token.
func (m *Manager) teardown(modelID string) {
	if err := m.rt.Teardown(); err != nil {
		m.log.Warn().Err(err).Str("model", modelID).Msg("runtime teardown failed")
		m.publish(EventTeardownError, modelID, map[string]any{"stage": "teardown", "error": err.Error()})
	}
}
