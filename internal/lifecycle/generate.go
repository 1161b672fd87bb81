package lifecycle

import (
	"context"
	"fmt"

	"inferd/internal/engine"
	"inferd/internal/logging"
)

// Generate runs one generation against the resident model. An empty slot
// fails with ErrNoModelLoaded before the admission token is requested.
func (m *Manager) Generate(ctx context.Context, raw string, maxTokens int) (Generation, error) {
	if !m.Ready() {
		return Generation{}, ErrNoModelLoaded()
	}
	release, err := m.gate.Acquire(ctx)
	if err != nil {
		return Generation{}, err
	}
	defer release()

	// The model may have been unloaded while this call waited.
	m.mu.RLock()
	h, cur := m.handle, m.cur
	m.mu.RUnlock()
	if cur == nil || h == nil {
		return Generation{}, ErrNoModelLoaded()
	}

	// Native templating calls into the resident handle, so formatting stays
	// inside the token.
	templater, _ := h.(engine.ChatTemplater)
	formatted := m.formatter.Format(ctx, raw, cur.Family, templater)
	m.log.Debug().Str("model", cur.ID).Str("prompt", logging.Preview(formatted, 200)).Msg("prompt sent to accelerator")

	text, err := h.Generate(ctx, formatted, engine.Params{MaxTokens: maxTokens, Temperature: m.temp})
	if err != nil {
		return Generation{}, fmt.Errorf("generate %s: %w", cur.ID, err)
	}
	return Generation{Text: text, ModelID: cur.ID}, nil
}
