package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/prompt"
)

// Manager holds at most one resident model.
type Manager struct {
	rt        engine.Runtime
	gate      Gate
	formatter prompt.Formatter
	publisher EventPublisher
	log       zerolog.Logger
	now       func() time.Time
	temp      float32

	// mu guards the fields below. Writers also hold the admission token.
	mu      sync.RWMutex
	handle  engine.Handle
	cur     *ModelInfo
	lastErr string
	loads   uint64
	unloads uint64
}

// New constructs a Manager with an empty slot. Runtime and Gate are required.
func New(cfg Config) *Manager {
	m := &Manager{
		rt:        cfg.Runtime,
		gate:      cfg.Gate,
		formatter: cfg.Formatter,
		publisher: cfg.Publisher,
		log:       cfg.Logger,
		now:       cfg.Clock,
		temp:      cfg.Temperature,
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.temp <= 0 {
		m.temp = engine.DefaultTemperature
	}
	return m
}

// SetEventPublisher replaces the event sink. Passing nil restores the no-op.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(name, modelID string, fields map[string]any) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if fields == nil {
		fields = map[string]any{}
	}
	p.Publish(Event{Name: name, ModelID: modelID, Fields: fields})
}

// Snapshot returns a read-only view of the slot. It never waits for the
// admission token.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		State:     StateEmpty,
		LastError: m.lastErr,
		Runtime:   m.rt.Name(),
		Loads:     m.loads,
		Unloads:   m.unloads,
	}
	if m.cur != nil {
		info := *m.cur
		s.State = StateLoaded
		s.CurrentModel = &info
	}
	return s
}

// CurrentModel returns the resident model id, or "" when empty.
func (m *Manager) CurrentModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return ""
	}
	return m.cur.ID
}

// Ready reports whether a model is resident.
func (m *Manager) Ready() bool { return m.CurrentModel() != "" }
