package embedding

import (
	"context"
	"sync"
	"sync/atomic"
)

// Static is a table-driven Embedder for tests and offline tooling.
type Static struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	dims    int
	err     error
	calls   atomic.Int64
}

// NewStatic returns an embedder that knows exactly the given texts.
func NewStatic(vectors map[string][]float32) *Static {
	s := &Static{vectors: make(map[string][]float32, len(vectors))}
	for k, v := range vectors {
		s.vectors[k] = v
		s.dims = len(v)
	}
	return s
}

// Set adds or replaces the vector for text.
func (s *Static) Set(text string, vec []float32) {
	s.mu.Lock()
	s.vectors[text] = vec
	s.dims = len(vec)
	s.mu.Unlock()
}

// SetErr makes every Embed fail with err; nil restores normal behavior.
func (s *Static) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Calls returns how many times Embed was called.
func (s *Static) Calls() int64 { return s.calls.Load() }

func (s *Static) Model() string { return "static" }

func (s *Static) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

func (s *Static) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.vectors[text]
	if !ok {
		return nil, ErrUnknownText
	}
	return append([]float32(nil), v...), nil
}
