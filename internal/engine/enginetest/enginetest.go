// Package enginetest provides an instrumented in-memory engine.Runtime for
// tests. It records every accelerator call, tracks how many calls overlap,
// and counts resident handles so tests can assert no memory is orphaned.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"inferd/internal/engine"
)

// Engine is a fake runtime. Configure fields before use; they are read
// under the engine's lock.
type Engine struct {
	mu sync.Mutex
	// LoadErr maps a model id to the error its load returns.
	LoadErr map[string]error
	// GenerateErr is returned by every Generate when set.
	GenerateErr error
	// CloseErr and TeardownErr are returned by Close and Teardown.
	CloseErr    error
	TeardownErr error
	// Delay is slept inside every accelerator call.
	Delay time.Duration
	// Templates makes handles implement engine.ChatTemplater.
	Templates   bool
	TemplateErr error
	// Reply overrides the generated text.
	Reply func(modelID, prompt string) string

	calls    []string
	prompts  []string
	resident map[string]int

	loads, closes, teardowns, generates atomic.Int64
	inflight, maxInflight                atomic.Int32
}

// New returns a ready fake.
func New() *Engine {
	return &Engine{LoadErr: map[string]error{}, resident: map[string]int{}}
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) enter() func() {
	n := e.inflight.Add(1)
	for {
		m := e.maxInflight.Load()
		if n <= m || e.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	e.mu.Lock()
	d := e.Delay
	e.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return func() { e.inflight.Add(-1) }
}

func (e *Engine) record(call string) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()
}

func (e *Engine) Load(ctx context.Context, spec engine.LoadSpec) (engine.Handle, error) {
	defer e.enter()()
	e.loads.Add(1)
	e.record("load:" + spec.ModelID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	err := e.LoadErr[spec.ModelID]
	templates := e.Templates
	if err == nil {
		e.resident[spec.ModelID]++
	}
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	h := &handle{e: e, id: spec.ModelID}
	if templates {
		return &templatingHandle{handle: h}, nil
	}
	return h, nil
}

func (e *Engine) Teardown() error {
	defer e.enter()()
	e.teardowns.Add(1)
	e.record("teardown")
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.TeardownErr
}

// Loads returns the number of allocation attempts.
func (e *Engine) Loads() int64 { return e.loads.Load() }

// Closes returns the number of handle releases.
func (e *Engine) Closes() int64 { return e.closes.Load() }

// Teardowns returns the number of runtime teardowns.
func (e *Engine) Teardowns() int64 { return e.teardowns.Load() }

// Generates returns the number of generation calls.
func (e *Engine) Generates() int64 { return e.generates.Load() }

// MaxInflight returns the largest number of overlapping accelerator calls seen.
func (e *Engine) MaxInflight() int32 { return e.maxInflight.Load() }

// Resident returns the number of handles that are loaded and not closed.
func (e *Engine) Resident() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.resident {
		n += c
	}
	return n
}

// Calls returns the ordered call log, e.g. ["load:A", "close:A", "load:B"].
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Prompts returns the formatted prompts handed to Generate.
func (e *Engine) Prompts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.prompts...)
}

type handle struct {
	e      *Engine
	id     string
	closed atomic.Bool
}

func (h *handle) Generate(ctx context.Context, prompt string, p engine.Params) (string, error) {
	defer h.e.enter()()
	h.e.generates.Add(1)
	h.e.record("generate:" + h.id)
	if h.closed.Load() {
		return "", fmt.Errorf("generate on closed handle %s", h.id)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.e.mu.Lock()
	h.e.prompts = append(h.e.prompts, prompt)
	err, reply := h.e.GenerateErr, h.e.Reply
	h.e.mu.Unlock()
	if err != nil {
		return "", err
	}
	if reply != nil {
		return reply(h.id, prompt), nil
	}
	return fmt.Sprintf("[%s] %d tokens max", h.id, p.MaxTokens), nil
}

func (h *handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer h.e.enter()()
	h.e.closes.Add(1)
	h.e.record("close:" + h.id)
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.e.resident[h.id]--
	return h.e.CloseErr
}

type templatingHandle struct{ *handle }

func (h *templatingHandle) ApplyChatTemplate(_ context.Context, msgs []engine.Message) (string, error) {
	h.e.mu.Lock()
	err := h.e.TemplateErr
	h.e.mu.Unlock()
	if err != nil {
		return "", err
	}
	out := ""
	for _, m := range msgs {
		out += "<" + m.Role + ">" + m.Content + "</" + m.Role + ">"
	}
	return out + "<assistant>", nil
}
