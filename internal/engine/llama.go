//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// LlamaBuilt reports whether this binary was compiled with real llama support.
const LlamaBuilt = true

// llamaRuntime loads models in-process through go-llama.cpp.
type llamaRuntime struct {
	ctxSize   int
	threads   int
	gpuLayers int
	log       zerolog.Logger
}

func newLlamaRuntime(cfg Config) Runtime {
	return &llamaRuntime{ctxSize: cfg.CtxSize, threads: cfg.Threads, gpuLayers: cfg.GPULayers, log: cfg.Logger}
}

func (r *llamaRuntime) Name() string { return KindLlama }

func (r *llamaRuntime) Load(ctx context.Context, spec LoadSpec) (Handle, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []llama.ModelOption{llama.SetContext(max(r.ctxSize, 512))}
	if r.gpuLayers > 0 {
		opts = append(opts, llama.SetGPULayers(r.gpuLayers))
	}
	m, err := llama.New(spec.Path, opts...)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("model", spec.ModelID).Str("path", spec.Path).Msg("llama model resident")
	return &llamaHandle{model: m, threads: r.threads}, nil
}

// Teardown is a no-op: go-llama.cpp keeps no state beyond each handle.
func (r *llamaRuntime) Teardown() error { return nil }

// llamaHandle owns the loaded model.
type llamaHandle struct {
	model   *llama.LLama
	threads int
}

func (h *llamaHandle) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	if h.model == nil {
		return "", errors.New("llama model not initialized")
	}
	// Stop sampling once the caller goes away.
	h.model.SetTokenCallback(func(string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	})
	temp := p.Temperature
	if temp <= 0 {
		temp = DefaultTemperature
	}
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, h.threads)),
		llama.SetTemperature(temp),
	}
	text, err := h.model.Predict(prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

func (h *llamaHandle) Close() error {
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}
