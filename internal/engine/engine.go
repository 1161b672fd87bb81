// Package engine is the boundary to the accelerator runtime.
//
// A Runtime allocates a model onto the accelerator and returns a Handle that
// owns the allocation until Close. Nothing in this package serializes access;
// callers (lifecycle.Manager) hold the admission token around every call.
//
// Runtimes:
//
//   - llama: in-process go-llama.cpp. Enabled with `-tags=llama`; without
//     the tag the runtime reports a dependency-unavailable error on Load.
//   - llama-server: spawns llama.cpp's OpenAI-compatible server per load.
//   - vllm: spawns `vllm serve` per load with the original tuning constants.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Quantization names the weight precision scheme a model is loaded with.
type Quantization string

const (
	QuantNone       Quantization = "none"
	QuantAWQ        Quantization = "awq"
	QuantGPTQ       Quantization = "gptq"
	QuantSqueezeLLM Quantization = "squeezellm"
	QuantFP8        Quantization = "fp8"
)

// DefaultQuantization applies when a load request leaves quantization empty.
const DefaultQuantization = QuantAWQ

// ParseQuantization normalizes a user supplied mode. Unknown names are kept
// verbatim so runtimes can pass them through.
func ParseQuantization(s string) Quantization {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "":
		return DefaultQuantization
	case "none", "null", "off":
		return QuantNone
	}
	return Quantization(v)
}

// LoadSpec describes one model allocation.
type LoadSpec struct {
	ModelID      string
	Path         string
	Quantization Quantization
}

// Params are per-call generation parameters.
type Params struct {
	MaxTokens   int
	Temperature float32
}

// DefaultTemperature matches the sampling the gateway has always served with.
const DefaultTemperature float32 = 0.7

// Handle owns one resident model. Close frees its accelerator memory and is
// idempotent.
type Handle interface {
	Generate(ctx context.Context, prompt string, p Params) (string, error)
	Close() error
}

// Runtime allocates models. Teardown releases runtime-wide state that outlives
// a single handle (parallel groups, spawned servers); it is best-effort and
// idempotent.
type Runtime interface {
	Name() string
	Load(ctx context.Context, spec LoadSpec) (Handle, error)
	Teardown() error
}

// Message is one chat turn handed to a ChatTemplater.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatTemplater is implemented by handles that can render the model's own
// chat template.
type ChatTemplater interface {
	ApplyChatTemplate(ctx context.Context, msgs []Message) (string, error)
}

// Runtime kinds accepted by New.
const (
	KindLlama       = "llama"
	KindLlamaServer = "llama-server"
	KindVLLM        = "vllm"
)

// Config configures the runtime built by New.
type Config struct {
	Kind string
	// Bin is the server executable for subprocess kinds.
	Bin       string
	Host      string
	PortStart int
	PortEnd   int
	// CtxSize, Threads and GPULayers apply to llama kinds.
	CtxSize   int
	Threads   int
	GPULayers int
	// GPUMemoryUtilization and MaxModelLen apply to vllm.
	GPUMemoryUtilization float64
	MaxModelLen          int
	StartupTimeout       time.Duration
	ExtraArgs            []string
	Logger               zerolog.Logger
}

// New builds the runtime named by cfg.Kind.
func New(cfg Config) (Runtime, error) {
	switch cfg.Kind {
	case KindLlama, "":
		return newLlamaRuntime(cfg), nil
	case KindLlamaServer:
		return newSubprocessRuntime(cfg, flavorLlamaServer), nil
	case KindVLLM:
		return newSubprocessRuntime(cfg, flavorVLLM), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}
