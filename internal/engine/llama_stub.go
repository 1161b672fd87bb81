//go:build !llama

package engine

// No-CGO stub for the in-process llama runtime. The real one lives in llama.go.

import "context"

// LlamaBuilt reports whether this binary was compiled with real llama support.
const LlamaBuilt = false

type llamaRuntime struct{}

func newLlamaRuntime(Config) Runtime { return llamaRuntime{} }

func (llamaRuntime) Name() string { return KindLlama }

// Load fails fast: the llama runtime is not available in this build.
func (llamaRuntime) Load(context.Context, LoadSpec) (Handle, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (llamaRuntime) Teardown() error { return nil }
