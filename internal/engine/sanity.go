package engine

import (
	"os/exec"
	"strings"
)

// SanityReport describes whether the configured runtime can be used.
type SanityReport struct {
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sanity checks the runtime named by cfg without allocating anything.
// It is safe to call at any time.
func Sanity(cfg Config) SanityReport {
	kind := cfg.Kind
	if kind == "" {
		kind = KindLlama
	}
	r := SanityReport{Kind: kind}
	switch kind {
	case KindLlama:
		r.Available = LlamaBuilt
		if !LlamaBuilt {
			r.Error = "llama support not built (missing 'llama' build tag)"
		}
	case KindLlamaServer, KindVLLM:
		bin := strings.TrimSpace(cfg.Bin)
		if bin == "" {
			bin = flavorLlamaServer.defaultBin()
			if kind == KindVLLM {
				bin = flavorVLLM.defaultBin()
			}
		}
		p, err := exec.LookPath(bin)
		r.Path = bin
		if err != nil {
			r.Error = err.Error()
			return r
		}
		r.Path = p
		r.Available = true
	default:
		r.Error = "unknown engine kind " + kind
	}
	return r
}
