// Package prompt turns a raw user prompt into the templated string a model
// family expects. Every family embeds the same assistant system instruction
// ahead of the user's text.
package prompt

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
)

// Family selects a formatting strategy.
type Family string

const (
	FamilyMistral Family = "mistral"
	FamilyLlama3  Family = "llama3"
	FamilyChatML  Family = "chatml"
	// FamilyNative defers to the runtime's own chat template.
	FamilyNative Family = "native"
	// FamilyGeneric is the fallback every other strategy degrades to.
	FamilyGeneric Family = "generic"
)

// SystemInstruction is the assistant framing placed ahead of every prompt.
const SystemInstruction = "You are a helpful AI assistant."

// ParseFamily maps an explicit tag to a Family. ok is false for unknown tags.
func ParseFamily(s string) (Family, bool) {
	switch f := Family(strings.ToLower(strings.TrimSpace(s))); f {
	case FamilyMistral, FamilyLlama3, FamilyChatML, FamilyNative, FamilyGeneric:
		return f, true
	case "llama", "llama-3":
		return FamilyLlama3, true
	default:
		return "", false
	}
}

// detectRules is consulted in order; the first keyword found in the model
// identifier wins.
var detectRules = []struct {
	keyword string
	family  Family
}{
	{"mistral", FamilyMistral},
	{"mixtral", FamilyMistral},
	{"llama", FamilyLlama3},
}

// DetectFamily picks a family from a model identifier. Unrecognized models use
// the runtime's native template.
func DetectFamily(modelID string) Family {
	id := strings.ToLower(modelID)
	for _, r := range detectRules {
		if strings.Contains(id, r.keyword) {
			return r.family
		}
	}
	return FamilyNative
}

// Formatter renders prompts. The zero value is usable.
type Formatter struct {
	Logger zerolog.Logger
}

// Format returns the templated prompt for raw under family. templater may be
// nil; the native strategy then falls back to the generic template, as it
// does when templating fails.
func (f Formatter) Format(ctx context.Context, raw string, family Family, templater engine.ChatTemplater) string {
	switch family {
	case FamilyMistral:
		return "<s>[INST] " + SystemInstruction + " " + raw + " [/INST]"
	case FamilyLlama3:
		return "<|begin_of_text|>" +
			"<|start_header_id|>system<|end_header_id|>\n\n" + SystemInstruction + "<|eot_id|>" +
			"<|start_header_id|>user<|end_header_id|>\n\n" + raw + "<|eot_id|>" +
			"<|start_header_id|>assistant<|end_header_id|>\n\n"
	case FamilyChatML:
		return "<|im_start|>system\n" + SystemInstruction + "<|im_end|>\n" +
			"<|im_start|>user\n" + raw + "<|im_end|>\n" +
			"<|im_start|>assistant\n"
	case FamilyNative:
		if templater == nil {
			return generic(raw)
		}
		out, err := templater.ApplyChatTemplate(ctx, []engine.Message{
			{Role: "system", Content: SystemInstruction},
			{Role: "user", Content: raw},
		})
		if err != nil || strings.TrimSpace(out) == "" {
			f.Logger.Warn().Err(err).Msg("chat template failed; using generic prompt")
			return generic(raw)
		}
		return out
	default:
		return generic(raw)
	}
}

func generic(raw string) string {
	return "System: You are a helpful assistant.\nUser: " + raw + "\nAssistant:"
}
