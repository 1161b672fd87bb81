package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"inferd/internal/engine"
)

type fakeTemplater struct {
	out  string
	err  error
	msgs []engine.Message
}

func (f *fakeTemplater) ApplyChatTemplate(_ context.Context, msgs []engine.Message) (string, error) {
	f.msgs = msgs
	return f.out, f.err
}

func TestDetectFamily(t *testing.T) {
	cases := map[string]Family{
		"Mistral-7B-Instruct-v0.3-AWQ": FamilyMistral,
		"mixtral-8x7b":                 FamilyMistral,
		"Meta-Llama-3.1-8B-Instruct":   FamilyLlama3,
		"Qwen2.5-7B-Instruct":          FamilyNative,
		"gemma-2-9b-it":                FamilyNative,
		"":                             FamilyNative,
	}
	for id, want := range cases {
		if got := DetectFamily(id); got != want {
			t.Fatalf("DetectFamily(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestParseFamily(t *testing.T) {
	if f, ok := ParseFamily(" ChatML "); !ok || f != FamilyChatML {
		t.Fatalf("ParseFamily chatml = %q, %v", f, ok)
	}
	if f, ok := ParseFamily("llama"); !ok || f != FamilyLlama3 {
		t.Fatalf("ParseFamily llama = %q, %v", f, ok)
	}
	if _, ok := ParseFamily("falcon"); ok {
		t.Fatalf("expected unknown family")
	}
}

func TestFormat_Families(t *testing.T) {
	var f Formatter
	ctx := context.Background()
	raw := "What is the speed of light?"

	if got, want := f.Format(ctx, raw, FamilyMistral, nil), "<s>[INST] You are a helpful AI assistant. What is the speed of light? [/INST]"; got != want {
		t.Fatalf("mistral = %q", got)
	}
	l3 := f.Format(ctx, raw, FamilyLlama3, nil)
	if !strings.HasPrefix(l3, "<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\nYou are a helpful AI assistant.<|eot_id|>") ||
		!strings.HasSuffix(l3, "<|start_header_id|>assistant<|end_header_id|>\n\n") ||
		!strings.Contains(l3, raw) {
		t.Fatalf("llama3 = %q", l3)
	}
	cm := f.Format(ctx, raw, FamilyChatML, nil)
	if !strings.Contains(cm, "<|im_start|>user\n"+raw+"<|im_end|>") || !strings.HasSuffix(cm, "<|im_start|>assistant\n") {
		t.Fatalf("chatml = %q", cm)
	}
	if got, want := f.Format(ctx, raw, FamilyGeneric, nil), "System: You are a helpful assistant.\nUser: What is the speed of light?\nAssistant:"; got != want {
		t.Fatalf("generic = %q", got)
	}
}

func TestFormat_NativeUsesTemplater(t *testing.T) {
	tpl := &fakeTemplater{out: "<templated>"}
	got := Formatter{}.Format(context.Background(), "hi", FamilyNative, tpl)
	if got != "<templated>" {
		t.Fatalf("native = %q", got)
	}
	if len(tpl.msgs) != 2 || tpl.msgs[0].Role != "system" || tpl.msgs[0].Content != SystemInstruction || tpl.msgs[1].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", tpl.msgs)
	}
}

func TestFormat_NativeFallsBack(t *testing.T) {
	want := generic("hi")
	if got := (Formatter{}).Format(context.Background(), "hi", FamilyNative, nil); got != want {
		t.Fatalf("nil templater = %q", got)
	}
	tpl := &fakeTemplater{err: errors.New("no chat template")}
	if got := (Formatter{}).Format(context.Background(), "hi", FamilyNative, tpl); got != want {
		t.Fatalf("failing templater = %q", got)
	}
	if got := (Formatter{}).Format(context.Background(), "hi", Family("unknown"), nil); got != want {
		t.Fatalf("unknown family = %q", got)
	}
}

func TestFormat_Deterministic(t *testing.T) {
	raw := "same input"
	for _, fam := range []Family{FamilyMistral, FamilyLlama3, FamilyChatML, FamilyGeneric} {
		a := Formatter{}.Format(context.Background(), raw, fam, nil)
		b := Formatter{}.Format(context.Background(), raw, fam, nil)
		if a != b {
			t.Fatalf("%s not deterministic", fam)
		}
	}
	if raw != "same input" {
		t.Fatalf("input mutated")
	}
}
