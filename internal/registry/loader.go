// Package registry discovers loadable models under a models directory.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"inferd/internal/common/fsutil"
	"inferd/internal/prompt"
	"inferd/pkg/types"
)

// Scan lists the models directly under dir: *.gguf files (llama runtimes) and
// directories holding a config.json (vllm checkpoints). IDs are the file
// name without extension, or the directory name. Results are sorted by ID.
func Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		name := e.Name()
		p := filepath.Join(abs, name)
		var id string
		switch {
		case e.IsDir():
			if !fsutil.IsFile(filepath.Join(p, "config.json")) {
				continue
			}
			id = name
		case strings.HasSuffix(strings.ToLower(name), ".gguf"):
			id = name[:len(name)-len(".gguf")]
		default:
			continue
		}
		models = append(models, types.Model{
			ID:     id,
			Name:   name,
			Path:   p,
			Quant:  guessQuant(id),
			Family: string(prompt.DetectFamily(id)),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Find returns the model with the given id.
func Find(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

var quantMarkers = []string{"awq", "gptq", "squeezellm", "fp8"}

// guessQuant reads a quantization marker from a model name. GGUF quant
// levels (q4_k_m etc.) are embedded in the file and need no flag.
func guessQuant(id string) string {
	l := strings.ToLower(id)
	for _, q := range quantMarkers {
		if strings.Contains(l, q) {
			return q
		}
	}
	return ""
}
