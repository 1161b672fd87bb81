// Package embedding turns text into fixed-length vectors for the semantic
// cache. Embedding never runs while the admission token is held.
package embedding

import (
	"context"
	"errors"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// DefaultModel is the embedding model the cache is built for.
const DefaultModel = "all-MiniLM-L6-v2"

// Embedder generates vector embeddings from text input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model names the embedding model.
	Model() string
	// Dimensions is the vector length, or 0 when not fixed.
	Dimensions() int
}

// ErrUnknownText is returned by Static for text it has no vector for.
var ErrUnknownText = errors.New("embedding: unknown text")
