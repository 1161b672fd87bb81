package lifecycle

import (
	"time"

	"inferd/internal/engine"
	"inferd/internal/prompt"
)

// State of the model slot.
type State string

const (
	StateEmpty  State = "empty"
	StateLoaded State = "loaded"
)

// ModelInfo describes the resident model.
type ModelInfo struct {
	ID           string              `json:"id"`
	Path         string              `json:"path"`
	Quantization engine.Quantization `json:"quantization"`
	Family       prompt.Family       `json:"family"`
	LoadedAt     time.Time           `json:"loaded_at"`
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel *ModelInfo
	// LastError is the message of the most recent failed load, cleared by a
	// successful one.
	LastError string
	Runtime   string
	Loads     uint64
	Unloads   uint64
}

// LoadRequest names the model to make resident.
type LoadRequest struct {
	ModelID      string
	Path         string
	Quantization string
	// Family is an explicit prompt family tag. Empty means detect from ModelID.
	Family string
}

// Generation is the result of one accelerator generation.
type Generation struct {
	Text    string
	ModelID string
}
