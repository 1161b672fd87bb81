package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/prompt"
)

// Gate hands out the exclusive accelerator token. *admission.Controller
// satisfies it.
type Gate interface {
	Acquire(ctx context.Context) (func(), error)
}

// Config encapsulates all dependencies for Manager construction.
type Config struct {
	Runtime   engine.Runtime
	Gate      Gate
	Formatter prompt.Formatter
	Publisher EventPublisher
	Logger    zerolog.Logger
	// Clock stamps LoadedAt; defaults to time.Now.
	Clock func() time.Time
	// Temperature for every generation; defaults to engine.DefaultTemperature.
	Temperature float32
}
