package semcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/embedding"
	"inferd/internal/metrics"
)

// Inserter is the write side of Store.
type Inserter interface {
	Insert(ctx context.Context, e Entry) (int64, error)
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Store    Inserter
	Embedder embedding.Embedder
	Logger   zerolog.Logger
	// Timeout bounds one write (embed + insert). Defaults to one minute.
	Timeout time.Duration
}

// Writer persists generated responses in the background. Writes run on their
// own context, so the request that produced the response can finish or be
// cancelled without aborting the write. Failures are logged and counted,
// never returned.
type Writer struct {
	store   Inserter
	emb     embedding.Embedder
	log     zerolog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewWriter(cfg WriterConfig) *Writer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Writer{store: cfg.Store, emb: cfg.Embedder, log: cfg.Logger, timeout: timeout}
}

// Submit schedules a write and returns immediately. It reports false when
// the writer is closed and the write was dropped.
func (w *Writer) Submit(prompt, response, modelID string) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Debug().Str("model", modelID).Msg("cache writer closed; dropping write")
		return false
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.write(ctx, prompt, response, modelID); err != nil {
			metrics.CacheWrites.WithLabelValues("error").Inc()
			w.log.Warn().Err(err).Str("model", modelID).Msg("cache write failed")
			return
		}
		metrics.CacheWrites.WithLabelValues("ok").Inc()
	}()
	return true
}

func (w *Writer) write(ctx context.Context, prompt, response, modelID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cache write: %v", r)
		}
	}()
	vec, err := w.emb.Embed(ctx, prompt)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	id, err := w.store.Insert(ctx, Entry{Prompt: prompt, Response: response, ModelID: modelID, Vector: vec})
	if err != nil {
		return err
	}
	w.log.Debug().Int64("id", id).Str("model", modelID).Msg("response cached")
	return nil
}

// Wait blocks until every submitted write has finished.
func (w *Writer) Wait() { w.wg.Wait() }

// Close stops accepting writes and waits for outstanding ones until ctx ends.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("cache writes still pending"), ctx.Err())
	}
}
