// Package admission serializes every accelerator-touching operation behind a
// single exclusive token.
//
// The accelerator runtime is not safe for concurrent use, so load, unload and
// generate all run inside Do (or between Acquire and its release). Waiters are
// served in arrival order by the underlying weighted semaphore. There is no
// queue limit and no timeout: a caller waits until the token is free or its
// own context is cancelled.
package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"inferd/internal/metrics"
)

// Config configures a Controller.
type Config struct {
	Logger zerolog.Logger
}

// Controller owns the admission token.
type Controller struct {
	sem          *semaphore.Weighted
	held         atomic.Bool
	acquisitions atomic.Uint64
	log          zerolog.Logger
}

// New returns a Controller with the token free.
func New(cfg Config) *Controller {
	return &Controller{
		sem: semaphore.NewWeighted(1),
		log: cfg.Logger,
	}
}

// Acquire blocks until the token is held by the caller. The returned release
// func is safe to call more than once; only the first call releases. The only
// error is ctx.Err() when ctx ends while waiting.
func (c *Controller) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return func() {}, err
	}
	waited := time.Since(start)
	c.held.Store(true)
	c.acquisitions.Add(1)
	metrics.AdmissionHeld.Set(1)
	metrics.AdmissionAcquisitions.Inc()
	metrics.AdmissionWait.Observe(waited.Seconds())
	c.log.Debug().Dur("waited", waited).Msg("admission acquired")

	var once sync.Once
	return func() {
		once.Do(func() {
			c.held.Store(false)
			metrics.AdmissionHeld.Set(0)
			c.sem.Release(1)
		})
	}, nil
}

// Do runs fn while holding the token. The token is released on every exit
// path, including a panic in fn (which is re-raised after release).
func (c *Controller) Do(ctx context.Context, fn func() error) error {
	release, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Held reports whether the token is currently held. Advisory only.
func (c *Controller) Held() bool { return c.held.Load() }

// Acquisitions returns the number of successful acquisitions so far.
func (c *Controller) Acquisitions() uint64 { return c.acquisitions.Load() }
