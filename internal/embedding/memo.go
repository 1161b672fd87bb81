package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memo wraps an Embedder with a bounded TTL cache keyed by the text's
// sha256, so the read and write paths of one request embed the prompt once.
type Memo struct {
	next  Embedder
	cache *ttlcache.Cache[string, []float32]
}

// NewMemo starts the cache's expiration loop; call Close to stop it.
func NewMemo(next Embedder, ttl time.Duration, capacity uint64) *Memo {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if capacity == 0 {
		capacity = 1024
	}
	c := ttlcache.New[string, []float32](
		ttlcache.WithTTL[string, []float32](ttl),
		ttlcache.WithCapacity[string, []float32](capacity),
		ttlcache.WithDisableTouchOnHit[string, []float32](),
	)
	go c.Start()
	return &Memo{next: next, cache: c}
}

func (m *Memo) Model() string   { return m.next.Model() }
func (m *Memo) Dimensions() int { return m.next.Dimensions() }

// Embed returns the memoized vector or computes and stores it. Errors are
// not cached.
func (m *Memo) Embed(ctx context.Context, text string) ([]float32, error) {
	key := keyFor(text)
	if item := m.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	vec, err := m.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	m.cache.Set(key, vec, ttlcache.DefaultTTL)
	return vec, nil
}

// Len returns the number of memoized vectors.
func (m *Memo) Len() int { return m.cache.Len() }

// Close stops the cache expiration loop.
func (m *Memo) Close() { m.cache.Stop() }

func keyFor(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
