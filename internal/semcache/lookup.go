package semcache

import (
	"context"

	"github.com/rs/zerolog"

	"inferd/internal/embedding"
	"inferd/internal/metrics"
)

// Lookup embeds prompt and searches modelID's entries. It fails open: an
// embedding or storage error is logged and reported as a miss.
func Lookup(ctx context.Context, emb embedding.Embedder, s *Store, prompt, modelID string, log zerolog.Logger) (Match, bool) {
	vec, err := emb.Embed(ctx, prompt)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("model", modelID).Msg("cache lookup: embed failed; treating as miss")
		return Match{}, false
	}
	m, ok, err := s.Nearest(ctx, modelID, vec)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("model", modelID).Msg("cache lookup failed; treating as miss")
		return Match{}, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Match{}, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	log.Debug().Int64("id", m.ID).Str("model", modelID).Float64("distance", m.Distance).Msg("cache hit")
	return m, true
}
