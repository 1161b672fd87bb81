// Package semcache is the semantic response cache: prompts are embedded,
// stored with the generated response under the model that produced them, and
// a later prompt whose embedding is close enough (cosine distance strictly
// below the threshold) under the same model is answered from the cache.
//
// Rows live in sqlite; each model additionally gets an in-memory HNSW graph
// for candidate search. Candidates are re-ranked by exact cosine distance, and
// a search the graph answers with no hit falls back to an exact scan of the
// model's vectors.
package semcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/rs/zerolog"
)

const (
	// DefaultThreshold is the cosine distance below which a cached response
	// is reused.
	DefaultThreshold = 0.2
	// DefaultCandidates is how many HNSW neighbours are re-ranked exactly.
	DefaultCandidates = 8
)

// Config configures a Store.
type Config struct {
	Threshold  float64
	Candidates int
	Logger     zerolog.Logger
	// Clock stamps created_at; defaults to time.Now.
	Clock func() time.Time
}

// Entry is one cached prompt/response pair.
type Entry struct {
	ID        int64
	Prompt    string
	Response  string
	ModelID   string
	Vector    []float32
	CreatedAt time.Time
}

// Match is a cache hit.
type Match struct {
	ID       int64
	Prompt   string
	Response string
	ModelID  string
	Distance float64
}

// ModelStats counts stored entries for one model.
type ModelStats struct {
	ModelID string `json:"model_id"`
	Entries int    `json:"entries"`
}

type modelIndex struct {
	dims  int
	graph *hnsw.Graph[int64]
	vecs  map[int64][]float32
}

func newModelIndex(dims int) *modelIndex {
	g := hnsw.NewGraph[int64]()
	g.Distance = hnsw.CosineDistance
	return &modelIndex{dims: dims, graph: g, vecs: make(map[int64][]float32)}
}

func (mi *modelIndex) add(id int64, v []float32) {
	mi.vecs[id] = v
	mi.graph.Add(hnsw.MakeNode(id, v))
}

// Store is safe for concurrent use. The HNSW graphs are not, so mu guards them.
type Store struct {
	db         *sql.DB
	threshold  float64
	candidates int
	log        zerolog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	models map[string]*modelIndex
}

// Open builds a Store over db (already migrated by store.Open) and loads the
// existing rows into per-model indexes.
func Open(ctx context.Context, db *sql.DB, cfg Config) (*Store, error) {
	s := &Store{
		db:         db,
		threshold:  cfg.Threshold,
		candidates: cfg.Candidates,
		log:        cfg.Logger,
		now:        cfg.Clock,
		models:     make(map[string]*modelIndex),
	}
	if s.threshold <= 0 {
		s.threshold = DefaultThreshold
	}
	if s.candidates <= 0 {
		s.candidates = DefaultCandidates
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, model_tag, dims, prompt_vector FROM semantic_cache ORDER BY id;`)
	if err != nil {
		return fmt.Errorf("semcache: load entries: %w", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var (
			id    int64
			model string
			dims  int
			blob  []byte
		)
		if err := rows.Scan(&id, &model, &dims, &blob); err != nil {
			return fmt.Errorf("semcache: scan entry: %w", err)
		}
		vec, err := decodeVector(blob, dims)
		if err != nil {
			s.log.Warn().Err(err).Int64("id", id).Msg("skipping corrupt cache entry")
			continue
		}
		mi := s.models[model]
		if mi == nil {
			mi = newModelIndex(dims)
			s.models[model] = mi
		}
		if mi.dims != dims {
			s.log.Warn().Int64("id", id).Str("model", model).Int("dims", dims).Int("want", mi.dims).Msg("skipping cache entry with mismatched dimensions")
			continue
		}
		mi.add(id, vec)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("semcache: load entries: %w", err)
	}
	s.log.Info().Int("entries", n).Int("models", len(s.models)).Msg("semantic cache loaded")
	return nil
}

// Threshold returns the configured hit threshold.
func (s *Store) Threshold() float64 { return s.threshold }

func (s *Store) checkDims(modelID string, dims int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mi := s.models[modelID]; mi != nil && mi.dims != dims {
		return fmt.Errorf("semcache: vector has %d dimensions, model %s uses %d", dims, modelID, mi.dims)
	}
	return nil
}

// Insert stores e in its own transaction and indexes it. e.ID and
// e.CreatedAt are assigned by the store.
func (s *Store) Insert(ctx context.Context, e Entry) (int64, error) {
	if strings.TrimSpace(e.ModelID) == "" {
		return 0, errors.New("semcache: entry has no model")
	}
	if len(e.Vector) == 0 {
		return 0, errors.New("semcache: entry has no vector")
	}
	if err := s.checkDims(e.ModelID, len(e.Vector)); err != nil {
		return 0, err
	}
	vec := append([]float32(nil), e.Vector...)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO semantic_cache(prompt_text, response_text, model_tag, dims, prompt_vector, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, e.Prompt, e.Response, e.ModelID, len(vec), encodeVector(vec), s.now().UTC())
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("semcache: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("semcache: commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mi := s.models[e.ModelID]
	if mi == nil {
		mi = newModelIndex(len(vec))
		s.models[e.ModelID] = mi
	}
	if mi.dims != len(vec) {
		// A concurrent insert fixed a different dimension first; the row stays
		// on disk but is never served.
		s.log.Warn().Int64("id", id).Str("model", e.ModelID).Msg("cache entry not indexed: dimension changed concurrently")
		return id, nil
	}
	mi.add(id, vec)
	return id, nil
}

type candidate struct {
	id   int64
	dist float64
}

// Nearest returns the closest entry for modelID whose cosine distance to vec
// is strictly below the threshold. Entries of other models are never
// considered. A vector whose dimension differs from the model's is a miss.
func (s *Store) Nearest(ctx context.Context, modelID string, vec []float32) (Match, bool, error) {
	best, ok := s.nearestID(modelID, vec)
	if !ok {
		return Match{}, false, nil
	}
	m := Match{ID: best.id, Distance: best.dist}
	err := s.db.QueryRowContext(ctx, `SELECT prompt_text, response_text, model_tag FROM semantic_cache WHERE id=?;`, best.id).
		Scan(&m.Prompt, &m.Response, &m.ModelID)
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, fmt.Errorf("semcache: fetch entry: %w", err)
	}
	return m, true, nil
}

func (s *Store) nearestID(modelID string, vec []float32) (candidate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mi := s.models[modelID]
	if mi == nil || len(vec) != mi.dims || len(mi.vecs) == 0 {
		return candidate{}, false
	}

	if len(mi.vecs) > s.candidates {
		ids := make([]int64, 0, s.candidates)
		for _, n := range mi.graph.Search(vec, s.candidates) {
			ids = append(ids, n.Key)
		}
		if best, ok := s.closest(vec, mi, ids); ok {
			return best, true
		}
	}
	// The graph can miss qualifying entries; a graph miss is confirmed by an
	// exact scan.
	ids := make([]int64, 0, len(mi.vecs))
	for id := range mi.vecs {
		ids = append(ids, id)
	}
	return s.closest(vec, mi, ids)
}

// closest re-ranks ids by exact cosine distance and returns the best one if it
// is strictly under the threshold.
func (s *Store) closest(vec []float32, mi *modelIndex, ids []int64) (candidate, bool) {
	var best candidate
	found := false
	for _, id := range ids {
		v, ok := mi.vecs[id]
		if !ok {
			continue
		}
		c := candidate{id: id, dist: CosineDistance(vec, v)}
		// Ties go to the older entry.
		if !found || c.dist < best.dist || (c.dist == best.dist && c.id < best.id) {
			best, found = c, true
		}
	}
	if !found || !(best.dist < s.threshold) {
		return candidate{}, false
	}
	return best, true
}

// Len returns the number of indexed entries for modelID.
func (s *Store) Len(modelID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mi := s.models[modelID]; mi != nil {
		return len(mi.vecs)
	}
	return 0
}

// Stats counts stored entries per model, read from the database.
func (s *Store) Stats(ctx context.Context) ([]ModelStats, error) {
	return CountByModel(ctx, s.db)
}

// CountByModel counts stored entries per model without building indexes.
func CountByModel(ctx context.Context, db *sql.DB) ([]ModelStats, error) {
	rows, err := db.QueryContext(ctx, `SELECT model_tag, COUNT(*) FROM semantic_cache GROUP BY model_tag ORDER BY model_tag;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ModelStats
	for rows.Next() {
		var st ModelStats
		if err := rows.Scan(&st.ModelID, &st.Entries); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
