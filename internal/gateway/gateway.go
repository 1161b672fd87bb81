// Package gateway composes the serving path: the semantic cache in front of
// the model lifecycle, with responses written back to the cache
// asynchronously.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/common/fsutil"
	"inferd/internal/embedding"
	"inferd/internal/lifecycle"
	"inferd/internal/metrics"
	"inferd/internal/registry"
	"inferd/internal/semcache"
	"inferd/pkg/types"
)

// DefaultMaxTokens applies when a request leaves max_tokens unset.
const DefaultMaxTokens = 200

// TokenProbe exposes the admission token state for health reporting.
// *admission.Controller satisfies it.
type TokenProbe interface {
	Held() bool
	Acquisitions() uint64
}

// Config wires a Service. Cache, Writer and Embedder may be nil when the
// cache is disabled.
type Config struct {
	Lifecycle *lifecycle.Manager
	Admission TokenProbe
	Embedder  embedding.Embedder
	Cache     *semcache.Store
	Writer    *semcache.Writer
	// CacheEnabled turns on the write path.
	CacheEnabled bool
	// ReadEnabled serves lookups from the cache. Requires CacheEnabled.
	ReadEnabled bool
	// ModelsDir is scanned to resolve load requests that omit model_path.
	ModelsDir string
	Logger    zerolog.Logger
}

// Service is the gateway's request-facing API.
type Service struct {
	lc        *lifecycle.Manager
	gate      TokenProbe
	emb       embedding.Embedder
	cache     *semcache.Store
	writer    *semcache.Writer
	write     bool
	read      bool
	modelsDir string
	log       zerolog.Logger
	started   time.Time
}

func New(cfg Config) *Service {
	write := cfg.CacheEnabled && cfg.Cache != nil && cfg.Writer != nil && cfg.Embedder != nil
	return &Service{
		lc:        cfg.Lifecycle,
		gate:      cfg.Admission,
		emb:       cfg.Embedder,
		cache:     cfg.Cache,
		writer:    cfg.Writer,
		write:     write,
		read:      write && cfg.ReadEnabled,
		modelsDir: cfg.ModelsDir,
		log:       cfg.Logger,
		started:   time.Now(),
	}
}

// GenerateRequest is a validated-on-entry generation request.
type GenerateRequest struct {
	Prompt    string
	MaxTokens int
}

// GenerateResult is a response with its provenance.
type GenerateResult struct {
	Text    string
	ModelID string
	Source  string
	// Distance is set for cache hits.
	Distance float64
}

// Generate answers req from the cache when a close enough prompt was seen
// under the resident model, and from the accelerator otherwise. Accelerator
// responses are queued for caching without delaying the reply.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return GenerateResult{}, ErrInvalidRequest("prompt is required")
	}
	if req.MaxTokens < 0 {
		return GenerateResult{}, ErrInvalidRequest("max_tokens must be positive")
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	model := s.lc.CurrentModel()
	if model == "" {
		metrics.Generations.WithLabelValues(types.SourceAccelerator, "no_model").Inc()
		return GenerateResult{}, lifecycle.ErrNoModelLoaded()
	}

	if s.read {
		if m, ok := semcache.Lookup(ctx, s.emb, s.cache, req.Prompt, model, s.log); ok {
			metrics.Generations.WithLabelValues(types.SourceCache, "ok").Inc()
			return GenerateResult{Text: m.Response, ModelID: m.ModelID, Source: types.SourceCache, Distance: m.Distance}, nil
		}
	}

	gen, err := s.lc.Generate(ctx, req.Prompt, req.MaxTokens)
	if err != nil {
		metrics.Generations.WithLabelValues(types.SourceAccelerator, "error").Inc()
		return GenerateResult{}, err
	}
	metrics.Generations.WithLabelValues(types.SourceAccelerator, "ok").Inc()
	if s.write {
		s.writer.Submit(req.Prompt, gen.Text, gen.ModelID)
	}
	return GenerateResult{Text: gen.Text, ModelID: gen.ModelID, Source: types.SourceAccelerator}, nil
}

// Load makes the requested model resident. A request without model_path is
// resolved against the models directory.
func (s *Service) Load(ctx context.Context, req types.LoadModelRequest) error {
	id := strings.TrimSpace(req.ModelID)
	if id == "" {
		return ErrInvalidRequest("model_id is required")
	}
	path := strings.TrimSpace(req.ModelPath)
	if path == "" {
		if s.modelsDir == "" {
			return ErrInvalidRequest("model_path is required")
		}
		models, err := registry.Scan(s.modelsDir)
		if err != nil {
			return err
		}
		m, ok := registry.Find(models, id)
		if !ok {
			return modelNotFoundError{id: id}
		}
		path = m.Path
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return err
	}
	err = s.lc.Load(ctx, lifecycle.LoadRequest{ModelID: id, Path: path, Quantization: req.Quantization, Family: req.Family})
	if lifecycle.IsInvalidLoad(err) {
		return ErrInvalidRequest(err.Error())
	}
	return err
}

// Unload releases the resident model and returns its id ("" if none).
func (s *Service) Unload(ctx context.Context) (string, error) {
	prev := s.lc.CurrentModel()
	if err := s.lc.Unload(ctx); err != nil {
		return "", err
	}
	return prev, nil
}

// Models lists the models directory. Without one configured it is empty.
func (s *Service) Models() ([]types.Model, error) {
	if s.modelsDir == "" {
		return []types.Model{}, nil
	}
	models, err := registry.Scan(s.modelsDir)
	if err != nil {
		return nil, err
	}
	if models == nil {
		models = []types.Model{}
	}
	return models, nil
}

// Ready reports whether a model is resident.
func (s *Service) Ready() bool { return s.lc.Ready() }

// Health is the lightweight GET /health view. It never waits for the token.
func (s *Service) Health() types.HealthResponse {
	h := types.HealthResponse{Status: "ok", GPULocked: s.gate.Held()}
	if id := s.lc.CurrentModel(); id != "" {
		h.CurrentModel = &id
		h.ModelLoaded = true
	}
	return h
}

// Status builds the detailed GET /status view.
func (s *Service) Status(ctx context.Context) types.StatusResponse {
	snap := s.lc.Snapshot()
	now := time.Now()
	resp := types.StatusResponse{
		State:           string(snap.State),
		Runtime:         snap.Runtime,
		LastError:       snap.LastError,
		GPULocked:       s.gate.Held(),
		AdmissionsTotal: s.gate.Acquisitions(),
		LoadsTotal:      snap.Loads,
		UnloadsTotal:    snap.Unloads,
		UptimeSeconds:   int64(now.Sub(s.started).Seconds()),
		ServerTimeUnix:  now.Unix(),
		Cache: types.CacheStatus{
			Enabled:     s.write,
			ReadEnabled: s.read,
			Models:      []types.CacheModelStatus{},
		},
	}
	if m := snap.CurrentModel; m != nil {
		resp.Model = &types.ModelStatus{
			ID:           m.ID,
			Path:         m.Path,
			Quantization: string(m.Quantization),
			Family:       string(m.Family),
			LoadedAt:     m.LoadedAt.Unix(),
		}
	}
	if s.cache != nil {
		resp.Cache.Threshold = s.cache.Threshold()
		stats, err := s.cache.Stats(ctx)
		if err != nil {
			resp.Cache.Error = err.Error()
		}
		for _, st := range stats {
			resp.Cache.Models = append(resp.Cache.Models, types.CacheModelStatus{ModelID: st.ModelID, Entries: st.Entries})
		}
	}
	return resp
}

// Shutdown drains pending cache writes, then unloads the model and tears the
// runtime down.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	if s.writer != nil {
		if err := s.writer.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.lc.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
