package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"inferd/internal/admission"
	"inferd/internal/apikeys"
	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/embedding"
	"inferd/internal/engine"
	"inferd/internal/gateway"
	"inferd/internal/httpapi"
	"inferd/internal/lifecycle"
	"inferd/internal/logging"
	"inferd/internal/prompt"
	"inferd/internal/semcache"
	"inferd/internal/store"
	"inferd/pkg/types"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			preload, _ := cmd.Flags().GetString("load")
			return serve(cmd.Context(), cfg, preload)
		},
	}
	cmd.Flags().String("addr", config.Default().Addr, "HTTP listen address, e.g. :8000")
	cmd.Flags().String("load", "", "Model to load at startup: id=path[:quant]")
	return cmd
}

// parseLoadFlag parses id=path[:quant]. A trailing :segment counts as the
// quantization only when it contains no path separator.
func parseLoadFlag(s string) (types.LoadModelRequest, error) {
	id, rest, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(rest) == "" {
		return types.LoadModelRequest{}, fmt.Errorf("invalid --load %q: want id=path[:quant]", s)
	}
	req := types.LoadModelRequest{ModelID: strings.TrimSpace(id), ModelPath: rest}
	if i := strings.LastIndex(rest, ":"); i > 0 && !strings.ContainsAny(rest[i+1:], `/\`) {
		req.ModelPath, req.Quantization = rest[:i], rest[i+1:]
	}
	return req, nil
}

func serve(ctx context.Context, cfg config.Config, preload string) error {
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}

	modelsDir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return err
	}
	if modelsDir != "" && !fsutil.PathExists(modelsDir) {
		log.Warn().Str("models_dir", modelsDir).Msg("models directory does not exist; loads must name model_path")
	}

	engCfg := engine.Config{
		Kind:                 cfg.Engine.Kind,
		Bin:                  cfg.Engine.Bin,
		Host:                 cfg.Engine.Host,
		PortStart:            cfg.Engine.PortStart,
		PortEnd:              cfg.Engine.PortEnd,
		CtxSize:              cfg.Engine.CtxSize,
		Threads:              cfg.Engine.Threads,
		GPULayers:            cfg.Engine.GPULayers,
		GPUMemoryUtilization: cfg.Engine.GPUMemoryUtilization,
		MaxModelLen:          cfg.Engine.MaxModelLen,
		StartupTimeout:       cfg.Engine.StartupTimeout.Duration,
		ExtraArgs:            cfg.Engine.ExtraArgs,
		Logger:               log.With().Str("component", "engine").Logger(),
	}
	if rep := engine.Sanity(engCfg); !rep.Available {
		log.Warn().Str("engine", rep.Kind).Str("error", rep.Error).Msg("runtime unavailable; loads will fail")
	} else {
		log.Info().Str("engine", rep.Kind).Str("path", rep.Path).Msg("runtime available")
	}
	rt, err := engine.New(engCfg)
	if err != nil {
		return err
	}

	gate := admission.New(admission.Config{Logger: log.With().Str("component", "admission").Logger()})
	lc := lifecycle.New(lifecycle.Config{
		Runtime:     rt,
		Gate:        gate,
		Formatter:   prompt.Formatter{Logger: log},
		Publisher:   lifecycle.LogPublisher{Logger: log.With().Str("component", "lifecycle").Logger()},
		Logger:      log.With().Str("component", "lifecycle").Logger(),
		Temperature: cfg.Engine.Temperature,
	})

	gwCfg := gateway.Config{
		Lifecycle:    lc,
		Admission:    gate,
		CacheEnabled: cfg.Cache.Enabled,
		ReadEnabled:  cfg.Cache.ReadEnabled,
		ModelsDir:    modelsDir,
		Logger:       log.With().Str("component", "gateway").Logger(),
	}
	if cfg.Cache.Enabled {
		memo := embedding.NewMemo(embedding.NewHTTP(embedding.HTTPConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout.Duration,
		}), cfg.Embedding.MemoTTL.Duration, cfg.Embedding.MemoCapacity)
		defer memo.Close()

		cache, err := semcache.Open(ctx, db, semcache.Config{
			Threshold:  cfg.Cache.Threshold,
			Candidates: cfg.Cache.Candidates,
			Logger:     log.With().Str("component", "semcache").Logger(),
		})
		if err != nil {
			return err
		}
		gwCfg.Embedder = memo
		gwCfg.Cache = cache
		gwCfg.Writer = semcache.NewWriter(semcache.WriterConfig{
			Store:    cache,
			Embedder: memo,
			Logger:   log.With().Str("component", "cache-writer").Logger(),
			Timeout:  cfg.Cache.WriteTimeout.Duration,
		})
	}
	gw := gateway.New(gwCfg)

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	httpapi.SetAuthOptions(cfg.InternalSecret, cfg.RequireAPIKey)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(gw, apikeys.New(db, log.With().Str("component", "apikeys").Logger())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("engine", rt.Name()).Bool("cache", cfg.Cache.Enabled).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if preload != "" {
		g.Go(func() error {
			preloadModel(gctx, gw, preload, log)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := gw.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// preloadModel loads the --load model. Failure leaves the slot empty and the
// server running.
func preloadModel(ctx context.Context, gw *gateway.Service, spec string, log zerolog.Logger) {
	req, err := parseLoadFlag(spec)
	if err != nil {
		log.Error().Err(err).Msg("preload")
		return
	}
	if err := gw.Load(ctx, req); err != nil {
		log.Error().Err(err).Str("model", req.ModelID).Msg("preload failed; slot is empty")
		return
	}
	log.Info().Str("model", req.ModelID).Msg("preloaded")
}
