package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/gateway"
	"inferd/pkg/types"
)

// Service is the gateway surface the HTTP layer serves.
// *gateway.Service satisfies it.
type Service interface {
	Generate(ctx context.Context, req gateway.GenerateRequest) (gateway.GenerateResult, error)
	Load(ctx context.Context, req types.LoadModelRequest) error
	Unload(ctx context.Context) (string, error)
	Models() ([]types.Model, error)
	Health() types.HealthResponse
	Status(ctx context.Context) types.StatusResponse
	Ready() bool
}

// NewMux builds the router. keys may be nil, in which case the key
// management routes are not mounted and API keys are never required.
func NewMux(svc Service, keys KeyService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   orDefault(corsAllowedOrigins, "http://localhost:3000"),
			AllowedMethods:   orDefault(corsAllowedMethods, "GET", "POST", "DELETE", "OPTIONS"),
			AllowedHeaders:   orDefault(corsAllowedHeaders, "*"),
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// Health is the dashboard's view: it never waits on the admission token.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Health())
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no model loaded"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status(r.Context()))
	})
	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.Models()
		if err != nil {
			l := requestLogger(r)
			l.Error().Err(err).Msg("list models")
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
	})

	r.With(requireCaller(keys), middleware.AllowContentType("application/json")).
		Post("/generate", generateHandler(svc))

	r.Route("/admin", func(ar chi.Router) {
		ar.With(middleware.AllowContentType("application/json")).
			Post("/load-model", loadHandler(svc))
		ar.Post("/unload-model", func(w http.ResponseWriter, r *http.Request) {
			id, err := svc.Unload(r.Context())
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			status := "unloaded"
			if id == "" {
				status = "empty"
			}
			writeJSON(w, http.StatusOK, types.UnloadModelResponse{Status: status, ModelID: id})
		})
		if keys != nil {
			mountKeys(ar, keys)
		}
	})

	r.Handle("/metrics", promhttp.Handler())
	MountSwagger(r)
	return r
}

// decodeBody reads a single JSON object from r into v, bounded by
// maxBodyBytes. It writes the error response itself and reports success.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeJSONError(w, http.StatusBadRequest, "empty request body")
		default:
			writeJSONError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		}
		return false
	}
	return true
}

func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
		defer cancel()

		log := requestLogger(r)
		res, err := svc.Generate(ctx, gateway.GenerateRequest{Prompt: req.Prompt, MaxTokens: req.MaxTokens})
		if err != nil {
			status := statusFor(err)
			ev := log.Warn()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Err(err).Int("status", status).Msg("generate failed")
			writeJSONError(w, status, err.Error())
			return
		}
		log.Info().Str("model", res.ModelID).Str("source", res.Source).Msg("generate")
		resp := types.GenerateResponse{Response: res.Text, ModelUsed: res.ModelID, Source: res.Source}
		if res.Source == types.SourceCache {
			d := res.Distance
			resp.Distance = &d
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func loadHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadModelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
		defer cancel()

		log := requestLogger(r)
		if err := svc.Load(ctx, req); err != nil {
			log.Error().Err(err).Str("model", req.ModelID).Msg("load model")
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.LoadModelResponse{Status: "success", Message: "Loaded " + req.ModelID})
	}
}

func mountKeys(r chi.Router, keys KeyService) {
	r.With(middleware.AllowContentType("application/json")).
		Post("/keys", func(w http.ResponseWriter, r *http.Request) {
			var req types.CreateKeyRequest
			if !decodeBody(w, r, &req) {
				return
			}
			name := strings.TrimSpace(req.Name)
			if name == "" {
				writeJSONError(w, http.StatusBadRequest, "name is required")
				return
			}
			raw, k, err := keys.Create(r.Context(), name)
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, types.CreateKeyResponse{
				ID:      k.ID,
				Name:    k.Name,
				APIKey:  raw,
				Message: "Save this key. It will not be shown again.",
			})
		})
	r.Get("/keys", func(w http.ResponseWriter, r *http.Request) {
		list, err := keys.List(r.Context())
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		out := make([]types.APIKeyResponse, 0, len(list))
		for _, k := range list {
			kr := types.APIKeyResponse{
				ID:      k.ID,
				Name:    k.Name,
				Prefix:  k.Prefix,
				Created: k.CreatedAt.UTC().Format(time.RFC3339),
			}
			if k.LastUsedAt != nil {
				kr.LastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
			}
			out = append(out, kr)
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Delete("/keys/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := keys.Revoke(r.Context(), id); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.RevokeKeyResponse{Status: "revoked", ID: id})
	})
}

func orDefault(v []string, def ...string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
