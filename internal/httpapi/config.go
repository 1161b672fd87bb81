package httpapi

import (
	"context"

	"inferd/internal/apikeys"
)

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size. Zero or
// negative restores the 1 MiB default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// KeyService manages client API keys. *apikeys.Service satisfies it.
type KeyService interface {
	Create(ctx context.Context, name string) (string, apikeys.Key, error)
	List(ctx context.Context) ([]apikeys.Key, error)
	Revoke(ctx context.Context, id string) error
	Verify(ctx context.Context, raw string) (apikeys.Key, error)
}

// Generation access control. With neither set, /generate is open.
var (
	internalSecret string
	requireAPIKey  bool
)

// SetAuthOptions configures who may call /generate: callers presenting the
// shared internal secret, and, when requireKey is set, callers presenting an
// active API key.
func SetAuthOptions(secret string, requireKey bool) {
	internalSecret = secret
	requireAPIKey = requireKey
}
