package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"inferd/internal/apikeys"
)

const (
	headerSecret = "X-Internal-Secret"
	headerAPIKey = "X-API-Key"
)

// requireCaller guards a route with the configured credentials. A request
// passes when it carries the internal secret or, with API keys required, an
// active key. With neither configured every request passes.
func requireCaller(keys KeyService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret, needKey := internalSecret, requireAPIKey && keys != nil
			if secret == "" && !needKey {
				next.ServeHTTP(w, r)
				return
			}
			log := requestLogger(r)
			if secret != "" && secretMatches(r.Header.Get(headerSecret), secret) {
				next.ServeHTTP(w, r)
				return
			}
			if !needKey {
				log.Warn().Str("remote", r.RemoteAddr).Msg("rejected request without internal secret")
				writeJSONError(w, http.StatusForbidden, "unauthorized accelerator access: missing secret")
				return
			}
			raw := strings.TrimSpace(r.Header.Get(headerAPIKey))
			if raw == "" {
				writeJSONError(w, http.StatusForbidden, "missing "+headerAPIKey+" header")
				return
			}
			k, err := keys.Verify(r.Context(), raw)
			if err != nil {
				if !apikeys.IsUnauthorized(err) {
					log.Error().Err(err).Msg("verify api key")
				}
				writeJSONError(w, statusFor(err), "invalid api key")
				return
			}
			log.Debug().Str("key_id", k.ID).Msg("api key accepted")
			next.ServeHTTP(w, r)
		})
	}
}

func secretMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
