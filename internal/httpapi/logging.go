package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"inferd/internal/logging"
)

// zlog is the HTTP layer's logger. Disabled until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

func logger() *zerolog.Logger { return &zlog }

// requestLogLevel lets a caller raise or lower logging for one request with
// ?log=<level> or the X-Log-Level header. "off" silences the request.
func requestLogLevel(r *http.Request) zerolog.Level {
	v := r.URL.Query().Get("log")
	if v == "" {
		v = r.Header.Get("X-Log-Level")
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return zlog.GetLevel()
	case "1":
		return zerolog.DebugLevel
	default:
		return logging.ParseLevel(v)
	}
}

// requestLogger returns the logger for r, tagged with its request id.
func requestLogger(r *http.Request) zerolog.Logger {
	l := zlog.Level(requestLogLevel(r))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		l = l.With().Str("request_id", rid).Logger()
	}
	return l
}
