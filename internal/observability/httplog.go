package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger is a chi access-log middleware that writes through zerolog.
// It must run after middleware.RequestID to pick up the request id.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&requestLogFormatter{log: log.With().Str("component", "http").Logger()})
}

type requestLogFormatter struct {
	log zerolog.Logger
}

func (f *requestLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	ctx := f.log.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote", r.RemoteAddr)
	if id := middleware.GetReqID(r.Context()); id != "" {
		ctx = ctx.Str("request_id", id)
	}
	return &requestLogEntry{log: ctx.Logger()}
}

type requestLogEntry struct {
	log zerolog.Logger
}

func (e *requestLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	var ev *zerolog.Event
	switch {
	case status >= 500:
		ev = e.log.Error()
	case status >= 400:
		ev = e.log.Warn()
	default:
		ev = e.log.Info()
	}
	ev.Int("status", status).Int("bytes", bytes).Dur("took", elapsed).Msg("request")
}

func (e *requestLogEntry) Panic(v interface{}, stack []byte) {
	e.log.Error().Interface("panic", v).Bytes("stack", stack).Msg("request panicked")
}
