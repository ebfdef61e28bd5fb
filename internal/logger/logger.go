// Package logger configures zerolog and provides HTTP request logging.
package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup configures the root logger. Dev mode switches to the console writer
// and debug level.
func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Requests returns a middleware that logs each HTTP request with method,
// path, status and duration, and attaches the logger to the request context.
func Requests(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()

			ctx := logger.With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger().WithContext(r.Context())

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			event := zerolog.Ctx(ctx).Info()
			if rec.status >= http.StatusInternalServerError {
				event = zerolog.Ctx(ctx).Error()
			}
			event.
				Int("status", rec.status).
				Dur("duration", time.Since(started)).
				Msg("http request")
		})
	}
}
