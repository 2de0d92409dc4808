package httphandler

import (
	"log/slog"
	"net/http"
	"time"
)

// responseMeta wraps http.ResponseWriter to record what the API handler
// produced: the status code and how many body bytes went out. Generate
// responses carry the full token list, so the size is worth having in the
// access log.
type responseMeta struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rm *responseMeta) WriteHeader(status int) {
	rm.status = status
	rm.ResponseWriter.WriteHeader(status)
}

func (rm *responseMeta) Write(p []byte) (int, error) {
	n, err := rm.ResponseWriter.Write(p)
	rm.bytes += n
	return n, err
}

// loggingMiddleware emits one access-log line per API call. Batch
// generation can take tens of seconds when the issuer is retrying, so the
// duration field is the first place to look when the front end reports
// slowness.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rm := &responseMeta{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rm, r)

		logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rm.status,
			"bytes", rm.bytes,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

// recoveryMiddleware converts a handler panic into a 500 so one bad request
// cannot take the pipeline process down with the scheduler in it.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("panic recovered",
					"panic", v,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
