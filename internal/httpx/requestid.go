package httpx

import (
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/mcules/model-registry/internal/logging"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id and echoes it in the response.
// The id and a logger carrying it are put into the request context.
type RequestID struct {
	Log logr.Logger
}

func (m RequestID) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		logger := m.Log.WithValues("httpRequestID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		ctx := logging.NewRequestIDContext(logr.NewContext(r.Context(), logger), id)
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.V(logging.VERBOSE).Info("HTTP request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start).String())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
