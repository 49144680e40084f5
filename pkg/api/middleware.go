package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.Status()).
			WithField("remote", r.RemoteAddr).
			WithField("request_id", chimw.GetReqID(r.Context())).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// recoverer turns handler panics into a 500 response. The panic value is
// only exposed to clients in development.
func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			s.log.WithField("panic", rec).
				WithField("path", r.URL.Path).
				WithField("request_id", chimw.GetReqID(r.Context())).
				WithField("stack", string(debug.Stack())).
				Error("Unhandled error")

			s.writeError(w, http.StatusInternalServerError,
				"Internal server error", fmt.Errorf("%v", rec))
		}()

		next.ServeHTTP(w, r)
	})
}

// limitBody caps request bodies at the configured size.
func (s *server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && s.maxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}

		next.ServeHTTP(w, r)
	})
}
