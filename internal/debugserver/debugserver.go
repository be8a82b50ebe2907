// Package debugserver exposes /metrics, /stats, and /healthz over a chi
// router, for a running moqview-play process to be inspected without
// touching its playback path.
package debugserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zsiec/moqview/internal/metrics"
)

// StatsFunc returns a JSON-serializable snapshot of current playback
// state; the server calls it fresh on every /stats request.
type StatsFunc func() any

// Server is a small HTTP server for debug/operational endpoints,
// independent of the QUIC session it reports on.
type Server struct {
	addr   string
	router chi.Router
	http   *http.Server
}

// New builds a debug server listening on addr, backed by m for /metrics
// and stats for /stats.
func New(addr string, m *metrics.Metrics, stats StatsFunc) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m.Handler().ServeHTTP(w, r)
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	return &Server{addr: addr, router: r, http: &http.Server{Addr: addr, Handler: r}}
}

// Handler returns the server's chi router directly, for tests to drive
// with httptest without binding a real listener.
func (s *Server) Handler() http.Handler { return s.router }

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
