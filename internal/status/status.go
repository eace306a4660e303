// Package status exposes a small read-only HTTP surface over the running
// engine: liveness, the stats ledger, and the recent reply log.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/engage/internal/store"
)

// Config configures the status server.
type Config struct {
	// Addr to listen on, e.g. ":8090". Empty disables the server.
	Addr string

	Ledger *store.Ledger
	Store  *store.Store

	Logger *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	cfg Config
	srv *http.Server
}

// New creates a Server. Call Run to start it.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/responses", s.handleResponses)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info("status: listening", "addr", s.cfg.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sources := s.cfg.Ledger.Sources()
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].SourceID < sources[j].SourceID
	})

	payload := struct {
		Daily     store.DailyStats    `json:"daily"`
		Sources   []store.SourceStats `json:"sources"`
		DedupSize int                 `json:"dedup_size"`
	}{
		Daily:   s.cfg.Ledger.Daily(),
		Sources: sources,
	}
	if s.cfg.Store != nil {
		if n, err := s.cfg.Store.CountProcessed(r.Context()); err == nil {
			payload.DedupSize = n
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	responses, err := s.cfg.Store.ListResponses(r.Context(), limit)
	if err != nil {
		s.cfg.Logger.Error("status: list responses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}
	if responses == nil {
		responses = []*store.Response{}
	}
	writeJSON(w, http.StatusOK, responses)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
