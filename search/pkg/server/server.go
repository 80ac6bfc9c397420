package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/search/pkg/search"
)

const maxRequestBytes = 64 << 10

type Server struct {
	log     *slog.Logger
	cfg     Config
	router  *chi.Mux
	httpSrv *http.Server
}

func New(ctx context.Context, log *slog.Logger, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    log,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupRoutes(NewRateLimiter(ctx, cfg.RateLimit, cfg.RateBurst))

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(limiter *RateLimiter) {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})
	s.router.Get("/readyz", s.readyzHandler)
	s.router.Get("/version", s.versionHandler)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Post("/search", s.searchHandler)
		r.Get("/strategies/summary", s.summaryHandler)
	})
}

func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve handles requests on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", listener.Addr().String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.log.Debug("readyz: not ready", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("store not ready\n")); err != nil {
				s.log.Error("failed to write readyz response", "error", err)
			}
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

type SearchRequest struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
	Table         string  `json:"table"`
	Strategy      string  `json:"strategy"`
}

type SearchResult struct {
	ID           string         `json:"id"`
	Strategy     string         `json:"strategy"`
	SourceTable  string         `json:"source_table"`
	Summary      string         `json:"summary"`
	RecordCount  uint64         `json:"record_count"`
	Similarity   float64        `json:"similarity"`
	Distance     float64        `json:"distance"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	EmbeddingLen int            `json:"embedding_dimensions"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	results, err := s.cfg.Searcher.Query(r.Context(), search.Query{
		Text:          req.Query,
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
		SourceTable:   req.Table,
		Strategy:      req.Strategy,
	})
	if err != nil {
		status := http.StatusInternalServerError
		var dm *search.DimensionMismatchError
		switch {
		case errors.Is(err, search.ErrInvalidQuery):
			status = http.StatusBadRequest
		case errors.As(err, &dm):
			status = http.StatusConflict
		default:
			s.log.Error("server: search failed", "error", err)
		}
		s.writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	resp := SearchResponse{Results: make([]SearchResult, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, toSearchResult(res.Record, res.Similarity, res.Distance))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func toSearchResult(rec insight.Record, similarity, distance float64) SearchResult {
	return SearchResult{
		ID:           rec.ID,
		Strategy:     rec.StrategyName,
		SourceTable:  rec.SourceTable,
		Summary:      rec.SummaryText,
		RecordCount:  rec.RecordCount,
		Similarity:   similarity,
		Distance:     distance,
		Metadata:     rec.Metadata,
		CreatedAt:    rec.CreatedAt,
		EmbeddingLen: len(rec.Embedding),
	}
}

type summaryResponse struct {
	Strategies []store.SummaryRow `json:"strategies"`
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.cfg.Summarizer.Summary(r.Context(), store.Filter{
		SourceTable: r.URL.Query().Get("table"),
		Strategy:    r.URL.Query().Get("strategy"),
	})
	if err != nil {
		s.log.Error("server: summary failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if rows == nil {
		rows = []store.SummaryRow{}
	}
	s.writeJSON(w, http.StatusOK, summaryResponse{Strategies: rows})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}
