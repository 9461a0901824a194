// Package server exposes the table conversions over HTTP: GeoJSON feature
// collections in, cell rows out, and back.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/h3-frames/internal/cellcache"
	"github.com/mohammed-shakir/h3-frames/internal/config"
	"github.com/mohammed-shakir/h3-frames/internal/hexgrid"
	"github.com/mohammed-shakir/h3-frames/internal/logger"
	"github.com/mohammed-shakir/h3-frames/internal/metrics"
)

type Server struct {
	cfg  config.Config
	log  zerolog.Logger
	prov *metrics.Provider

	raster hexgrid.Rasterizer
	cached *cellcache.CachedRasterizer

	mu         sync.Mutex
	lastHits   uint64
	lastMisses uint64
}

// New wires the rasterizer, optionally behind a cache store.
func New(cfg config.Config, log zerolog.Logger, prov *metrics.Provider, store cellcache.Store) *Server {
	s := &Server{cfg: cfg, log: log, prov: prov}
	s.raster = hexgrid.New()
	if store != nil {
		s.cached = cellcache.Wrap(s.raster, store, cfg.CacheTTL)
		s.raster = s.cached
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.log))
	r.Use(requestLog(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.prov != nil {
		r.Get("/metrics", s.prov.Handler().ServeHTTP)
	}
	r.Post("/v1/geometry-to-cells", s.handleGeometryToCells)
	r.Post("/v1/cells-to-geometry", s.handleCellsToGeometry)
	r.Post("/v1/cells/grid-disk", s.handleGridDisk)
	r.Post("/v1/cells/change-resolution", s.handleChangeResolution)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// reportCacheStats publishes the cache counter delta since the last call.
func (s *Server) reportCacheStats() {
	if s.cached == nil || s.prov == nil {
		return
	}
	hits, misses := s.cached.Stats()
	s.mu.Lock()
	dh, dm := hits-s.lastHits, misses-s.lastMisses
	s.lastHits, s.lastMisses = hits, misses
	s.mu.Unlock()
	s.prov.AddCacheHits(dh)
	s.prov.AddCacheMisses(dm)
}

func requestLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = logger.NewID()
				w.Header().Set("X-Request-ID", reqID)
			}
			ctx := logger.WithRequestID(r.Context(), reqID)
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Str("request_id", reqID).Msg("http request")
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}

func recoverer(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().Interface("err", rec).Msg("panic recovered")
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
