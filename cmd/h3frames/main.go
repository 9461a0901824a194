package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/h3-frames/internal/cellcache"
	"github.com/mohammed-shakir/h3-frames/internal/config"
	"github.com/mohammed-shakir/h3-frames/internal/logger"
	"github.com/mohammed-shakir/h3-frames/internal/metrics"
	"github.com/mohammed-shakir/h3-frames/internal/server"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.EqualFold(os.Getenv("LOG_CONSOLE"), "true"),
		Component: "h3frames",
	}, os.Stdout)

	var prov *metrics.Provider
	if cfg.MetricsEnabled {
		prov = metrics.Init(Version)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store cellcache.Store
	if cfg.CacheEnabled {
		if cfg.RedisAddr != "" {
			rs, err := cellcache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisTimeout, log)
			if err != nil {
				log.Error().Err(err).Str("addr", cfg.RedisAddr).Msg("redis store init failed")
				return 1
			}
			defer func() { _ = rs.Close() }()
			store = rs
		} else {
			store = cellcache.NewLRUStore(cfg.CacheSize)
		}
	}

	log.Info().
		Str("addr", cfg.Addr).
		Str("version", Version).
		Int("res", cfg.Resolution).
		Str("containment", cfg.Containment).
		Bool("cache", store != nil).
		Msg("starting h3frames")

	srv := server.New(cfg, log, prov, store)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		return 1
	}
	return 0
}
