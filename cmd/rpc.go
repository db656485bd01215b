package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/superfluid-org/super-rpc/cache"
	"github.com/superfluid-org/super-rpc/cmd/handler"
	"github.com/superfluid-org/super-rpc/config"
	"github.com/superfluid-org/super-rpc/core"
)

const shutdownTimeout = 5 * time.Second

// startRpcServer builds the core proxy and serves it over HTTP until ctx is
// cancelled, registering its shutdown with wg.
func startRpcServer(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config) {
	c := core.New(core.Options{
		Cache:        cacheConfig(cfg),
		CacheMaxAge:  cfg.CacheMaxAge(),
		Networks:     cfg.NetworkSpecs(),
		NetworkOrder: cfg.NetworkOrder(),
	})

	mux := handler.NewMux(c)
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}).Handler(mux)

	srv := newHTTPServer(cfg.RPC.Endpoint, corsHandler)

	wg.Add(1)
	go func() {
		defer wg.Done()

		logrus.WithField("endpoint", cfg.RPC.Endpoint).Info("JSON RPC proxy server started")
		if err := srv.Serve(); err != nil {
			logrus.WithError(err).Error("rpc server stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("rpc server shutdown error")
			return
		}
		logrus.WithField("endpoint", cfg.RPC.Endpoint).Info("rpc server stopped gracefully")
	}()
}

// cacheConfig converts a loaded Config's cache block into cache.Config,
// picking a historical TTL fallback when cache.maxAge is unset (0 means
// infinite retention rather than "immediately stale").
func cacheConfig(cfg *config.Config) cache.Config {
	historicalTTL := cfg.CacheMaxAge()
	if historicalTTL <= 0 {
		historicalTTL = cache.Infinite
	}

	latestTickTTL := cfg.CacheMaxAge()
	if latestTickTTL <= 0 {
		latestTickTTL = 10 * time.Second
	}

	return cache.Config{
		MaxSize:          cfg.Cache.MaxSize,
		EnablePersistent: cfg.Cache.EnableDB || cfg.Cache.RedisAddr != "",
		DBFile:           cfg.Cache.DBFile,
		RedisAddr:        cfg.Cache.RedisAddr,
		LatestTickTTL:    latestTickTTL,
		HistoricalTTL:    historicalTTL,
	}
}
