package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"slugbin/cfg"
	"slugbin/svc/api"
	"slugbin/svc/auth"
	"slugbin/svc/db"
	"slugbin/svc/lim"
	"slugbin/svc/svc"
	"slugbin/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthProbe())
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		util.Warn().Err(err).Msg("failed to read .env file")
	}
	c, err := cfg.Load()
	if err != nil {
		util.InitLog("info", false)
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	util.InitLog(c.LogLevel, c.IsDevelopment())
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.Info().
		Str("environment", c.Environment).
		Str("backend", c.Backend).
		Msg("starting slugbin API")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Str("backend", c.Backend).Msg("failed to initialize record backend")
	}
	defer store.Close()
	util.Info().Str("backend", c.Backend).Msg("record backend initialized")

	hasher, err := auth.NewTokenHasher([]byte(c.TokenPepper.Value()))
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize token hasher")
	}
	if c.TokenPepper.Value() == "" {
		util.Warn().Msg("TOKEN_PEPPER not set, token digests are unkeyed")
	}

	pasteSvc := svc.NewPaste(store, hasher, c)

	limiter, err := lim.New(c.RateLimit, c.TrustedProxies)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize rate limiter")
	}
	util.Info().
		Int("requests", c.RateLimit.Requests).
		Dur("window", c.RateLimit.Window).
		Int("max_keys", c.RateLimit.MaxKeys).
		Float64("global_rps", c.RateLimit.GlobalRPS).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, limiter, store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		util.Info().Str("port", c.Port).Msg("server starting")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error().Err(err).Msg("server shutdown error")
		}
		pasteSvc.Shutdown()
		return nil
	})
	if sqlite, ok := store.(*db.SQLite); ok {
		g.Go(func() error {
			sqlite.RunWALMaintenance(gctx, 0)
			return nil
		})
		util.Info().Msg("WAL maintenance worker started")
	}
	if c.CleanupInterval > 0 {
		g.Go(func() error {
			pasteSvc.RunCleaner(gctx, c.CleanupInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	util.Info().Msg("shutdown complete")
}

// healthProbe asks the local server for /health. It is used as the container
// health check, so it must not depend on which backend is configured.
func healthProbe() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
