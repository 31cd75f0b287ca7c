package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tavernhq/tavernmsg/internal/obs"
	"github.com/tavernhq/tavernmsg/internal/server/config"
	"github.com/tavernhq/tavernmsg/internal/server/handlers"
	"github.com/tavernhq/tavernmsg/internal/server/ratelimit"
	"github.com/tavernhq/tavernmsg/internal/server/storage"
	"github.com/tavernhq/tavernmsg/internal/server/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	store, err := storage.New(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.EnsureSchema(); err != nil {
		logger.Error("schema init failed", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(cfg.IdleAfter, logger)
	go hub.Run(ctx)

	limiter := ratelimit.New(cfg.MaxConnsIP, cfg.AuthPerMin)
	defer limiter.Stop()

	api := &handlers.API{
		Store:          store,
		Hub:            hub,
		Limiter:        limiter,
		Log:            logger,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		SnapshotSize:   cfg.SnapshotSize,
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("tavernmsg server starting", "addr", cfg.Addr, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
