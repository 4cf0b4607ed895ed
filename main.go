package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/api"
	"taskboard/board"
	"taskboard/storage"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatal(err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	store, err := storage.New(cfg.StorageConnStr, cfg.TasksTable, cfg.EventsQueue, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var rc *redis.Client
	var dedupe api.Deduper
	if cfg.Redis != nil {
		rc = redis.NewClient(cfg.Redis)
		dedupe = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; task cache and drop deduplication disabled")
	}
	remote := storage.NewCache(store, rc, cfg.CacheTTL)

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	workspaces := board.NewWorkspaces(remote, board.Options{
		Reconcile: cfg.Reconcile,
		Logger:    logger,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Decompress())
	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, workspaces, auth, dedupe, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()
	logger.WithField("addr", cfg.ListenAddr).Info("task board listening")

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	// Pending status changes are flushed before the process exits.
	if err := workspaces.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("reconciler shutdown")
	}
	if rc != nil {
		if err := rc.Close(); err != nil {
			logger.WithError(err).Warn("redis close")
		}
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	if cfg.TestMode {
		return api.NewAuth(api.AuthConfig{TestSecret: []byte(cfg.TestSecret)}), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    cfg.Auth0Audience,
		Issuer:      "https://" + cfg.Auth0Domain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}), nil
}
