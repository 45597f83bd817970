package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/linkpass/server/internal/auth"
	"github.com/linkpass/server/internal/config"
	"github.com/linkpass/server/internal/db"
	httprouter "github.com/linkpass/server/internal/http"
	"github.com/linkpass/server/internal/http/handlers"
	"github.com/linkpass/server/internal/logging"
	"github.com/linkpass/server/internal/notify"
	"github.com/linkpass/server/internal/repo"
	"github.com/linkpass/server/internal/secrets"
	"github.com/linkpass/server/internal/shortlink"
	"github.com/linkpass/server/internal/store"
)

func main() {
	// Load .env from CWD so local runs pick up config (env vars override)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database",
			zap.String("dsn", db.RedactDSN(cfg.DatabaseURL)), zap.Error(err))
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := store.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	userRepo := repo.NewUserRepo(database)
	whitelistRepo := repo.NewWhitelistRepo(database)
	activityRepo := repo.NewActivityRepo(database)

	keys := secrets.NewCache(secrets.EnvVault{Prefix: cfg.SecretPrefix})
	tokenStore := store.NewTokenStore(rdb)
	shortLinks := shortlink.NewService(rdb)
	signer := auth.NewSigner(keys)

	emailDispatcher := notify.NewHTTPEmailDispatcher(cfg.EmailAPIURL, cfg.EmailFrom, keys)
	smsGateway := notify.NewTelnyxGateway(cfg.SMSAPIURL, cfg.SMSFrom, keys)

	authService := auth.NewService(auth.Deps{
		Users:            userRepo,
		Whitelist:        whitelistRepo,
		Activity:         activityRepo,
		Tokens:           tokenStore,
		ShortLinks:       shortLinks,
		Email:            emailDispatcher,
		SMS:              smsGateway,
		Signer:           signer,
		Keys:             keys,
		Logger:           logger,
		PrivilegedDomain: cfg.PrivilegedDomain,
		Links: auth.Links{
			AppScheme:     cfg.AppScheme,
			UniversalBase: cfg.UniversalLinkBase,
			ShortBase:     cfg.ShortLinkBase,
		},
	})

	authHandler := handlers.NewAuthHandler(authService, keys, logger)
	shortLinkHandler := handlers.NewShortLinkHandler(shortLinks, logger)
	healthHandler := handlers.NewHealthHandler(database, rdb)

	router := httprouter.NewRouter(authHandler, shortLinkHandler, healthHandler, signer, userRepo, keys)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repo root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
