package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"notes/api/internal/app"
	"notes/api/internal/assets"
	"notes/api/internal/config"
	"notes/api/internal/export"
	"notes/api/internal/feed"
	"notes/api/internal/search"
	"notes/api/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	dataStore := store.NewPostgresStore(db)

	assetStore, err := assets.New(ctx, assets.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
		PublicURL: cfg.S3PublicURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("object storage unavailable")
	}

	var changes interface {
		app.ChangeFeed
		Close() error
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisFeed, err := feed.NewRedisFeed(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, page list updates stay on this instance")
		} else {
			log.Info().Msg("using redis for page change feed")
			changes = redisFeed
		}
	}
	if changes == nil {
		changes = feed.NewLocalFeed()
	}
	defer changes.Close()

	var backend search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		backend = meiliClient
	}
	searchService := search.NewService(backend, search.NewPgFTS(db))
	go searchService.ReindexAllFromPG(ctx)

	var printer export.Printer
	if cfg.PrintEnabled {
		printer = export.NewChromePrinter(time.Minute)
	}

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Assets:   assetStore,
		Resolver: assetStore.Resolver(),
		Feed:     changes,
		Search:   searchService,
		Exporter: export.NewService(printer),
	})
	go service.Run(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Notes API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("editor sessions closed with unsaved changes")
	}
}

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
