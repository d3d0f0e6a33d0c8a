package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"newspaper/api/internal/app"
	"newspaper/api/internal/config"
	"newspaper/api/internal/events"
	"newspaper/api/internal/logging"
	"newspaper/api/internal/media"
	"newspaper/api/internal/search"
	"newspaper/api/internal/session"
	"newspaper/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration failed")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.Database.MigrationsDir); err != nil {
		logging.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)

	var (
		searchService *search.Service
		meili         *search.Meili
	)
	if strings.TrimSpace(cfg.Search.MeiliURL) != "" {
		meili = search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliMasterKey)
		searchService = search.NewService(meili, pgfts)
	} else {
		searchService = search.NewService(nil, pgfts)
	}

	bus := events.NewBus()
	defer bus.Close()

	opts := []app.Option{
		app.WithEvents(bus),
		app.WithSearch(searchService),
	}

	if strings.TrimSpace(cfg.Redis.URL) != "" {
		revocations, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			logging.Fatal().Err(err).Msg("redis connection failed")
		}
		defer revocations.Close()
		opts = append(opts, app.WithRevocations(revocations))
		logging.Info().Msg("credential revocation enabled")
	} else {
		logging.Warn().Msg("REDIS_URL not set, logout is disabled")
	}

	if cfg.MediaEnabled() {
		images, err := media.NewImageStore(ctx, media.Options{
			Endpoint:  cfg.Media.Endpoint,
			AccessKey: cfg.Media.AccessKey,
			SecretKey: cfg.Media.SecretKey,
			Bucket:    cfg.Media.Bucket,
			UseSSL:    cfg.Media.UseSSL,
			PublicURL: cfg.Media.PublicURL,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("object storage connection failed")
		}
		opts = append(opts, app.WithImages(images))
	}

	var indexer *events.Indexer
	if meili != nil {
		indexer = events.NewIndexer(bus, searchService)
		if err := indexer.Start(ctx); err != nil {
			logging.Fatal().Err(err).Msg("search indexer failed to start")
		}
		go searchService.Reindex(ctx, pgfts)
	}

	service := app.New(*cfg, dataStore, opts...)
	httpServer := app.NewHTTPServer(service, cfg.Server)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", cfg.Server.Addr).Msg("newspaper API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("shutdown error")
	}
	if indexer != nil {
		_ = bus.Close()
		indexer.Wait()
	}
}
