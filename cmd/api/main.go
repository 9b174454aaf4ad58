package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"linguist/api/internal/app"
	"linguist/api/internal/auth"
	"linguist/api/internal/cache"
	"linguist/api/internal/config"
	"linguist/api/internal/content"
	"linguist/api/internal/history"
	"linguist/api/internal/logger"
	"linguist/api/internal/search"
	"linguist/api/internal/store"
	"linguist/api/internal/store/memstore"
	"linguist/api/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, log, telemetry.Config{
		Enabled:     cfg.OtelEnabled,
		ServiceName: "linguist-api",
		Version:     version,
		Exporter:    cfg.OtelExporter,
		Endpoint:    cfg.OtelEndpoint,
		SampleRatio: cfg.OtelSamplerRatio,
	})
	if err != nil {
		log.Fatal("tracing init failed", "error", err)
	}

	var (
		dataStore store.Store
		db        *sql.DB
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("using in-memory store; data is lost on restart")
		dataStore = memstore.New()
	default:
		db, err = store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
		if err != nil {
			log.Fatal("database connection failed", "error", err)
		}
		defer db.Close()

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			log.Fatal("migrations failed", "error", err)
		}
		if len(applied) > 0 {
			log.Info("migrations applied", "versions", applied)
		}
		dataStore = store.NewPostgresStore(db)
	}

	var contentCache content.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, "course_content:", cfg.ContentCacheTTL())
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		defer redisCache.Close()
		contentCache = redisCache
		log.Info("course content cache enabled", "ttl", cfg.ContentCacheTTL())
	}

	var fallback search.Searcher = search.NewCatalog(dataStore.Repos().Courses)
	if db != nil {
		fallback = search.NewPgFTS(db)
	}
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	searchService := search.NewService(meiliClient, fallback, log)
	defer searchService.Close()
	searchService.ReindexAll(ctx, dataStore.Repos())

	var historyService *history.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			log.Fatal("failed to create history dir", "error", err)
		}
		historyService = history.New(cfg.HistoryDir)
	}

	if cfg.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET is empty; every bearer token will be rejected")
	}
	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier([]byte(cfg.JWTSecret))
	}

	service := app.NewService(app.Deps{
		Store:    dataStore,
		Verifier: verifier,
		Cache:    contentCache,
		Search:   searchService,
		History:  historyService,
		Log:      log,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Linguist API listening", "addr", cfg.Addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", "error", err)
	}
}
