package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"docgate/internal/app"
	"docgate/internal/archive"
	"docgate/internal/cache"
	"docgate/internal/config"
	"docgate/internal/crdt"
	"docgate/internal/gateway"
	"docgate/internal/metrics"
	"docgate/internal/normalize"
	"docgate/internal/origin"
	"docgate/internal/render"
	"docgate/internal/search"
	"docgate/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cacheStore, err := cache.NewRedisStore(cfg.RedisURL())
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer cacheStore.Close()
	checks := []app.Check{{Name: "cache", Ping: cacheStore.Ping}}

	engine := crdt.DefaultEngine{}
	converter := normalize.NewConverter(engine)
	if err := converter.Init(); err != nil {
		logger.Fatal("normalizer init failed", zap.Error(err))
	}

	opts := gateway.Options{
		Cache:         cacheStore,
		Normalizer:    converter,
		Engine:        engine,
		OriginTimeout: cfg.OriginTimeout,
		Logger:        logger.Named("gateway"),
		Metrics:       m,
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("files", applied))
		}
		outbox := store.NewPostgresStore(db)
		opts.Outbox = outbox
		checks = append(checks, app.Check{Name: "outbox", Ping: outbox.Ping})
	} else {
		logger.Warn("DATABASE_URL not set, failed cache writes will not be parked")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, logger)
	opts.Indexer = searchService

	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		archiveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		snapshots, err := archive.NewMinioArchive(archiveCtx, archive.Options{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		cancel()
		if err != nil {
			logger.Fatal("archive setup failed", zap.Error(err))
		}
		opts.Archiver = snapshots
	}

	opts.Origin = origin.NewClient(origin.Options{
		BaseURL:           cfg.OriginBaseURL,
		Timeout:           cfg.OriginTimeout,
		RequestsPerSecond: cfg.OriginRPS,
		Burst:             cfg.OriginBurst,
		Logger:            logger.Named("origin"),
		Metrics:           m,
	})

	service := gateway.NewService(opts)
	flusher := gateway.NewFlusher(service, cfg.FlushInterval)
	flushCtx, stopFlusher := context.WithCancel(ctx)
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		flusher.Run(flushCtx)
	}()

	// Stay under the server write timeout.
	printer := render.NewChrome(20 * time.Second)
	httpServer := app.NewHTTPServer(app.New(cfg, service, searchService, logger, checks...).WithPrinter(printer), reg, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("docgate listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	stopFlusher()
	<-flushDone
	if service.HasOutbox() {
		stats, err := flusher.FlushOnce(shutdownCtx)
		if err != nil {
			logger.Warn("final flush failed", zap.Error(err))
		} else {
			logger.Info("final flush", zap.Int("flushed", stats.Flushed), zap.Int("pending", stats.Pending))
		}
	}
	searchService.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = parsed
	return zcfg.Build()
}
