package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dsstrack/internal/analysis"
	"dsstrack/internal/api"
	"dsstrack/internal/config"
	"dsstrack/internal/dedupe"
	"dsstrack/internal/providers"
	"dsstrack/internal/session"
	"dsstrack/internal/storage"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
)

type warmable interface {
	analysis.Analyzer
	Warmup(ctx context.Context, attempts int, delay time.Duration) error
}

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *storage.DB
	if cfg.PostgresURL != "" {
		dbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		d, err := storage.NewDB(dbCtx, cfg.PostgresURL)
		if err == nil {
			err = d.Migrate(dbCtx)
		}
		cancel()
		if err != nil {
			log.Fatal(err)
		}
		db = d
		defer db.Close()
	}

	analyzer, closeAnalyzer, err := buildAnalyzer(cfg, db)
	if err != nil {
		log.Fatal(err)
	}
	defer closeAnalyzer()

	go func() {
		if err := analyzer.Warmup(ctx, cfg.EmbedWarmupRetries, cfg.EmbedWarmupDelay); err != nil {
			log.Printf("analyze requests will fail until restart: %v", err)
		}
	}()

	opts := session.Options{TTL: cfg.SessionTTL}
	var runs api.RunLister
	if db != nil {
		repo := storage.NewRunRepo(db)
		opts.Recorder = repo
		runs = repo
	}
	store := session.NewStore(analyzer, opts)
	go store.RunSweeper(ctx, time.Minute)

	srv := &http.Server{Addr: cfg.APIAddr, Handler: api.NewServer(cfg, store, analyzer, runs).Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("dsstrack api listening on %s analyzer=%s embed_providers=%q postgres=%t", cfg.APIAddr, cfg.Analyzer, cfg.EmbedProviders, db != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// buildAnalyzer returns the in-process analyzer, or the workflow-backed one
// when DSSTRACK_ANALYZER=temporal.
func buildAnalyzer(cfg config.Config, db *storage.DB) (warmable, func(), error) {
	if cfg.Analyzer == "temporal" {
		c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return nil, nil, err
		}
		t := analysis.NewTemporal(c, analysis.TemporalOptions{
			TaskQueue:       cfg.TemporalTaskQueue,
			DataOut:         cfg.DataOutRoot,
			BatchSize:       cfg.EmbedBatchSize,
			EmbedProviders:  len(providers.ParseProviderList(cfg.EmbedProviders)),
			CooldownSeconds: cfg.ProviderCooldownSecs,
		})
		return t, c.Close, nil
	}

	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, nil, err
	}
	for _, ref := range pm.EmbedProviderRefs() {
		log.Printf("embed provider configured: %s", ref.String())
	}
	opts := analysis.EmbedderOptions{
		BatchSize:   cfg.EmbedBatchSize,
		Concurrency: cfg.EmbedConcurrency,
		Cooldown:    time.Duration(cfg.ProviderCooldownSecs) * time.Second,
	}
	if db != nil {
		opts.Cache = storage.NewEmbeddingCacheRepo(db)
		opts.Audit = storage.NewEmbedAuditRepo(db)
	}
	embedder := analysis.NewEmbedder(pm, opts)
	return analysis.NewLocal(embedder, dedupe.NewGrouper(nil), cfg.EmbedConcurrency), func() {}, nil
}
