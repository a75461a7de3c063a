package main

import (
	"context"
	"log"
	"time"

	"dsstrack/internal/activities"
	"dsstrack/internal/config"
	"dsstrack/internal/storage"
	"dsstrack/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)

	var db *storage.DB
	if cfg.PostgresURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err = storage.NewDB(ctx, cfg.PostgresURL)
		if err == nil {
			err = db.Migrate(ctx)
		}
		cancel()
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
	}
	a, err := activities.New(cfg, db)
	if err != nil {
		log.Fatal(err)
	}
	activities.Register(w, a)

	log.Printf("dsstrack worker listening on %s queue=%s embed_providers=%q", cfg.TemporalAddress, cfg.TemporalTaskQueue, cfg.EmbedProviders)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal(err)
	}
}
