package main

import (
	"context"
	"log"
	"os"

	"github.com/dmoralesc/vigia/internal/api"
	"github.com/dmoralesc/vigia/internal/config"
	"github.com/dmoralesc/vigia/internal/model"
	"github.com/dmoralesc/vigia/internal/remote"
	"github.com/dmoralesc/vigia/internal/store"
	"github.com/dmoralesc/vigia/internal/timer"
	"github.com/dmoralesc/vigia/internal/track"
	"github.com/dmoralesc/vigia/internal/watch"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("vigia: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"analyzer_url", cfg.AnalyzerURL,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	feed := watch.NewBroker[model.Snapshot]()
	engine := track.NewEngine(
		db,
		feed,
		timer.NewRegistry(timer.RealClock()),
		remote.NewAnalyzerClient(cfg.AnalyzerURL, cfg.SubmitTimeout),
		remote.NewPublisherClient(cfg.PublisherURL, cfg.SubmitTimeout),
		remote.StaticCredentials{Identity: remote.Identity{UID: cfg.OwnerUID}},
		logger,
		track.Options{
			ScoreThreshold:  cfg.ScoreThreshold,
			UploadTimeout:   cfg.SubmitTimeout,
			AnalysisTimeout: cfg.AnalysisTimeout,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RedisURL != "" {
		source, err := watch.NewRedisSource(cfg.RedisURL, feed, logger)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		go func() {
			if err := source.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("snapshot feed stopped", "error", err)
			}
		}()
	}

	srv := api.NewServer(cfg.ListenAddr, db, engine, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	// Let in-flight trackers reach a terminal state before exiting.
	cancel()
	engine.Wait()
}
