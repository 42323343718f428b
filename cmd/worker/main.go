package main

import (
	"context"
	"errors"

	"comfyrelay/internal/config"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/pkg/shutdown"
	"comfyrelay/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		AddSource:   cfg.Log.AddSource,
		ServiceName: cfg.ServiceName + "-worker",
	})
	log.Info("starting relay worker", cfg.Summary()...)

	shutdownMgr := shutdown.NewManager(log, cfg.HTTP.ShutdownTimeout)
	ctx := shutdownMgr.Context()

	q, rdb, err := worker.NewQueue(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to connect to Redis", err)
	}
	if q == nil {
		log.LogFatal("REDIS_ADDR is required for the worker", nil)
	}
	shutdownMgr.Register("redis", func(context.Context) error {
		return rdb.Close()
	})

	proc, err := worker.NewProcessor(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to build job processor", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		err := worker.Run(ctx, worker.Deps{Queue: q, Runner: proc, Log: log})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("worker stopped", "error", err.Error())
		}
	}()

	// Registered last so it runs first: the in-flight job stops its child
	// server and stores its record before Redis closes.
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	shutdownMgr.Wait(context.Background())
}
