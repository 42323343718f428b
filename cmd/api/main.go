package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"comfyrelay/internal/config"
	"comfyrelay/internal/httpapi"
	"comfyrelay/internal/httpapi/handlers"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/pkg/shutdown"
	"comfyrelay/internal/worker"
	"comfyrelay/internal/worker/comfy"
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
		ServiceName: cfg.ServiceName + "-api",
	})
	log.Info("starting relay API", cfg.Summary()...)

	shutdownMgr := shutdown.NewManager(log, cfg.HTTP.ShutdownTimeout)
	ctx := shutdownMgr.Context()

	proc, err := worker.NewProcessor(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to build job processor", err)
	}

	hdeps := handlers.Deps{
		Runner:     proc,
		Comfy:      comfy.NewHTTPClient(cfg.Comfy.BaseURL, cfg.Comfy.HealthTimeout),
		Service:    cfg.ServiceName,
		JobContext: ctx,
		Log:        log,
	}

	q, rdb, err := worker.NewQueue(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to connect to Redis", err)
	}
	if q != nil {
		hdeps.Store = q
		shutdownMgr.Register("redis", func(context.Context) error {
			return rdb.Close()
		})
		log.Info("Redis connected", "queue", cfg.Redis.QueueName)
	} else {
		log.Warn("REDIS_ADDR not set, /run and /status are disabled")
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:       hdeps,
		AllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Log:            log,
	})

	// No WriteTimeout: /runsync lasts as long as the job.
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait(context.Background())
}
