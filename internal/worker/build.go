package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"comfyrelay/internal/config"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/storage"
	"comfyrelay/internal/worker/artifacts"
	"comfyrelay/internal/worker/comfy"
	"comfyrelay/internal/worker/delivery"
	"comfyrelay/internal/worker/processor"
	"comfyrelay/internal/worker/queue"
	"comfyrelay/internal/worker/supervisor"
)

// NewProcessor wires a job processor from configuration. cmd/worker,
// cmd/api and relayctl run share it.
func NewProcessor(ctx context.Context, cfg *config.Config, log *logger.Logger) (*processor.Processor, error) {
	clk := clock.RealClock{}

	client := comfy.NewHTTPClient(cfg.Comfy.BaseURL, cfg.Comfy.HealthTimeout)

	sup := supervisor.New(client, supervisor.ExecLauncher{
		Command:     cfg.Comfy.Command,
		Args:        cfg.Comfy.Args,
		Dir:         cfg.Comfy.Dir,
		Stdout:      os.Stderr,
		Stderr:      os.Stderr,
		StopTimeout: cfg.Comfy.StopTimeout,
	}, supervisor.Options{
		Interval: cfg.Comfy.StartupInterval,
		Attempts: cfg.Comfy.StartupAttempts,
		Clock:    clk,
	}, log)

	deliverer, err := NewDeliverer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return processor.New(processor.Deps{
		Comfy:      client,
		Supervisor: sup,
		Locator:    artifacts.NewLocator(cfg.Output.Dir, cfg.Output.FreshnessWindow, clk),
		Deliverer:  deliverer,
		Poll: processor.PollConfig{
			Interval:      cfg.Comfy.PollInterval,
			Timeout:       cfg.Comfy.PollTimeout,
			SettleDelay:   cfg.Comfy.SettleDelay,
			FailOnTimeout: cfg.Comfy.FailOnPollTimeout,
		},
		Clock: clk,
		Log:   log,
	}), nil
}

// NewDeliverer returns the deliverer selected by DELIVERY_MODE.
func NewDeliverer(ctx context.Context, cfg *config.Config, log *logger.Logger) (delivery.Deliverer, error) {
	if cfg.Delivery.Mode != config.DeliveryStorage {
		return delivery.Inline{}, nil
	}

	provider, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	log.Info("storage delivery enabled", "provider", provider.Provider(), "folder", cfg.Delivery.Folder)

	uploader := storage.NewUploader(provider, clock.RealClock{}, log)
	return delivery.NewStorage(uploader, cfg.Delivery.Folder, log), nil
}

// NewQueue connects to REDIS_ADDR and returns the job queue with its
// client, so callers can close it on shutdown. Both are nil when no
// address is configured.
func NewQueue(ctx context.Context, cfg *config.Config) (*queue.RedisQueue, *redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Redis.Addr, err)
	}
	return queue.NewRedisQueue(rdb, cfg.Redis.QueueName, cfg.Redis.ResultTTL), rdb, nil
}
