package worker

import (
	"context"
	"encoding/json"
	"time"

	"k8s.io/utils/clock"

	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/errors"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/pkg/poll"
	"comfyrelay/internal/worker/processor"
)

// Run consumes the queue until ctx is cancelled, one job at a time.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		default:
		}

		// Use a separate context with timeout for queue operations
		popCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		payload, err := d.Queue.Pop(popCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}

			log.Warn("queue pop error, retrying",
				"error", err.Error(),
			)
			if err := poll.Sleep(ctx, clock.RealClock{}, time.Second); err != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			continue
		}

		if len(payload) == 0 {
			continue
		}

		handleEnvelope(ctx, d, log, payload)
	}
}

func handleEnvelope(ctx context.Context, d Deps, log *logger.Logger, payload []byte) {
	var head struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(payload, &head)
	jobLog := log.WithJobID(head.ID)

	job, err := processor.ParseJob(payload)
	if err != nil {
		jobLog.Warn("rejected job envelope", "error", err.Error())
		finish(ctx, d, jobLog, head.ID, models.Failure(errors.PublicMessage(err)))
		return
	}

	if job.ID != "" {
		if err := d.Queue.SetRecord(ctx, models.JobRecord{ID: job.ID, Status: models.JobInProgress}); err != nil {
			jobLog.Warn("failed to record job start", "error", err.Error())
		}
	}

	jobLog.Info("processing job")
	startTime := time.Now()

	resp := d.Runner.ProcessJob(ctx, job)

	if resp.OK() {
		jobLog.Info("job completed",
			"duration_ms", time.Since(startTime).Milliseconds(),
			"delivered", resp.Delivered(),
		)
	} else {
		jobLog.Error("job failed",
			"error", resp.Error,
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
	}
	finish(ctx, d, jobLog, job.ID, resp)
}

func finish(ctx context.Context, d Deps, log *logger.Logger, id string, resp models.JobResponse) {
	if id == "" {
		return
	}
	rec, err := resp.Record(id)
	if err != nil {
		log.Error("failed to encode job output", "error", err.Error())
		return
	}

	// Stored even when shutdown already cancelled ctx.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.Queue.SetRecord(recCtx, rec); err != nil {
		log.Error("failed to store job record", "error", err.Error())
	}
}
