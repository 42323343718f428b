package worker

import (
	"context"

	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/logger"
)

// JobQueue is the intake the worker consumes.
type JobQueue interface {
	Pop(ctx context.Context) ([]byte, error)
	SetRecord(ctx context.Context, rec models.JobRecord) error
}

// JobRunner runs one parsed job to a response.
type JobRunner interface {
	ProcessJob(ctx context.Context, job *models.Job) models.JobResponse
}

type Deps struct {
	Queue  JobQueue
	Runner JobRunner
	Log    *logger.Logger
}
