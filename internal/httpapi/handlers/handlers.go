package handlers

import (
	"context"
	"net/http"

	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/logger"
)

// JobRunner runs one job synchronously.
type JobRunner interface {
	ProcessJob(ctx context.Context, job *models.Job) models.JobResponse
}

// JobStore is the queue behind /run and /status.
type JobStore interface {
	Push(ctx context.Context, job *models.Job) error
	GetRecord(ctx context.Context, id string) (*models.JobRecord, error)
	Ping(ctx context.Context) error
}

// Pinger reports whether the execution server answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Runner JobRunner
	// Store is nil when no Redis is configured; /run and /status then
	// answer 503.
	Store   JobStore
	Comfy   Pinger
	Service string
	// JobContext ends synchronous jobs. It is the process root context;
	// a client disconnect does not cancel a running job.
	JobContext context.Context
	Log        *logger.Logger
}

type Handler struct {
	runner  JobRunner
	store   JobStore
	comfy   Pinger
	service string
	root    context.Context
	log     *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	service := d.Service
	if service == "" {
		service = "comfyrelay"
	}
	root := d.JobContext
	if root == nil {
		root = context.Background()
	}
	return &Handler{
		runner:  d.Runner,
		store:   d.Store,
		comfy:   d.Comfy,
		service: service,
		root:    root,
		log:     log.WithComponent("httpapi"),
	}
}

// jobContext keeps the request's values but ends only with the root context.
func (h *Handler) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(h.root, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
