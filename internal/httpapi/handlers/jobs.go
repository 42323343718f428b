package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"comfyrelay/internal/httpkit"
	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/errors"
	"comfyrelay/internal/worker/processor"
	"comfyrelay/internal/worker/queue"
	"comfyrelay/internal/worker/util"
)

// RunSync runs the job in the request and answers with its terminal record.
// Job-level failures are a 200 with status FAILED; only unreadable
// envelopes are rejected with 4xx. The job outlives a client disconnect.
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) error {
	job, err := h.decodeJob(w, r, "sync")
	if err != nil {
		return err
	}

	ctx, cancel := h.jobContext(r)
	defer cancel()

	log := h.log.FromContext(ctx).WithJobID(job.ID)
	log.Info("running job synchronously")
	start := time.Now()

	rec, err := h.runner.ProcessJob(ctx, job).Record(job.ID)
	if err != nil {
		return errors.Wrap(err, "handlers.runsync", "failed to encode job output")
	}
	rec.UpdatedAt = time.Now().UTC()

	log.Info("synchronous job finished",
		"status", string(rec.Status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httpkit.WriteJSON(w, http.StatusOK, rec)
	return nil
}

// Run enqueues the job for cmd/worker and answers 202 with its record.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	if h.store == nil {
		return errors.Unavailable("job queue")
	}

	job, err := h.decodeJob(w, r, "job")
	if err != nil {
		return err
	}

	if err := h.store.Push(ctx, job); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "handlers.run", "failed to enqueue job").
			WithField("job_id", job.ID)
	}

	h.log.FromContext(ctx).WithJobID(job.ID).Info("job enqueued")
	httpkit.WriteJSON(w, http.StatusAccepted, models.JobRecord{
		ID:        job.ID,
		Status:    models.JobInQueue,
		UpdatedAt: time.Now().UTC(),
	})
	return nil
}

// Status returns the stored record of an asynchronous job.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) error {
	if h.store == nil {
		return errors.Unavailable("job queue")
	}

	id := chi.URLParam(r, "id")
	rec, err := h.store.GetRecord(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		return errors.New(errors.CodeNotFound, "job not found").WithField("job_id", id)
	}
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "handlers.status", "failed to read job status").
			WithField("job_id", id)
	}

	httpkit.WriteJSON(w, http.StatusOK, rec)
	return nil
}

// decodeJob reads and validates a job envelope, assigning an id with
// prefix when the caller sent none.
func (h *Handler) decodeJob(w http.ResponseWriter, r *http.Request, prefix string) (*models.Job, error) {
	raw, err := httpkit.ReadBody(w, r)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeBadRequest, "handlers.decode", "invalid request body")
	}

	job, err := processor.ParseJob(raw)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = util.NewID(prefix)
	}
	return job, nil
}
