package processor

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	contracts "comfyrelay/internal/contracts/comfy"
	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/errors"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/pkg/poll"
	"comfyrelay/internal/worker/artifacts"
	"comfyrelay/internal/worker/comfy"
	"comfyrelay/internal/worker/delivery"
	"comfyrelay/internal/worker/supervisor"
)

// ServerSupervisor makes the execution server reachable for one job.
type ServerSupervisor interface {
	Ensure(ctx context.Context) (*supervisor.Handle, error)
}

type Deps struct {
	Comfy      comfy.Client
	Supervisor ServerSupervisor
	Locator    *artifacts.Locator
	Deliverer  delivery.Deliverer
	Poll       PollConfig
	Clock      clock.Clock
	Log        *logger.Logger
}

// Processor runs jobs one at a time against a single output directory.
type Processor struct {
	comfy      comfy.Client
	supervisor ServerSupervisor
	poll       PollConfig
	clk        clock.Clock
	log        *logger.Logger

	// mu serializes jobs: the output directory is shared.
	mu sync.Mutex

	cleanup       *Cleanup
	outputHandler *OutputHandler
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	clk := d.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	pc := d.Poll
	if pc.Interval <= 0 {
		pc.Interval = 2 * time.Second
	}
	if pc.Timeout <= 0 {
		pc.Timeout = 300 * time.Second
	}

	return &Processor{
		comfy:         d.Comfy,
		supervisor:    d.Supervisor,
		poll:          pc,
		clk:           clk,
		log:           log,
		cleanup:       NewCleanup(d.Locator, log),
		outputHandler: NewOutputHandler(d.Locator, d.Deliverer, clk, pc.SettleDelay),
	}
}

// ProcessJob runs the whole lifecycle of one job and always returns a
// single structured response. A server started for the job is stopped on
// every exit path, panics included.
func (p *Processor) ProcessJob(ctx context.Context, job *models.Job) (resp models.JobResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()

	jobID := ""
	if job != nil {
		jobID = job.ID
	}
	ctx = logger.ContextWithJobID(ctx, jobID)
	log := p.log.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			resp = p.failJob(log, errors.Newf(errors.CodeInternal, "%v", r).WithField("panic", true))
		}
	}()

	// 1. Validate
	if err := ValidateJob(job); err != nil {
		return p.failJob(log, err)
	}
	prefix := SanitizePrefix(job.Input.FilenamePrefix)

	// 2. Clear artifacts of earlier jobs
	p.cleanup.ClearStale(log)

	// 3. Ensure the execution server
	handle, err := p.supervisor.Ensure(ctx)
	defer p.cleanup.StopServer(handle)
	if err != nil {
		return p.failJob(log, err)
	}

	// 4. Submit
	workflow, applied := ApplyFilenamePrefix(job.Input.Workflow, prefix)
	switch {
	case applied > 0:
		log.Debug("filename prefix applied", "prefix", prefix, "nodes", applied)
	case prefix != "":
		// No node writes with the prefix, so it cannot select outputs.
		log.Warn("no node takes filename_prefix, locating outputs without it", "prefix", prefix)
		prefix = ""
	}
	promptID, err := p.submit(ctx, workflow)
	if err != nil {
		return p.failJob(log, err)
	}
	ctx = logger.ContextWithPromptID(ctx, promptID)
	log = log.WithPromptID(promptID)
	log.Info("prompt queued")

	// 5. Poll history
	outcome, err := p.waitForCompletion(ctx, promptID)
	if err != nil {
		return p.failJob(log, err)
	}
	switch outcome {
	case OutcomeErrored:
		return p.failJob(log, errors.New(errors.CodeExecution, msgExecutionError))
	case OutcomeTimedOut:
		if p.poll.FailOnTimeout {
			return p.failJob(log, errors.Newf(errors.CodeTimeout, "Workflow did not complete within %s", p.poll.Timeout))
		}
		log.Warn("prompt did not complete before the poll ceiling, locating outputs anyway", "timeout", p.poll.Timeout)
	default:
		log.Info("prompt completed")
	}

	// 6. Locate and deliver
	out, err := p.outputHandler.Collect(ctx, prefix, log)
	if err != nil {
		return p.failJob(log, err)
	}

	resp = models.JobResponse{Artifacts: out}
	log.Info("job completed", "delivered", resp.Delivered(), "outcome", string(outcome))
	return resp
}

func (p *Processor) submit(ctx context.Context, workflow map[string]any) (string, error) {
	const op = "processor.submit"

	promptID, err := p.comfy.QueuePrompt(ctx, workflow)
	if err == nil {
		return promptID, nil
	}

	var se *comfy.StatusError
	if errors.As(err, &se) {
		return "", errors.Newf(errors.CodeSubmission, "%s: %s", msgQueueFailed, se.Body).
			WithField("status", se.StatusCode)
	}
	return "", errors.WrapWithCode(err, errors.CodeSubmission, op, msgQueueFailed)
}

// waitForCompletion polls the history of promptID. Completion wins over an
// error status reported in the same entry.
func (p *Processor) waitForCompletion(ctx context.Context, promptID string) (Outcome, error) {
	outcome := OutcomePending

	err := poll.Until(ctx, poll.Options{
		Interval: p.poll.Interval,
		Timeout:  p.poll.Timeout,
		Clock:    p.clk,
	}, func(ctx context.Context) (bool, error) {
		entry, ok, err := p.comfy.History(ctx, promptID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if entry.Status.Completed {
			outcome = OutcomeCompleted
			return true, nil
		}
		if entry.Status.StatusStr == contracts.StatusError {
			outcome = OutcomeErrored
			return true, nil
		}
		return false, nil
	})

	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, poll.ErrTimeout):
		return OutcomeTimedOut, nil
	default:
		return outcome, errors.WrapWithCode(err, errors.CodeUnavailable, "processor.poll", "failed to poll prompt history")
	}
}

func (p *Processor) failJob(log *logger.Logger, cause error) models.JobResponse {
	msg := errors.PublicMessage(cause)

	var relayErr *errors.Error
	if errors.As(cause, &relayErr) {
		log.Error("job failed",
			"code", string(relayErr.Code),
			"op", relayErr.Op,
			"message", truncate(msg, 2000),
		)
	} else {
		log.Error("job failed", "error", truncate(msg, 2000))
	}

	return models.Failure(msg)
}
