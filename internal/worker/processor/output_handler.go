package processor

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/errors"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/pkg/poll"
	"comfyrelay/internal/worker/artifacts"
	"comfyrelay/internal/worker/delivery"
)

type OutputHandler struct {
	locator   *artifacts.Locator
	deliverer delivery.Deliverer
	clk       clock.Clock
	settle    time.Duration
}

func NewOutputHandler(locator *artifacts.Locator, d delivery.Deliverer, clk clock.Clock, settle time.Duration) *OutputHandler {
	return &OutputHandler{
		locator:   locator,
		deliverer: d,
		clk:       clk,
		settle:    settle,
	}
}

// Collect waits for writes to settle, locates the newest artifact per kind
// and delivers them. Zero delivered artifacts is a delivery error.
func (oh *OutputHandler) Collect(ctx context.Context, prefix string, log *logger.Logger) ([]models.Artifact, error) {
	const op = "processor.collect"

	if err := poll.Sleep(ctx, oh.clk, oh.settle); err != nil {
		return nil, errors.Wrap(err, op, "interrupted before locating outputs")
	}

	found, err := oh.locator.Locate(prefix)
	if err != nil {
		return nil, errors.Wrap(err, op, "failed to scan output directory")
	}
	for kind, rec := range found {
		log.Debug("artifact located", "kind", kind, "filename", rec.Filename, "bytes", rec.Size)
	}

	out, err := oh.deliverer.Deliver(ctx, found)
	if err != nil {
		return nil, errors.Wrap(err, op, "failed to deliver outputs")
	}

	resp := models.JobResponse{Artifacts: out}
	if resp.Delivered() == 0 {
		return nil, errors.New(errors.CodeDelivery, msgNoOutputs).WithField("mode", oh.deliverer.Name())
	}
	return out, nil
}
