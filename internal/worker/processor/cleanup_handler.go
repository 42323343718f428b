package processor

import (
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/worker/artifacts"
	"comfyrelay/internal/worker/supervisor"
)

// Cleanup holds the best-effort steps around a job. Neither step returns
// an error.
type Cleanup struct {
	locator *artifacts.Locator
	log     *logger.Logger
}

func NewCleanup(locator *artifacts.Locator, log *logger.Logger) *Cleanup {
	return &Cleanup{locator: locator, log: log}
}

// ClearStale removes artifacts left by earlier jobs.
func (c *Cleanup) ClearStale(log *logger.Logger) {
	removed := c.locator.Clear()
	log.Debug("stale artifacts cleared", "dir", c.locator.Dir(), "removed", removed)
}

// StopServer terminates a server started for this job. A nil handle means
// the server was already running and is left alone.
func (c *Cleanup) StopServer(h *supervisor.Handle) {
	if h == nil {
		return
	}
	// Stop logs its own failure.
	_ = h.Stop()
}
