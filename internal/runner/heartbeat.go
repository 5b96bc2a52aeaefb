package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/lock"
)

// HeartbeatRunner refreshes the runner row every interval and renews any
// held task lease in lockstep, so liveness detection and lock expiry stay
// aligned.
type HeartbeatRunner struct {
	registry *Registry
	locks    *lock.Manager
	logger   *slog.Logger
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHeartbeatRunner creates a heartbeat loop for a registered runner.
func NewHeartbeatRunner(registry *Registry, locks *lock.Manager, logger *slog.Logger) *HeartbeatRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatRunner{
		registry: registry,
		locks:    locks,
		logger:   logger,
		interval: HeartbeatInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the heartbeat loop in a goroutine.
func (h *HeartbeatRunner) Start(ctx context.Context) {
	go h.run(ctx)
}

// Stop signals the loop to stop and waits for it to finish.
func (h *HeartbeatRunner) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *HeartbeatRunner) run(ctx context.Context) {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.Beat(ctx)
		}
	}
}

// Beat performs one heartbeat: refresh the runner row, then renew the held
// task lease if any. Failures are logged and skipped; a persistently failing
// heartbeat simply lets the lease and the runner row go stale.
func (h *HeartbeatRunner) Beat(ctx context.Context) {
	if err := h.registry.Heartbeat(); err != nil {
		h.logger.Warn("heartbeat failed", "runner", h.registry.ID(), "error", err)
		return
	}

	if h.locks == nil {
		return
	}
	taskID, err := h.locks.HeldTask(ctx)
	if err != nil {
		h.logger.Warn("held-task lookup failed", "error", err)
		return
	}
	if taskID == "" {
		return
	}
	if _, err := h.locks.Renew(ctx, taskID); err != nil {
		h.logger.Warn("task lease renewal failed", "task", taskID, "error", err)
	}
}
