package jobs

import (
	"context"
	"time"
)

// Sweep removes artifacts and ended handles older than retention. Queued
// and running jobs are never touched.
func (m *Manager) Sweep(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	removed, err := m.runner.Workspace.Sweep(cutoff, m.active)
	if err != nil {
		m.logger.Warn("janitor: sweeping workspace", "error", err)
	}
	forgotten := m.forget(cutoff)
	if removed > 0 || forgotten > 0 {
		m.logger.Info("janitor: cleanup finished", "files", removed, "jobs", forgotten)
	}
}

// StartJanitor sweeps every interval until ctx is done. A non-positive
// retention disables it.
func (m *Manager) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = min(retention, 5*time.Minute)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(retention)
			}
		}
	}()
	m.logger.Info("janitor started", "interval", interval, "retention", retention)
}
