/*
scheduler.go - Automated compliance scan scheduler

PURPOSE:
  Periodically runs the compliance detector so late events and withdrawal
  breaches are flagged without anyone calling POST /api/compliance/scan.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field expression)
  - Each run opens its own context with a timeout
  - The detector is idempotent, so overlapping or repeated runs are harmless

CONFIGURATION:
  - Spec:     Cron expression (default: "0 * * * *", hourly)
  - Location: Time zone the expression is read in (default: UTC)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewComplianceScheduler(engine, "0 * * * *", time.UTC, logger)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ScanCompliance endpoint (manual scan)
  - dicose/compliance.go: ComplianceDetector
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/contralor/dicose"
	"go.uber.org/zap"
)

const DefaultComplianceSpec = "0 * * * *"

// ComplianceScheduler runs compliance scans on a cron schedule.
type ComplianceScheduler struct {
	Engine  *dicose.Engine
	Spec    string
	Enabled bool
	Timeout time.Duration

	cron    *cron.Cron
	entryID cron.EntryID
	logger  *zap.Logger
	mu      sync.Mutex
	running bool
}

// NewComplianceScheduler creates a new scheduler. An empty spec means hourly;
// a nil location means UTC.
func NewComplianceScheduler(engine *dicose.Engine, spec string, loc *time.Location, logger *zap.Logger) *ComplianceScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultComplianceSpec
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ComplianceScheduler{
		Engine:  engine,
		Spec:    spec,
		Enabled: true,
		Timeout: 2 * time.Minute,
		cron:    cron.New(cron.WithLocation(loc)),
		logger:  logger,
	}
}

// Start registers the scan and starts the cron runner.
func (cs *ComplianceScheduler) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.logger.Info("compliance scheduler disabled, not starting")
		return nil
	}
	if cs.running {
		return nil
	}

	id, err := cs.cron.AddFunc(cs.Spec, cs.RunNow)
	if err != nil {
		return fmt.Errorf("invalid compliance schedule %q: %w", cs.Spec, err)
	}
	cs.entryID = id
	cs.cron.Start()
	cs.running = true

	cs.logger.Info("compliance scheduler started", zap.String("spec", cs.Spec))
	return nil
}

// Stop stops the scheduler and waits for a running scan to finish.
func (cs *ComplianceScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.running {
		return
	}
	<-cs.cron.Stop().Done()
	cs.running = false
	cs.logger.Info("compliance scheduler stopped")
}

// RunNow triggers an immediate scan (for testing/admin).
func (cs *ComplianceScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), cs.Timeout)
	defer cancel()

	res, err := cs.Engine.ScanCompliance(ctx)
	if err != nil {
		cs.logger.Error("compliance scan failed", zap.Error(err))
		return
	}
	if len(res.Detected) > 0 || len(res.Resolved) > 0 {
		cs.logger.Info("compliance scan completed",
			zap.Int("detected", len(res.Detected)),
			zap.Int("resolved", len(res.Resolved)),
		)
	}
}

// NextRun returns when the next scheduled scan will occur, or zero if the
// scheduler is not running.
func (cs *ComplianceScheduler) NextRun() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.running {
		return time.Time{}
	}
	return cs.cron.Entry(cs.entryID).Next
}
