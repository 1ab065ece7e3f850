package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/gpetretto/jobflow/pkg/flow"
)

// FlowFactory builds a fresh Flow for one periodic run. A Flow's Jobs record
// their own execution state (parented, scheduled) as they run, so a
// PeriodicRunner always asks for a brand new Flow rather than resubmitting
// the one from the previous tick.
type FlowFactory func() (*flow.Flow, error)

// PeriodicRunner re-submits a Flow template to a Manager on a cron schedule
// — useful for a Flow that should simply run again on a fixed cadence
// rather than being resubmitted by some external trigger. Grounded on the
// teacher's internal/services/processing.Scheduler: a cron.Cron plus a
// single scheduled func, wrapped in Start/Stop/RunNow.
type PeriodicRunner struct {
	manager *Manager
	build   FlowFactory
	opts    []RunOption
	logger  arbor.ILogger

	cron *cron.Cron

	mu      sync.Mutex
	lastErr error
}

// NewPeriodicRunner returns a PeriodicRunner that invokes build and runs the
// resulting Flow through manager each time schedule fires.
func NewPeriodicRunner(manager *Manager, build FlowFactory, opts ...RunOption) *PeriodicRunner {
	return &PeriodicRunner{
		manager: manager,
		build:   build,
		opts:    opts,
		logger:  arbor.NewLogger(),
		cron:    cron.New(cron.WithSeconds()),
	}
}

// Start registers schedule (a standard 6-field cron.WithSeconds expression)
// and begins firing. An empty schedule defaults to once every hour.
func (p *PeriodicRunner) Start(schedule string) error {
	if schedule == "" {
		schedule = "0 0 * * * *"
	}
	_, err := p.cron.AddFunc(schedule, p.runOnce)
	if err != nil {
		return err
	}
	p.cron.Start()
	p.logger.Info().Str("schedule", schedule).Msg("periodic flow runner started")
	return nil
}

// Stop halts future firings and waits for any in-flight run to finish.
func (p *PeriodicRunner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.logger.Info().Msg("periodic flow runner stopped")
}

// RunNow triggers an out-of-schedule run immediately, in the background.
func (p *PeriodicRunner) RunNow() {
	go p.runOnce()
}

// LastError returns the error from the most recent run, if any.
func (p *PeriodicRunner) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *PeriodicRunner) runOnce() {
	rootFlow, err := p.build()
	if err != nil {
		p.recordErr(err)
		p.logger.Error().Err(err).Msg("periodic flow runner: building flow failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	_, report, err := p.manager.RunLocally(ctx, rootFlow, p.opts...)
	p.recordErr(err)
	if err != nil {
		p.logger.Error().Err(err).Msg("periodic flow runner: run failed")
		return
	}
	p.logger.Info().
		Int("done", report.CountByStatus(StatusDone)).
		Int("failed", report.CountByStatus(StatusFailed)).
		Int("cancelled", report.CountByStatus(StatusCancelled)).
		Msg("periodic flow runner: run complete")
}

func (p *PeriodicRunner) recordErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}
