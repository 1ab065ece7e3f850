package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/gpetretto/jobflow/pkg/flow"
	"github.com/gpetretto/jobflow/pkg/job"
)

// TestPeriodicRunnerFiresOnSchedule builds a fresh one-job Flow on every
// tick and checks that a once-a-second cron schedule drives more than one run
// through the Manager.
func TestPeriodicRunnerFiresOnSchedule(t *testing.T) {
	m, registry := newTestManager()
	registry.Register("touch", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return true, nil
	})

	runs := make(chan struct{}, 16)
	build := func() (*flow.Flow, error) {
		j := job.New(registry, "touch", "touch", nil, nil)
		root := flow.New("periodic", j.Output())
		if err := root.Add(j); err != nil {
			return nil, err
		}
		runs <- struct{}{}
		return root, nil
	}

	runner := NewPeriodicRunner(m, build)
	if err := runner.Start("*/1 * * * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer runner.Stop()

	select {
	case <-runs:
	case <-time.After(3 * time.Second):
		t.Fatal("periodic runner never fired")
	}
	select {
	case <-runs:
	case <-time.After(3 * time.Second):
		t.Fatal("periodic runner did not fire a second time")
	}

	if err := runner.LastError(); err != nil {
		t.Fatalf("LastError: %v", err)
	}
}

// TestPeriodicRunnerRunNowBypassesSchedule exercises the immediate trigger
// without waiting on any cron tick.
func TestPeriodicRunnerRunNowBypassesSchedule(t *testing.T) {
	m, registry := newTestManager()
	registry.Register("touch", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return true, nil
	})

	built := make(chan struct{}, 1)
	build := func() (*flow.Flow, error) {
		j := job.New(registry, "touch", "touch", nil, nil)
		root := flow.New("periodic", j.Output())
		if err := root.Add(j); err != nil {
			return nil, err
		}
		built <- struct{}{}
		return root, nil
	}

	runner := NewPeriodicRunner(m, build)
	runner.RunNow()

	select {
	case <-built:
	case <-time.After(2 * time.Second):
		t.Fatal("RunNow did not trigger a build")
	}
}
