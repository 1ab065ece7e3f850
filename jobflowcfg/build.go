package jobflowcfg

import (
	"context"
	"fmt"

	"github.com/gpetretto/jobflow/pkg/jobstore"
	"github.com/gpetretto/jobflow/pkg/jobstore/badgerstore"
	"github.com/gpetretto/jobflow/pkg/jobstore/memstore"
	"github.com/gpetretto/jobflow/pkg/scheduler"
)

// BuildRouter constructs the JobStore Router described by cfg.Storage,
// connecting a backing Store if one is needed. The caller is responsible for
// closing the returned Router's Main store when it implements io.Closer
// (badgerstore.Store does; memstore.Store is a no-op close).
func BuildRouter(ctx context.Context, cfg *Config) (*jobstore.Router, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return jobstore.NewRouter(memstore.New()), nil
	case "badger":
		store := badgerstore.New(cfg.Storage.Badger.Path, cfg.Storage.Badger.ResetOnStartup)
		if err := store.Connect(ctx); err != nil {
			return nil, fmt.Errorf("jobflowcfg: connecting badger store: %w", err)
		}
		return jobstore.NewRouter(store), nil
	default:
		return nil, fmt.Errorf("jobflowcfg: unknown storage backend %q", cfg.Storage.Backend)
	}
}

// BuildManager wires a Manager against the Store cfg.Storage describes, and
// returns the RunOptions that reflect cfg.Scheduler so a caller can do:
//
//	mgr, opts, err := jobflowcfg.BuildManager(ctx, cfg)
//	mgr.RunLocally(ctx, rootFlow, opts...)
func BuildManager(ctx context.Context, cfg *Config) (*scheduler.Manager, []scheduler.RunOption, error) {
	router, err := BuildRouter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	var opts []scheduler.RunOption
	if cfg.Scheduler.Parallel && cfg.Scheduler.NumWorkers > 1 {
		opts = append(opts, scheduler.WithParallelism(cfg.Scheduler.NumWorkers))
	}
	return scheduler.NewManager(router), opts, nil
}
