// Package orchestrator implements §4.K: the Analysis Orchestrator, the
// two-pass (structure, then references) ingestion pipeline tying
// together the language detector, file walker, priority queue, LSP
// pool, symbol mapper, symbol registry, checkpoint manager, graph store
// adapter, subscription broker, and job registry into one job
// lifecycle. Grounded on internal/jobs/runner.go's worker-pool +
// progress-callback + cancellation-context + orphan-recovery scaffolding,
// with original_source/backend/orchestrators/project_analysis.py's
// exact two-pass/apply-checkpoint-publish ordering and message shapes.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"ckb/internal/broker"
	"ckb/internal/checkpoint"
	"ckb/internal/codegraph"
	"ckb/internal/config"
	"ckb/internal/errors"
	"ckb/internal/graphstore"
	"ckb/internal/jobregistry"
	"ckb/internal/logging"
)

// orchestratorDeps bundles the collaborators a single job run needs,
// threaded into the batch assembler and the pass workers.
type orchestratorDeps struct {
	Store      *graphstore.Store
	Checkpoint *checkpoint.Manager
	Broker     *broker.Broker
	Registry   *jobregistry.Registry
	Logger     *logging.Logger
	Config     config.AnalysisConfig
}

// Orchestrator owns the set of in-flight jobs for a process, bounded by
// Config.Analysis.MaxActiveJobs.
type Orchestrator struct {
	pool LSPPool
	deps orchestratorDeps

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	active   int
}

// New constructs an Orchestrator. pool is accepted as an interface so
// tests can substitute a fake language server pool.
func New(cfg *config.Config, logger *logging.Logger, pool LSPPool, store *graphstore.Store, chk *checkpoint.Manager, br *broker.Broker, registry *jobregistry.Registry) *Orchestrator {
	return &Orchestrator{
		pool: pool,
		deps: orchestratorDeps{
			Store:      store,
			Checkpoint: chk,
			Broker:     br,
			Registry:   registry,
			Logger:     logger,
			Config:     cfg.Analysis,
		},
		cancels: make(map[string]context.CancelFunc),
	}
}

// StartAnalysis implements the client protocol's start_analysis:
// idempotent per (project_id, analyzer_kind), subject to
// MAX_ACTIVE_JOBS. Runs the pipeline in a background goroutine and
// returns immediately with the job id and whether it was already
// active.
func (o *Orchestrator) StartAnalysis(project codegraph.Project, analyzerKind string) (jobID string, alreadyActive bool, err error) {
	job, alreadyActive := o.deps.Registry.StartAnalysis(project.ProjectID, analyzerKind)
	if alreadyActive {
		return job.ID, true, nil
	}

	o.mu.Lock()
	if o.deps.Config.MaxActiveJobs > 0 && o.active >= o.deps.Config.MaxActiveJobs {
		o.mu.Unlock()
		_ = o.deps.Registry.MarkFailed(job.ID, fmt.Errorf("max active jobs (%d) reached", o.deps.Config.MaxActiveJobs))
		return job.ID, false, errors.NewCkbError(
			errors.BudgetExceeded,
			fmt.Sprintf("max active jobs (%d) reached", o.deps.Config.MaxActiveJobs),
			nil, nil, nil,
		)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancels[job.ID] = cancel
	o.active++
	o.mu.Unlock()

	go func() {
		defer o.finishJob(job.ID)
		o.run(ctx, job.ID, project)
	}()

	return job.ID, false, nil
}

func (o *Orchestrator) finishJob(jobID string) {
	o.mu.Lock()
	delete(o.cancels, jobID)
	o.active--
	o.mu.Unlock()
}

// Cancel implements the client protocol's cancel: flips the registry
// state, then cancels the job's context so the pipeline unwinds within
// CancelGraceMs.
func (o *Orchestrator) Cancel(jobID string) error {
	if err := o.deps.Registry.Cancel(jobID); err != nil {
		return err
	}
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Subscribe delegates to the broker, implementing the client
// protocol's subscribe.
func (o *Orchestrator) Subscribe(ctx context.Context, jobID string, fromSequence int64) (*broker.Subscription, []codegraph.BatchUpdate, error) {
	return o.deps.Broker.Subscribe(ctx, jobID, fromSequence)
}

// GetJob returns the current job record.
func (o *Orchestrator) GetJob(jobID string) (*jobregistry.Job, error) {
	return o.deps.Registry.Get(jobID)
}

// workerCount clamps Config.Analysis.Workers to the host's logical CPU
// count, per §4.K's W = min(8, cpu_count) default.
func (o *Orchestrator) workerCount() int {
	w := o.deps.Config.Workers
	if w <= 0 {
		w = 8
	}
	if cpus := runtime.NumCPU(); w > cpus {
		w = cpus
	}
	if w < 1 {
		w = 1
	}
	return w
}

func (o *Orchestrator) cancelGrace() time.Duration {
	if o.deps.Config.CancelGraceMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(o.deps.Config.CancelGraceMs) * time.Millisecond
}
