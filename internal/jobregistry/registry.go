package jobregistry

import (
	"sync"

	"ckb/internal/codegraph"
	"ckb/internal/errors"
)

// Registry is the in-memory table of analysis jobs, keyed by job ID,
// plus a secondary index enforcing the spec's start_analysis
// idempotency: at most one non-terminal job per (projectID,
// analyzerKind) pair. Mirrors internal/jobs.Runner's map-plus-mutex
// bookkeeping but without the queue/worker machinery, since dispatch
// here is the Analysis Orchestrator's job, not the registry's.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	active map[string]string // "projectID\x00analyzerKind" -> jobID, only while non-terminal
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		jobs:   make(map[string]*Job),
		active: make(map[string]string),
	}
}

func activeKey(projectID, analyzerKind string) string {
	return projectID + "\x00" + analyzerKind
}

// StartAnalysis registers a new job for (projectID, analyzerKind), or
// returns the already-running job if start_analysis was already
// called for this pair and hasn't reached a terminal state — the
// idempotency §4.L requires so a reconnecting client's retried
// start_analysis doesn't spawn a duplicate pass over the same project.
func (r *Registry) StartAnalysis(projectID, analyzerKind string) (job *Job, alreadyActive bool) {
	if analyzerKind == "" {
		analyzerKind = "codebase_analysis"
	}
	key := activeKey(projectID, analyzerKind)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.active[key]; ok {
		if existing, ok := r.jobs[existingID]; ok && !existing.IsTerminal() {
			return existing.Clone(), true
		}
		delete(r.active, key)
	}

	j := NewJob(projectID, analyzerKind)
	r.jobs[j.ID] = j
	r.active[key] = j.ID
	return j.Clone(), false
}

// Get returns a copy of the job, or ErrJobNotFound.
func (r *Registry) Get(jobID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return nil, errors.NewCkbError(errors.JobNotFoundError, "job not found", nil, nil, nil)
	}
	return j.Clone(), nil
}

// mutate looks up the live job (not a clone) and applies fn under the
// write lock, clearing the active-index entry once the job becomes
// terminal so a later start_analysis for the same pair can proceed.
func (r *Registry) mutate(jobID string, fn func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return errors.NewCkbError(errors.JobNotFoundError, "job not found", nil, nil, nil)
	}
	fn(j)
	if j.IsTerminal() {
		delete(r.active, activeKey(j.ProjectID, j.AnalyzerKind))
	}
	return nil
}

// MarkStarted transitions jobID to running.
func (r *Registry) MarkStarted(jobID string) error {
	return r.mutate(jobID, func(j *Job) { j.MarkStarted() })
}

// MarkPaused transitions jobID to paused, e.g. while waiting on an
// LSP server marked permanently unavailable mid-job.
func (r *Registry) MarkPaused(jobID string) error {
	return r.mutate(jobID, func(j *Job) { j.MarkPaused() })
}

// MarkCompleted transitions jobID to completed.
func (r *Registry) MarkCompleted(jobID string) error {
	return r.mutate(jobID, func(j *Job) { j.MarkCompleted() })
}

// MarkFailed transitions jobID to failed, recording cause.
func (r *Registry) MarkFailed(jobID string, cause error) error {
	return r.mutate(jobID, func(j *Job) { j.MarkFailed(cause) })
}

// MarkCancelled transitions jobID to cancelled.
func (r *Registry) MarkCancelled(jobID string) error {
	return r.mutate(jobID, func(j *Job) { j.MarkCancelled() })
}

// SetPass updates the job's current pass (structure/references/done).
func (r *Registry) SetPass(jobID string, pass codegraph.Pass) error {
	return r.mutate(jobID, func(j *Job) { j.Pass = pass })
}

// UpdateStatistics replaces the job's progress counters. The
// orchestrator calls this after every batch close, just before
// publishing the corresponding BatchUpdate.
func (r *Registry) UpdateStatistics(jobID string, stats codegraph.Statistics) error {
	return r.mutate(jobID, func(j *Job) { j.Statistics = stats })
}

// Cancel requests cancellation of jobID, failing if the job is
// already terminal. The orchestrator observes the Cancelled status on
// its next progress tick and tears down within the cancellation grace
// period; Registry itself has no goroutine to signal.
func (r *Registry) Cancel(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return errors.NewCkbError(errors.JobNotFoundError, "job not found", nil, nil, nil)
	}
	if !j.CanCancel() {
		return errors.NewCkbError(errors.ProtocolError, "job is not cancellable in its current state", nil, nil, nil)
	}
	j.MarkCancelled()
	delete(r.active, activeKey(j.ProjectID, j.AnalyzerKind))
	return nil
}

// ListByProject returns copies of all jobs recorded for projectID,
// most recently created first.
func (r *Registry) ListByProject(projectID string) []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Job
	for _, j := range r.jobs {
		if j.ProjectID == projectID {
			out = append(out, j.Clone())
		}
	}
	sortJobsByCreatedDesc(out)
	return out
}

func sortJobsByCreatedDesc(jobs []*Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].CreatedAt.After(jobs[j-1].CreatedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

// Remove deletes a terminal job's record, e.g. after DeleteProject.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.jobs[jobID]; ok {
		delete(r.active, activeKey(j.ProjectID, j.AnalyzerKind))
		delete(r.jobs, jobID)
	}
}
