// Package jobregistry implements §4.L: the Job Registry, the
// in-memory record of active and recently finished analysis jobs that
// the client protocol and the Analysis Orchestrator both consult.
// Generalizes internal/jobs/job.go's Job lifecycle (queued → running →
// terminal, with MarkStarted/MarkCompleted/MarkFailed transitions) to
// the spec's single analyzer-kind job with a two-pass progress model
// and an added paused state (codegraph.JobPaused), which the teacher's
// JobStatus enum never needed.
package jobregistry

import (
	"time"

	"github.com/google/uuid"

	"ckb/internal/codegraph"
)

// Job is one analysis run over one project.
type Job struct {
	ID           string
	ProjectID    string
	AnalyzerKind string // always "codebase_analysis" today; kept for future analyzer kinds
	Status       codegraph.JobStatus
	Pass         codegraph.Pass
	Statistics   codegraph.Statistics
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Error        string
}

// NewJob creates a pending Job for projectID.
func NewJob(projectID, analyzerKind string) *Job {
	if analyzerKind == "" {
		analyzerKind = "codebase_analysis"
	}
	return &Job{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		AnalyzerKind: analyzerKind,
		Status:       codegraph.JobPending,
		Pass:         codegraph.PassStructure,
		CreatedAt:    time.Now().UTC(),
	}
}

// MarkStarted transitions the job to running.
func (j *Job) MarkStarted() {
	now := time.Now().UTC()
	j.Status = codegraph.JobRunning
	j.StartedAt = &now
}

// MarkPaused transitions the job to paused, preserving Pass/Statistics
// so a later resume picks up where checkpointing left off.
func (j *Job) MarkPaused() {
	j.Status = codegraph.JobPaused
}

// MarkCompleted transitions the job to completed.
func (j *Job) MarkCompleted() {
	now := time.Now().UTC()
	j.Status = codegraph.JobCompleted
	j.Pass = codegraph.PassDone
	j.CompletedAt = &now
}

// MarkFailed transitions the job to failed, recording err.
func (j *Job) MarkFailed(err error) {
	now := time.Now().UTC()
	j.Status = codegraph.JobFailed
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
}

// MarkCancelled transitions the job to cancelled.
func (j *Job) MarkCancelled() {
	now := time.Now().UTC()
	j.Status = codegraph.JobCancelled
	j.CompletedAt = &now
}

// CanCancel reports whether the job is in a cancellable state.
func (j *Job) CanCancel() bool {
	return j.Status == codegraph.JobPending || j.Status == codegraph.JobRunning || j.Status == codegraph.JobPaused
}

// IsTerminal reports whether the job has reached a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a shallow copy safe for callers to read without
// holding the Registry's lock.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
