package orchestrator

import (
	"context"
	"time"

	"ckb/internal/broker"
	"ckb/internal/checkpoint"
	"ckb/internal/codegraph"
	"ckb/internal/graphstore"
	"ckb/internal/jobregistry"
	"ckb/internal/logging"
)

// contribution is one worker's output for a single file, fed to the
// batch assembler over a channel. Exactly one of processedFile or
// failedFile is set (per-file outcome); nodes/edges may be empty (e.g.
// a file that yielded no symbols).
type contribution struct {
	nodes         []codegraph.CodeNode
	edges         []codegraph.Edge
	processedFile string
	failedFile    string
	failErr       string
}

// batchAssembler is the single producer serializing batch construction
// for one job, per §5's ordering guarantee: batches are assigned and
// committed in strictly increasing sequence, and batch assembly is
// serialized behind one producer so that invariant holds without
// coordination between workers. Implements §4.K's apply→checkpoint→
// publish ordering on every close.
type batchAssembler struct {
	jobID      string
	pass       codegraph.Pass
	projectID  string
	store      *graphstore.Store
	checkpoint *checkpoint.Manager
	broker     *broker.Broker
	registry   *jobregistry.Registry
	logger     *logging.Logger

	maxNodes     int
	maxEdges     int
	batchInterval time.Duration

	nextSeq        int64
	totalFiles     int
	processedTotal int
	totalSymbols   int
	totalEdges     int

	nodes          []codegraph.CodeNode
	edges          []codegraph.Edge
	processedFiles []string
	failedFiles    []string
	lastErr        string
}

func newBatchAssembler(jobID, projectID string, pass codegraph.Pass, startSeq int64, totalFiles int, deps orchestratorDeps) *batchAssembler {
	return &batchAssembler{
		jobID:         jobID,
		projectID:     projectID,
		pass:          pass,
		store:         deps.Store,
		checkpoint:    deps.Checkpoint,
		broker:        deps.Broker,
		registry:      deps.Registry,
		logger:        deps.Logger,
		maxNodes:      deps.Config.BatchNodes,
		maxEdges:      deps.Config.BatchEdges,
		batchInterval: time.Duration(deps.Config.BatchIntervalMs) * time.Millisecond,
		nextSeq:       startSeq,
		totalFiles:    totalFiles,
	}
}

// run drains contribCh until it is closed (the queue has drained or the
// job was cancelled), flushing a batch whenever the node/edge threshold
// or the interval ticker fires, and performs a final flush before
// returning. Returns the last committed sequence.
func (a *batchAssembler) run(ctx context.Context, contribCh <-chan contribution) int64 {
	ticker := time.NewTicker(a.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case c, ok := <-contribCh:
			if !ok {
				a.flush(ctx, codegraph.StatusComplete, false)
				return a.nextSeq - 1
			}
			a.absorb(c)
			if len(a.nodes) >= a.maxNodes || len(a.edges) >= a.maxEdges {
				a.flush(ctx, a.statusForPass(), false)
			}
		case <-ticker.C:
			if a.hasPending() {
				a.flush(ctx, a.statusForPass(), false)
			}
		case <-ctx.Done():
			a.flush(ctx, codegraph.StatusError, true)
			return a.nextSeq - 1
		}
	}
}

func (a *batchAssembler) statusForPass() codegraph.BatchStatus {
	if a.pass == codegraph.PassReferences {
		return codegraph.StatusReferencesComplete
	}
	return codegraph.StatusStructureComplete
}

func (a *batchAssembler) absorb(c contribution) {
	a.nodes = append(a.nodes, c.nodes...)
	a.edges = append(a.edges, c.edges...)
	a.totalSymbols += len(c.nodes)
	a.totalEdges += len(c.edges)
	if c.processedFile != "" {
		a.processedFiles = append(a.processedFiles, c.processedFile)
		a.processedTotal++
	}
	if c.failedFile != "" {
		a.failedFiles = append(a.failedFiles, c.failedFile)
		a.lastErr = c.failErr
	}
}

func (a *batchAssembler) hasPending() bool {
	return len(a.nodes) > 0 || len(a.edges) > 0 || len(a.processedFiles) > 0 || len(a.failedFiles) > 0
}

// flush applies the accumulated batch, commits the checkpoint, then
// publishes — in that fixed order, so a crash between apply and
// checkpoint yields at most one replay, which idempotent upsert absorbs.
func (a *batchAssembler) flush(ctx context.Context, status codegraph.BatchStatus, forceEmit bool) {
	if !a.hasPending() && !forceEmit {
		return
	}

	stats := codegraph.Statistics{
		ProcessedFiles: a.processedTotal,
		TotalFiles:     a.totalFiles,
		TotalSymbols:   a.totalSymbols,
		TotalEdges:     a.totalEdges,
		Error:          a.lastErr,
	}

	batch := codegraph.BatchUpdate{
		JobID:          a.jobID,
		Sequence:       a.nextSeq,
		Nodes:          a.nodes,
		Edges:          a.edges,
		ProcessedFiles: a.processedFiles,
		FailedFiles:    a.failedFiles,
		Status:         status,
		Statistics:     &stats,
	}

	if err := a.applyWithRetry(ctx, batch); err != nil {
		a.logger.Error("store apply exhausted retries, failing job", map[string]interface{}{
			"jobId": a.jobID,
			"error": err.Error(),
		})
		_ = a.registry.MarkFailed(a.jobID, err)
		a.reset()
		return
	}

	if err := a.checkpoint.CommitCheckpoint(ctx, a.jobID, a.pass, batch.Sequence); err != nil {
		a.logger.Error("checkpoint commit failed", map[string]interface{}{
			"jobId": a.jobID,
			"error": err.Error(),
		})
	}

	_ = a.registry.UpdateStatistics(a.jobID, stats)
	a.broker.Publish(a.jobID, batch)

	a.nextSeq++
	a.reset()
}

// applyWithRetry retries ApplyBatch with exponential backoff up to 5
// attempts per §7's StoreError policy before giving up.
func (a *batchAssembler) applyWithRetry(ctx context.Context, batch codegraph.BatchUpdate) error {
	const maxAttempts = 5
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := a.store.ApplyBatch(ctx, a.projectID, batch); err != nil {
			lastErr = err
			if attempt == maxAttempts {
				break
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			continue
		}
		return nil
	}
	return lastErr
}

func (a *batchAssembler) reset() {
	a.nodes = nil
	a.edges = nil
	a.processedFiles = nil
	a.failedFiles = nil
	a.lastErr = ""
}
