package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"ckb/internal/checkpoint"
	"ckb/internal/codegraph"
	"ckb/internal/errors"
	"ckb/internal/filewalk"
	"ckb/internal/symbolmap"
	"ckb/internal/symregistry"
	"ckb/internal/workqueue"
)

// errLSPUnavailable reports a language server that has exhausted its
// respawn budget; per §7 this skips every remaining file of that
// language rather than failing the job.
func errLSPUnavailable(languageID string) error {
	return errors.NewCkbError(
		errors.LSPUnavailable,
		fmt.Sprintf("language server for %q is permanently unavailable", languageID),
		nil, nil, nil,
	)
}

// run drives one job through Init → Discovery → Pass 1 → Pass 2 →
// Finalize. Any step that fails marks the job failed and returns; the
// checkpoint already committed still permits a later resume.
func (o *Orchestrator) run(ctx context.Context, jobID string, project codegraph.Project) {
	logger := o.deps.Logger

	if err := o.deps.Registry.MarkStarted(jobID); err != nil {
		logger.Error("failed to mark job started", map[string]interface{}{"jobId": jobID, "error": err.Error()})
		return
	}

	resume, err := o.deps.Checkpoint.Resume(ctx, jobID)
	if err != nil {
		_ = o.deps.Registry.MarkFailed(jobID, err)
		return
	}

	mapper := symbolmap.New(project.ProjectID, project.RootPath)
	reg := symregistry.New()

	projNode := codegraph.CodeNode{
		ID:                 mapper.ProjectNodeID(),
		Kind:               codegraph.KindProject,
		Name:               project.Name,
		FullyQualifiedName: project.ProjectID,
	}
	if err := o.deps.Store.UpsertNodes(ctx, project.ProjectID, []codegraph.CodeNode{projNode}); err != nil {
		_ = o.deps.Registry.MarkFailed(jobID, err)
		return
	}

	files, err := filewalk.Walk(project.RootPath, filewalk.Options{MaxFileBytes: o.deps.Config.MaxFileBytes})
	if err != nil {
		_ = o.deps.Registry.MarkFailed(jobID, err)
		return
	}
	filewalk.SortByPriority(files)

	processedSet := make(map[string]bool, len(resume.ProcessedFiles))
	for _, p := range resume.ProcessedFiles {
		processedSet[p] = true
	}

	pass := resume.Pass
	if pass == "" {
		pass = codegraph.PassStructure
	}
	_ = o.deps.Registry.SetPass(jobID, pass)

	lastSeq := resume.LastCommittedSequence

	if pass == codegraph.PassReferences || pass == codegraph.PassDone {
		// Resuming past structure: repopulate the in-memory registry by
		// re-requesting documentSymbol for already-processed files.
		// Idempotent upsert makes re-emitting these nodes to the store
		// harmless, so this reuses the pass 1 worker rather than a
		// parallel read-only path.
		var toRebuild []filewalk.FileDescriptor
		for _, f := range files {
			if processedSet[f.Path] {
				toRebuild = append(toRebuild, f)
			}
		}
		o.rebuildRegistry(ctx, mapper, reg, toRebuild)
	}

	if pass == codegraph.PassStructure {
		ok, seq, succeeded := o.runPass1(ctx, jobID, project, mapper, reg, files, processedSet, resume, lastSeq)
		if !ok {
			return
		}
		lastSeq = seq
		pass = codegraph.PassReferences
		_ = o.deps.Registry.SetPass(jobID, pass)
		for path := range succeeded {
			processedSet[path] = true
		}
	}

	if pass == codegraph.PassReferences {
		ok, seq := o.runPass2(ctx, jobID, project, mapper, reg, files, processedSet, lastSeq)
		if !ok {
			return
		}
		lastSeq = seq
	}

	o.finalize(ctx, jobID, lastSeq, len(files))
}

// rebuildRegistry re-requests documentSymbol for files already marked
// processed by a prior run, populating reg without touching the
// checkpoint or emitting new batches.
func (o *Orchestrator) rebuildRegistry(ctx context.Context, mapper *symbolmap.Mapper, reg *symregistry.Registry, files []filewalk.FileDescriptor) {
	for _, f := range files {
		uri := mapper.FileURI(f.Path)
		if o.pool.IsPermanentlyUnavailable(f.Language) {
			continue
		}
		result, err := o.pool.QueryDocumentSymbols(ctx, f.Language, uri)
		if err != nil {
			continue
		}
		symbols, err := decodeDocumentSymbols(result)
		if err != nil {
			continue
		}
		fileNode, _ := mapper.MapFile(f.Path)
		nodes, _ := mapper.MapDocumentSymbols(f.Path, f.Language, fileNode.ID, uri, symbols)
		reg.Add(fileNode)
		reg.AddAll(nodes)
	}
}

// runPass1 implements Pass 1 (structure): pop files in priority order,
// request documentSymbol, map them to nodes and edges, and feed the
// batch assembler. Returns whether the pass completed (false on
// cancellation or a fatal store error) and the last committed
// sequence.
func (o *Orchestrator) runPass1(ctx context.Context, jobID string, project codegraph.Project, mapper *symbolmap.Mapper, reg *symregistry.Registry, files []filewalk.FileDescriptor, processedSet map[string]bool, resume checkpoint.ResumeState, startSeq int64) (bool, int64, map[string]bool) {
	q := workqueue.New()
	var pending sync.WaitGroup
	var succeededMu sync.Mutex
	succeeded := make(map[string]bool, len(files))
	for _, f := range files {
		if processedSet[f.Path] {
			continue
		}
		retry := 0
		if info, ok := resume.FailedFiles[f.Path]; ok {
			retry = info.RetryCount
		}
		pending.Add(1)
		q.Push(&workqueue.Item{Key: f.Path, BasePriority: f.Priority, RetryCount: retry, Size: f.Size, Payload: f})
	}

	go func() {
		pending.Wait()
		q.Close()
	}()

	contribCh := make(chan contribution, o.workerCount()*2)
	assembler := newBatchAssembler(jobID, project.ProjectID, codegraph.PassStructure, startSeq+1, len(files), o.deps)

	var assemblerWG sync.WaitGroup
	assemblerWG.Add(1)
	go func() {
		defer assemblerWG.Done()
		assembler.run(ctx, contribCh)
	}()

	var workers sync.WaitGroup
	for i := 0; i < o.workerCount(); i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				it, ok := q.Pop(ctx)
				if !ok {
					return
				}
				f := it.Payload.(filewalk.FileDescriptor)
				nodes, edges, ferr := o.processFileStructure(ctx, jobID, mapper, reg, f)
				if ferr != nil {
					nextRetry := it.RetryCount + 1
					if nextRetry < o.deps.Config.MaxRetries && !o.pool.IsPermanentlyUnavailable(f.Language) {
						q.Push(&workqueue.Item{Key: f.Path, BasePriority: f.Priority, RetryCount: nextRetry, Size: f.Size, Payload: f})
						continue
					}
					contribCh <- contribution{failedFile: f.Path, failErr: ferr.Error()}
					pending.Done()
					continue
				}
				succeededMu.Lock()
				succeeded[f.Path] = true
				succeededMu.Unlock()
				contribCh <- contribution{nodes: nodes, edges: edges, processedFile: f.Path}
				pending.Done()
			}
		}()
	}
	workers.Wait()
	close(contribCh)
	assemblerWG.Wait()

	return o.jobStillRunning(jobID), assembler.nextSeq - 1, succeeded
}

// processFileStructure requests and maps documentSymbol for one file.
func (o *Orchestrator) processFileStructure(ctx context.Context, jobID string, mapper *symbolmap.Mapper, reg *symregistry.Registry, f filewalk.FileDescriptor) ([]codegraph.CodeNode, []codegraph.Edge, error) {
	uri := mapper.FileURI(f.Path)

	if o.pool.IsPermanentlyUnavailable(f.Language) {
		err := errLSPUnavailable(f.Language)
		_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusFailed, err.Error(), 0, 0)
		return nil, nil, err
	}

	_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusInProgress, "", 0, 0)

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusFailed, err.Error(), 0, 0)
		return nil, nil, err
	}

	if err := o.pool.NotifyDocumentOpen(f.Language, uri, f.Language, string(content), 1); err != nil {
		_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusFailed, err.Error(), 0, 0)
		return nil, nil, err
	}
	defer func() { _ = o.pool.NotifyDocumentClose(f.Language, uri) }()

	result, err := o.pool.QueryDocumentSymbols(ctx, f.Language, uri)
	if err != nil {
		_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusFailed, err.Error(), 0, 0)
		return nil, nil, err
	}

	symbols, err := decodeDocumentSymbols(result)
	if err != nil {
		// A malformed response is a MapperError per §7: skip the file,
		// not the job.
		_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusFailed, err.Error(), 0, 0)
		return nil, nil, err
	}

	fileNode, containsEdge := mapper.MapFile(f.Path)
	moduleNodes, moduleEdges := mapper.MapDocumentSymbols(f.Path, f.Language, fileNode.ID, uri, symbols)

	nodes := append([]codegraph.CodeNode{fileNode}, moduleNodes...)
	edges := append([]codegraph.Edge{containsEdge}, moduleEdges...)
	reg.AddAll(nodes)

	_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusCompleted, "", 0, 0)
	return nodes, edges, nil
}

// runPass2 implements Pass 2 (references): for every symbol discovered
// in pass 1, request references and implementation and map them to
// edges.
func (o *Orchestrator) runPass2(ctx context.Context, jobID string, project codegraph.Project, mapper *symbolmap.Mapper, reg *symregistry.Registry, files []filewalk.FileDescriptor, processedSet map[string]bool, startSeq int64) (bool, int64) {
	q := workqueue.New()
	var pending sync.WaitGroup
	for _, f := range files {
		if !processedSet[f.Path] {
			continue
		}
		pending.Add(1)
		q.Push(&workqueue.Item{Key: f.Path, BasePriority: f.Priority, Size: f.Size, Payload: f})
	}

	go func() {
		pending.Wait()
		q.Close()
	}()

	contribCh := make(chan contribution, o.workerCount()*2)
	assembler := newBatchAssembler(jobID, project.ProjectID, codegraph.PassReferences, startSeq+1, len(files), o.deps)

	var assemblerWG sync.WaitGroup
	assemblerWG.Add(1)
	go func() {
		defer assemblerWG.Done()
		assembler.run(ctx, contribCh)
	}()

	var workers sync.WaitGroup
	for i := 0; i < o.workerCount(); i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				it, ok := q.Pop(ctx)
				if !ok {
					return
				}
				f := it.Payload.(filewalk.FileDescriptor)
				edges, ferr := o.processFileReferences(ctx, jobID, mapper, reg, f)
				if ferr != nil {
					nextRetry := it.RetryCount + 1
					if nextRetry < o.deps.Config.MaxRetries && !o.pool.IsPermanentlyUnavailable(f.Language) {
						it.RetryCount = nextRetry
						q.Push(it)
						continue
					}
					contribCh <- contribution{failedFile: f.Path, failErr: ferr.Error()}
					pending.Done()
					continue
				}
				contribCh <- contribution{edges: edges, processedFile: f.Path}
				pending.Done()
			}
		}()
	}
	workers.Wait()
	close(contribCh)
	assemblerWG.Wait()

	return o.jobStillRunning(jobID), assembler.nextSeq - 1
}

// processFileReferences requests references/implementation for every
// meaningful symbol registered for f and maps them to edges.
func (o *Orchestrator) processFileReferences(ctx context.Context, jobID string, mapper *symbolmap.Mapper, reg *symregistry.Registry, f filewalk.FileDescriptor) ([]codegraph.Edge, error) {
	uri := mapper.FileURI(f.Path)

	if o.pool.IsPermanentlyUnavailable(f.Language) {
		return nil, errLSPUnavailable(f.Language)
	}

	_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusInProgress, "", 0, 0)

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusFailed, err.Error(), 0, 0)
		return nil, err
	}
	if err := o.pool.NotifyDocumentOpen(f.Language, uri, f.Language, string(content), 1); err != nil {
		_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusFailed, err.Error(), 0, 0)
		return nil, err
	}
	defer func() { _ = o.pool.NotifyDocumentClose(f.Language, uri) }()

	var edges []codegraph.Edge
	for _, sym := range reg.NodesForURI(uri) {
		if !isReferenceable(sym.Kind) {
			continue
		}

		if refResult, err := o.pool.QueryReferences(ctx, f.Language, uri, sym.Range.StartLine, sym.Range.StartChar, false); err == nil {
			if locs, derr := decodeLocations(refResult); derr == nil {
				edges = append(edges, mapper.MapReferences(sym.ID, locs, reg)...)
			}
		}

		if implResult, err := o.pool.QueryImplementation(ctx, f.Language, uri, sym.Range.StartLine, sym.Range.StartChar); err == nil {
			if locs, derr := decodeLocations(implResult); derr == nil {
				for _, loc := range locs {
					supertypeID, ok := reg.EnclosingNodeID(loc.URI, loc.Range.Start.Line)
					if !ok || supertypeID == sym.ID {
						continue
					}
					kind := symbolmap.ImplKindUnknown
					if supertype, ok := reg.Get(supertypeID); ok {
						switch supertype.Kind {
						case codegraph.KindInterface:
							kind = symbolmap.ImplKindInterface
						case codegraph.KindClass:
							kind = symbolmap.ImplKindClass
						}
					}
					edges = append(edges, symbolmap.MapImplementation(sym.ID, supertypeID, kind))
				}
			}
		}
	}

	_ = o.deps.Checkpoint.UpdateFileStatus(ctx, jobID, f.Path, checkpoint.StatusCompleted, "", 0, 0)
	return edges, nil
}

// isReferenceable reports whether a node kind corresponds to a real
// LSP-addressable symbol, as opposed to a synthetic Project/File/Module
// container node.
func isReferenceable(kind codegraph.NodeKind) bool {
	switch kind {
	case codegraph.KindProject, codegraph.KindFile, codegraph.KindModule:
		return false
	default:
		return true
	}
}

// finalize emits the terminal batch and transitions the job to its
// resting state, unless cancellation or an earlier failure already set
// one.
func (o *Orchestrator) finalize(ctx context.Context, jobID string, lastSeq int64, totalFiles int) {
	job, err := o.deps.Registry.Get(jobID)
	if err != nil || job.IsTerminal() {
		return
	}

	stats := job.Statistics
	stats.TotalFiles = totalFiles

	terminal := codegraph.BatchUpdate{
		JobID:      jobID,
		Sequence:   lastSeq + 1,
		Status:     codegraph.StatusComplete,
		Statistics: &stats,
	}
	_ = o.deps.Checkpoint.CommitCheckpoint(ctx, jobID, codegraph.PassDone, terminal.Sequence)
	o.deps.Broker.Publish(jobID, terminal)

	_ = o.deps.Registry.SetPass(jobID, codegraph.PassDone)
	_ = o.deps.Registry.MarkCompleted(jobID)
	o.deps.Broker.Close(jobID)
}

// jobStillRunning reports whether jobID has not been cancelled or
// failed out from under the pass that just finished.
func (o *Orchestrator) jobStillRunning(jobID string) bool {
	job, err := o.deps.Registry.Get(jobID)
	if err != nil {
		return false
	}
	return !job.IsTerminal()
}
