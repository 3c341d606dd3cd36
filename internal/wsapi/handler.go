package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ckb/internal/broker"
	"ckb/internal/codegraph"
	ckberrors "ckb/internal/errors"
	"ckb/internal/jobregistry"
)

// AnalysisService is the subset of *orchestrator.Orchestrator the
// handler drives. Accepted as an interface so handler tests can
// substitute a fake instead of a live orchestrator.
type AnalysisService interface {
	StartAnalysis(project codegraph.Project, analyzerKind string) (jobID string, alreadyActive bool, err error)
	Cancel(jobID string) error
	Subscribe(ctx context.Context, jobID string, fromSequence int64) (*broker.Subscription, []codegraph.BatchUpdate, error)
	GetJob(jobID string) (*jobregistry.Job, error)
}

// GraphReader resolves a completed project's current graph snapshot,
// populating start_analysis_response's graph_data on rejoin. Optional:
// a Handler with a nil reader simply omits graph_data.
type GraphReader interface {
	ReadSubgraph(ctx context.Context, projectID string) ([]codegraph.CodeNode, []codegraph.Edge, error)
}

// ProjectLookup resolves a client-supplied project_id to the project
// record the external ingestion contract (§6) already delivered to the
// core out of band; the handler itself never constructs one.
type ProjectLookup func(projectID string) (codegraph.Project, error)

// Handler serves one client connection's worth of the message-channel
// protocol: start_analysis, subscribe, cancel, ping in, and
// start_analysis_response/batch_update/status_update/subscribe_response/
// analysis_complete/error/pong out.
type Handler struct {
	service AnalysisService
	lookup  ProjectLookup
	graph   GraphReader
	logger  *slog.Logger
}

// NewHandler constructs a Handler. logger may be nil (discarded via
// slog.Default's io.Discard-backed fallback is the caller's job; wsapi
// itself just nil-checks before logging).
func NewHandler(service AnalysisService, lookup ProjectLookup, graph GraphReader, logger *slog.Logger) *Handler {
	return &Handler{service: service, lookup: lookup, graph: graph, logger: logger}
}

// Serve runs the read loop for one connection until the transport
// errors, the frame is malformed past recovery, or ctx is cancelled.
// Each subscribe spawns its own forwarding goroutine; Serve waits for
// all of them to drain before returning so no goroutine writes to a
// closed transport.
func (h *Handler) Serve(ctx context.Context, t Transport) error {
	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	// cancel must fire before wg.Wait blocks on it: defers run LIFO, so
	// declaring wg.Wait first and cancel second makes cancel run first,
	// unblocking every forwardLive goroutine's ctx.Done case.
	defer wg.Wait()
	defer cancel()

	var writeMu sync.Mutex
	writeFrame := func(f Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return t.WriteFrame(f)
	}

	for {
		frame, err := t.ReadFrame()
		if err != nil {
			return err
		}

		switch frame.Type {
		case typeStartAnalysis:
			h.handleStartAnalysis(connCtx, frame, writeFrame)
		case typeSubscribe:
			h.handleSubscribe(connCtx, frame, writeFrame, &wg)
		case typeCancel:
			h.handleCancel(frame, writeFrame)
		case typePing:
			_ = writeFrame(Frame{Type: typePong})
		default:
			_ = writeFrame(errorFrame(fmt.Sprintf("unknown message type %q", frame.Type), errValue))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (h *Handler) handleStartAnalysis(ctx context.Context, frame Frame, writeFrame func(Frame) error) {
	var req startAnalysisRequest
	if err := decodeData(frame.Data, &req); err != nil {
		_ = writeFrame(errorFrame("malformed start_analysis payload", errValue))
		return
	}

	project, err := h.lookup(req.ProjectID)
	if err != nil {
		_ = writeFrame(errorFrame(fmt.Sprintf("unknown project %q", req.ProjectID), errProjectNotFound))
		return
	}

	jobID, _, err := h.service.StartAnalysis(project, req.AnalyzerType)
	if err != nil {
		_ = writeFrame(errorFrame(err.Error(), classify(err)))
		return
	}

	job, err := h.service.GetJob(jobID)
	if err != nil {
		_ = writeFrame(errorFrame(err.Error(), errServer))
		return
	}

	resp := startAnalysisResponse{
		JobID:         job.ID,
		Status:        job.Status,
		AnalysisStats: job.Statistics,
	}
	if job.Status == codegraph.JobCompleted && h.graph != nil {
		nodes, edges, err := h.graph.ReadSubgraph(ctx, project.ProjectID)
		if err == nil {
			resp.GraphData = &graphData{Nodes: nodes, Edges: edges}
		}
	}
	_ = writeFrame(Frame{Type: typeStartAnalysisResponse, Data: resp})
}

func (h *Handler) handleCancel(frame Frame, writeFrame func(Frame) error) {
	var req cancelRequest
	if err := decodeData(frame.Data, &req); err != nil {
		_ = writeFrame(errorFrame("malformed cancel payload", errValue))
		return
	}
	if err := h.service.Cancel(req.JobID); err != nil {
		_ = writeFrame(errorFrame(err.Error(), classify(err)))
	}
}

// handleSubscribe attaches to the broker via the service, replays the
// backlog synchronously (so subscribe_response's last_committed_sequence
// and the replayed batches are ordered before any live batch), then
// forwards live updates on a background goroutine for the remainder of
// the connection's lifetime.
func (h *Handler) handleSubscribe(ctx context.Context, frame Frame, writeFrame func(Frame) error, wg *sync.WaitGroup) {
	var req subscribeRequest
	if err := decodeData(frame.Data, &req); err != nil {
		_ = writeFrame(errorFrame("malformed subscribe payload", errValue))
		return
	}

	sub, backlog, err := h.service.Subscribe(ctx, req.JobID, req.FromSequence)
	if err != nil {
		if errors.Is(err, broker.ErrResyncRequired) {
			_ = writeFrame(errorFrame("from_sequence is below the retained window, re-read the graph store", errResyncRequired))
			return
		}
		_ = writeFrame(errorFrame(err.Error(), classify(err)))
		return
	}

	lastSeq := req.FromSequence - 1
	if lastSeq < 0 {
		lastSeq = 0
	}
	for _, batch := range backlog {
		lastSeq = batch.Sequence
		_ = writeFrame(batchFrame(batch))
	}
	_ = writeFrame(Frame{Type: typeSubscribeResponse, Data: subscribeResponse{JobID: req.JobID, LastCommittedSequence: lastSeq}})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sub.Close()
		h.forwardLive(ctx, req.JobID, sub, writeFrame)
	}()
}

func (h *Handler) forwardLive(ctx context.Context, jobID string, sub *broker.Subscription, writeFrame func(Frame) error) {
	for {
		select {
		case batch, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeFrame(batchFrame(batch)); err != nil {
				if h.logger != nil {
					h.logger.Warn("wsapi: dropping slow subscriber", "jobId", jobID, "error", err.Error())
				}
				return
			}
			if batch.Status == codegraph.StatusComplete {
				_ = writeFrame(Frame{Type: typeAnalysisComplete, Data: analysisCompleteMessage{JobID: jobID, Statistics: statsOf(batch)}})
				return
			}
			if batch.Status == codegraph.StatusError {
				_ = writeFrame(Frame{Type: typeStatusUpdate, Data: statusUpdateMessage{Status: codegraph.JobFailed, AnalysisStats: statsOf(batch)}})
			}
		case <-ctx.Done():
			return
		}
	}
}

func batchFrame(batch codegraph.BatchUpdate) Frame {
	return Frame{
		Type: typeBatchUpdate,
		Data: batchUpdateMessage{
			Sequence:      batch.Sequence,
			Nodes:         batch.Nodes,
			Edges:         batch.Edges,
			AnalysisStats: statsOf(batch),
		},
	}
}

func statsOf(batch codegraph.BatchUpdate) codegraph.Statistics {
	if batch.Statistics == nil {
		return codegraph.Statistics{}
	}
	return *batch.Statistics
}

func errorFrame(message string, et errorType) Frame {
	return Frame{Type: typeError, Data: errorMessage{Message: message, ErrorType: et}}
}

// classify maps an internal ckb/internal/errors.ErrorCode onto the
// wire protocol's error_type enumeration; anything unrecognized
// degrades to ServerError.
func classify(err error) errorType {
	var ckbErr *ckberrors.CkbError
	if errors.As(err, &ckbErr) {
		switch ckbErr.Code {
		case ckberrors.ProjectNotFoundError:
			return errProjectNotFound
		case ckberrors.JobNotFoundError:
			return errJobNotFound
		case ckberrors.ProtocolError:
			return errValue
		}
	}
	return errServer
}

func decodeData(raw interface{}, target interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
