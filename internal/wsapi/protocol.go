// Package wsapi implements the client protocol's message channel: a
// single bidirectional connection multiplexing start_analysis,
// subscribe, cancel and ping requests against many jobs, and fanning
// out batch_update/status_update/analysis_complete frames in reply.
// Transport sits behind a small interface so the handler is testable
// without a real socket; the production transport is a
// github.com/gorilla/websocket connection.
package wsapi

import "ckb/internal/codegraph"

// Frame is the envelope every client<->server message travels in.
// Data is kept as json.RawMessage-compatible interface{} so Handler can
// decode it into the concrete type for msg.Type after dispatch.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Client -> server payloads.

type startAnalysisRequest struct {
	ProjectID    string `json:"project_id"`
	AnalyzerType string `json:"analyzer_type"`
}

type subscribeRequest struct {
	JobID        string `json:"job_id"`
	FromSequence int64  `json:"from_sequence"`
}

type cancelRequest struct {
	JobID string `json:"job_id"`
}

// Server -> client payloads.

type startAnalysisResponse struct {
	JobID         string               `json:"job_id"`
	Status        codegraph.JobStatus  `json:"status"`
	AnalysisStats codegraph.Statistics `json:"analysis_stats"`
	GraphData     *graphData           `json:"graph_data,omitempty"`
}

type graphData struct {
	Nodes []codegraph.CodeNode `json:"nodes"`
	Edges []codegraph.Edge     `json:"edges"`
}

type batchUpdateMessage struct {
	Sequence      int64                `json:"sequence"`
	Nodes         []codegraph.CodeNode `json:"nodes"`
	Edges         []codegraph.Edge     `json:"edges"`
	AnalysisStats codegraph.Statistics `json:"analysis_stats"`
}

type statusUpdateMessage struct {
	Status        codegraph.JobStatus  `json:"status"`
	AnalysisStats codegraph.Statistics `json:"analysis_stats"`
}

type subscribeResponse struct {
	JobID                 string `json:"job_id"`
	LastCommittedSequence int64  `json:"last_committed_sequence"`
}

type analysisCompleteMessage struct {
	JobID      string               `json:"job_id"`
	Statistics codegraph.Statistics `json:"statistics"`
}

// errorType is the closed enumeration of §6's error frame error_type.
type errorType string

const (
	errProjectNotFound errorType = "ProjectNotFoundError"
	errJobNotFound     errorType = "JobNotFoundError"
	errValue           errorType = "ValueError"
	errServer          errorType = "ServerError"
	errSlowConsumer    errorType = "SlowConsumer"
	errResyncRequired  errorType = "ResyncRequired"
)

type errorMessage struct {
	Message   string    `json:"message"`
	ErrorType errorType `json:"error_type"`
}

// Message type discriminators for Frame.Type.
const (
	typeStartAnalysis         = "start_analysis"
	typeSubscribe             = "subscribe"
	typeCancel                = "cancel"
	typePing                  = "ping"
	typeStartAnalysisResponse = "start_analysis_response"
	typeBatchUpdate           = "batch_update"
	typeStatusUpdate          = "status_update"
	typeSubscribeResponse     = "subscribe_response"
	typeAnalysisComplete      = "analysis_complete"
	typeError                 = "error"
	typePong                  = "pong"
)
