// Package codegraph defines the data model shared by the analysis
// pipeline: CodeNode, Edge, BatchUpdate, Statistics, Project, and the
// job status and pass enums — the tagged
// union of §3, expressed as a discriminated struct rather than a type
// hierarchy (§9: inheritance of node types → sum type + shared base
// attributes).
package codegraph

import "time"

// NodeKind is the closed enumeration of §3.
type NodeKind string

const (
	KindProject    NodeKind = "Project"
	KindFile       NodeKind = "File"
	KindConfig     NodeKind = "Config"
	KindModule     NodeKind = "Module"
	KindNamespace  NodeKind = "Namespace"
	KindPackage    NodeKind = "Package"
	KindClass      NodeKind = "Class"
	KindInterface  NodeKind = "Interface"
	KindEnum       NodeKind = "Enum"
	KindFunction   NodeKind = "Function"
	KindMethod     NodeKind = "Method"
	KindVariable   NodeKind = "Variable"
	KindConstant   NodeKind = "Constant"
	KindParameter  NodeKind = "Parameter"
	KindAnnotation NodeKind = "Annotation"
	KindEvent      NodeKind = "Event"
	KindOperator   NodeKind = "Operator"
)

// EdgeType is the closed enumeration of §3.
type EdgeType string

const (
	EdgeContains     EdgeType = "CONTAINS"
	EdgeReferences   EdgeType = "REFERENCES"
	EdgeInheritsFrom EdgeType = "INHERITS_FROM"
	EdgeImplements   EdgeType = "IMPLEMENTS"
	EdgeImports      EdgeType = "IMPORTS"
	EdgePartOf       EdgeType = "PART_OF"
	EdgeDependsOn    EdgeType = "DEPENDS_ON"
	EdgeCalls        EdgeType = "CALLS"
	EdgeOverrides    EdgeType = "OVERRIDES"
	EdgeHasType      EdgeType = "HAS_TYPE"
)

// Range is a half-open-by-convention source span, 0-indexed per LSP.
type Range struct {
	StartLine int `json:"start_line"`
	StartChar int `json:"start_char"`
	EndLine   int `json:"end_line"`
	EndChar   int `json:"end_char"`
}

// CodeNode is the single sum-typed graph node; attribute access is by
// field, never by string key, and fields not meaningful for a given Kind
// are simply left zero.
type CodeNode struct {
	ID                  string   `json:"id"`
	Kind                NodeKind `json:"kind"`
	Name                string   `json:"name"`
	FullyQualifiedName  string   `json:"fully_qualified_name"`
	URI                 string   `json:"uri"`
	Range               Range    `json:"range"`
	// DefinitionVersionID is a secondary fingerprint over (kind, fqn, uri,
	// range), independent of ID, used to detect whether a definition's
	// site actually changed across a re-run.
	DefinitionVersionID string `json:"definition_version_id,omitempty"`
}

// Edge is uniquely identified by (Source, Target, Type).
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// BatchStatus is the closed enumeration of BatchUpdate.status.
type BatchStatus string

const (
	StatusStructureComplete  BatchStatus = "structure_complete"
	StatusReferencesComplete BatchStatus = "references_complete"
	StatusError              BatchStatus = "error"
	StatusComplete           BatchStatus = "complete"
)

// Statistics summarizes a job's progress; carried on BatchUpdate and in
// client protocol analysis_stats payloads.
type Statistics struct {
	ProcessedFiles int    `json:"processed_files"`
	TotalFiles     int    `json:"total_files"`
	TotalSymbols   int    `json:"total_symbols"`
	TotalEdges     int    `json:"total_edges"`
	Error          string `json:"error,omitempty"`
}

// BatchUpdate is the sequenced, atomic unit produced by the orchestrator
// and consumed by the graph store adapter and the subscription broker.
type BatchUpdate struct {
	JobID          string      `json:"job_id"`
	Sequence       int64       `json:"sequence"`
	Nodes          []CodeNode  `json:"nodes"`
	Edges          []Edge      `json:"edges"`
	ProcessedFiles []string    `json:"processed_files,omitempty"`
	FailedFiles    []string    `json:"failed_files,omitempty"`
	Status         BatchStatus `json:"status"`
	Statistics     *Statistics `json:"statistics,omitempty"`
}

// JobStatus is the closed enumeration of §4.K's state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Pass is the orchestrator's two-pass marker.
type Pass string

const (
	PassStructure  Pass = "structure"
	PassReferences Pass = "references"
	PassDone       Pass = "done"
)

// IsTerminal reports whether s is a terminal job status.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Project is the external ingestion contract's delivered project record
// (§6); the core treats root path as immutable for the job's duration.
type Project struct {
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	RootPath   string    `json:"root_path"`
	SourceType string    `json:"source_type"`
	CreatedAt  time.Time `json:"created_at"`
}
