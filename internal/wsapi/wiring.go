package wsapi

import (
	"ckb/internal/graphstore"
	"ckb/internal/orchestrator"
)

// Compile-time assertions that the production collaborators satisfy
// the interfaces this package accepts, so a signature drift in either
// package surfaces here instead of at cmd/ckb wiring time.
var (
	_ AnalysisService = (*orchestrator.Orchestrator)(nil)
	_ GraphReader     = (*graphstore.Store)(nil)
)
