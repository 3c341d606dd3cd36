package main

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"ckb/internal/codegraph"
)

// ckbNamespace is a fixed UUID namespace so resolveProject derives the
// same project_id for the same repository path across process
// restarts — required for checkpoint/graph-store resume to find its
// own prior state. codegraph.OpenRepository's doc comment calls this
// out explicitly: real integrations construct Project directly rather
// than taking its random per-call id.
var ckbNamespace = uuid.MustParse("5f1c2b8a-8b0a-4c7d-9a6b-1d2e3f4a5b6c")

// resolveProject builds the stable Project record for repoRoot.
func resolveProject(repoRoot string) (codegraph.Project, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return codegraph.Project{}, err
	}
	return codegraph.Project{
		ProjectID:  uuid.NewSHA1(ckbNamespace, []byte(abs)).String(),
		Name:       filepath.Base(abs),
		RootPath:   abs,
		SourceType: "local",
		CreatedAt:  time.Now().UTC(),
	}, nil
}
