package codegraph

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// OpenRepository is the core's only concession to the external
// ingestion contract (§6): a convenience constructor for local test
// fixtures and single-machine CLI use. It does not clone, fetch, or
// validate a remote source — callers integrating a real ingestion
// pipeline construct Project directly with whatever project_id and
// source_type their system already tracks.
func OpenRepository(root string) (Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Project{}, err
	}
	return Project{
		ProjectID:  uuid.New().String(),
		Name:       filepath.Base(abs),
		RootPath:   abs,
		SourceType: "local",
		CreatedAt:  time.Now().UTC(),
	}, nil
}
