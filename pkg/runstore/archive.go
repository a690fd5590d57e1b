package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Ingenimax/workflow-engine/pkg/storage"
	"github.com/Ingenimax/workflow-engine/pkg/workflow"
)

// Archive writes finished runs as JSON documents to blob storage. It ignores
// non-terminal updates, so it is meant to sit behind Multi as a secondary.
type Archive struct {
	blobs storage.BlobStorage
}

// NewArchive creates an archive on top of blob storage
func NewArchive(blobs storage.BlobStorage) *Archive {
	return &Archive{blobs: blobs}
}

// ObjectName returns the blob name a run is archived under
func ObjectName(runID string) string {
	return runID + ".json"
}

// Append implements Store. Runs are only archived once finished.
func (a *Archive) Append(ctx context.Context, run *workflow.Run) error {
	return a.Update(ctx, run)
}

// Update implements Store
func (a *Archive) Update(ctx context.Context, run *workflow.Run) error {
	if !run.Status.Terminal() {
		return nil
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	tags := map[string]string{"status": string(run.Status), "workflow_id": run.WorkflowID}
	if run.OrgID != "" {
		tags["org_id"] = run.OrgID
	}
	_, err = a.blobs.Store(ctx, data, storage.ObjectMetadata{
		Name:        ObjectName(run.ID),
		ContentType: "application/json",
		Tags:        tags,
		CreatedAt:   run.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to archive run %s: %w", run.ID, err)
	}
	return nil
}

// Get implements Store
func (a *Archive) Get(ctx context.Context, id string) (*workflow.Run, error) {
	data, err := a.blobs.Get(ctx, ObjectName(id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var run workflow.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode archived run %s: %w", id, err)
	}
	return &run, nil
}
