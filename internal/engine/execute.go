package engine

import (
	"context"
	"errors"
	"time"

	"github.com/yangwenmai/labnotebook/internal/blob"
	"github.com/yangwenmai/labnotebook/internal/integration"
	"github.com/yangwenmai/labnotebook/internal/model"
)

// Execute runs the integration registered for the entry's type.
//
// The entry is persisted as running before dispatch. On success the outputs
// are copied, the status becomes completed and every returned artifact is
// ingested through the content store. On failure the error is recorded, the
// status becomes failed, the entry is persisted and the error is returned:
// *model.UnknownIntegrationError when no integration is registered,
// *model.IntegrationError when the integration failed, or the storage error
// that stopped artifact ingestion.
//
// Only status, outputs, execution, metrics and updated_at are written, so
// fields edited while the integration runs are kept. The returned entry is
// re-read after the final write.
func (e *Engine) Execute(ctx context.Context, id string) (*model.Entry, error) {
	entry, err := e.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	entry.Status = model.StatusRunning
	entry.Execution = &model.Execution{
		StartedAt: model.FormatTime(start),
		Status:    model.ExecutionRunning,
	}
	entry.UpdatedAt = entry.Execution.StartedAt
	if err := e.repo.RecordExecution(ctx, *entry); err != nil {
		return nil, err
	}
	e.log.Info("executing entry", "entry_id", entry.ID, "entry_type", entry.EntryType)

	runErr := e.run(ctx, entry)

	entry.Execution.CompletedAt = model.Now()
	entry.UpdatedAt = entry.Execution.CompletedAt
	if runErr != nil {
		entry.Status = model.StatusFailed
		entry.Execution.Status = model.ExecutionError
		entry.Execution.Error = runErr.Error()
	} else {
		entry.Status = model.StatusCompleted
		entry.Execution.Status = model.ExecutionSuccess
	}

	// The outcome must be recorded even when ctx was cancelled mid-run.
	persistCtx := context.WithoutCancel(ctx)
	if err := e.repo.RecordExecution(persistCtx, *entry); err != nil {
		e.log.Error("failed to persist execution result", "entry_id", entry.ID, "error", err)
		return nil, errors.Join(runErr, err)
	}
	if fresh, err := e.repo.GetEntry(persistCtx, entry.ID); err == nil {
		entry = fresh
	} else {
		e.log.Warn("reload after execution failed", "entry_id", entry.ID, "error", err)
	}

	e.metrics.ExecutionFinished(entry.EntryType, entry.Status, time.Since(start))
	if runErr != nil {
		e.log.Warn("entry failed", "entry_id", entry.ID, "error", runErr)
		return entry, runErr
	}
	e.log.Info("entry completed", "entry_id", entry.ID, "duration", time.Since(start))
	return entry, nil
}

// run dispatches the entry and ingests the produced artifacts. It mutates
// entry.Outputs on success.
func (e *Engine) run(ctx context.Context, entry *model.Entry) error {
	impl, err := e.registry.Resolve(entry.EntryType)
	if err != nil {
		return err
	}
	res, err := impl.Execute(ctx, entry.Inputs.Clone())
	if err != nil {
		return &model.IntegrationError{EntryType: entry.EntryType, Err: err}
	}
	if res == nil {
		res = &integration.Result{}
	}
	entry.Outputs = res.Outputs
	if entry.Outputs == nil {
		entry.Outputs = model.Object{}
	}
	for _, a := range res.Artifacts {
		if _, err := e.addArtifact(ctx, entry.ID, a); err != nil {
			return err
		}
	}
	return nil
}

// AddArtifact stores data in the content store and records an artifact for
// the entry. Identical bytes share a single record; every entry that stores
// them is linked to it and lists it.
func (e *Engine) AddArtifact(ctx context.Context, entryID string, a integration.ArtifactData) (model.Artifact, error) {
	if _, err := e.repo.GetEntry(ctx, entryID); err != nil {
		return model.Artifact{}, err
	}
	return e.addArtifact(ctx, entryID, a)
}

func (e *Engine) addArtifact(ctx context.Context, entryID string, a integration.ArtifactData) (model.Artifact, error) {
	ref, err := e.blobs.Put(ctx, a.Data, a.Type)
	if err != nil {
		return model.Artifact{}, err
	}
	h, err := blob.ParseRef(ref)
	if err != nil {
		return model.Artifact{}, err
	}
	meta := a.Metadata
	if meta == nil {
		meta = model.Object{}
	}
	rec := model.Artifact{
		ID:              model.ArtifactID(ref),
		EntryID:         entryID,
		Type:            a.Type,
		Hash:            ref,
		Size:            int64(len(a.Data)),
		Path:            blob.BlobPath(h),
		ArchiveStrategy: model.ArchiveNone,
		Metadata:        meta,
		CreatedAt:       model.Now(),
	}
	// Recorded whether or not a thumbnail was produced.
	tp := blob.ThumbnailPath(h)
	rec.ThumbnailPath = &tp

	stored, err := e.repo.InsertArtifact(ctx, rec)
	if err != nil {
		return model.Artifact{}, err
	}
	// A gc pass between Put and the insert may have removed the blob while
	// it looked unreferenced. The record now protects it, so write it back.
	if !e.blobs.Exists(ref) {
		e.log.Warn("blob removed during ingest, restoring", "ref", ref, "entry_id", entryID)
		if _, err := e.blobs.Put(ctx, a.Data, a.Type); err != nil {
			return model.Artifact{}, err
		}
	}
	return stored, nil
}

// Enqueue queues an entry for background execution.
func (e *Engine) Enqueue(ctx context.Context, id string) (int64, error) {
	if e.queue == nil {
		return 0, errors.New("execution queue not configured")
	}
	if _, err := e.repo.GetEntry(ctx, id); err != nil {
		return 0, err
	}
	qid, err := e.queue.EnqueueExecution(ctx, id)
	if err != nil {
		return 0, err
	}
	e.log.Info("entry queued", "entry_id", id, "queue_id", qid)
	return qid, nil
}
