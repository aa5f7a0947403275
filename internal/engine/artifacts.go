package engine

import (
	"context"
	"errors"
	"io"

	"github.com/yangwenmai/labnotebook/internal/blob"
	"github.com/yangwenmai/labnotebook/internal/model"
)

func (e *Engine) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	return e.repo.GetArtifact(ctx, id)
}

// ListArtifacts returns the artifacts recorded for an entry.
func (e *Engine) ListArtifacts(ctx context.Context, entryID string) ([]model.Artifact, error) {
	if _, err := e.repo.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	return e.repo.ListArtifacts(ctx, entryID)
}

// OpenArtifact returns the artifact record and a reader over its bytes. The
// caller closes the reader.
func (e *Engine) OpenArtifact(ctx context.Context, id string) (*model.Artifact, io.ReadSeekCloser, error) {
	a, err := e.repo.GetArtifact(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	r, err := e.blobs.Open(a.Hash)
	if err != nil {
		return nil, nil, err
	}
	return a, r, nil
}

// ArtifactThumbnail returns the JPEG thumbnail of an image artifact. A
// recorded thumbnail path whose file was never written is reported as not
// found.
func (e *Engine) ArtifactThumbnail(ctx context.Context, id string) ([]byte, error) {
	a, err := e.repo.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ThumbnailPath == nil {
		return nil, model.NotFound("thumbnail", id)
	}
	return e.blobs.Thumbnail(ctx, a.Hash)
}

// CollectGarbage removes blobs that no entry links to through an artifact
// record.
func (e *Engine) CollectGarbage(ctx context.Context, opts blob.GCOptions) (blob.GCReport, error) {
	report, err := e.blobs.GC(ctx, e.repo.HashReferenced, opts)
	if err != nil {
		return report, err
	}
	e.log.Info("blob gc finished",
		"scanned", report.Scanned, "skipped", report.Skipped, "removed", len(report.Removed),
		"bytes_freed", report.BytesFreed, "dry_run", opts.DryRun)
	return report, nil
}

// ContentInfo describes a blob in the content store and the artifact
// record that references it, if any.
type ContentInfo struct {
	Ref      string          `json:"ref"`
	Size     int64           `json:"size_bytes"`
	MIMEType string          `json:"mime_type,omitempty"`
	Artifact *model.Artifact `json:"artifact,omitempty"`
}

// StoreContent puts data into the content store without recording an
// artifact. Unreferenced content is removed by the next gc pass once it is
// older than the configured minimum age.
func (e *Engine) StoreContent(ctx context.Context, data []byte, mimeType string) (ContentInfo, error) {
	ref, err := e.blobs.Put(ctx, data, mimeType)
	if err != nil {
		return ContentInfo{}, err
	}
	return ContentInfo{Ref: ref, Size: int64(len(data)), MIMEType: mimeType}, nil
}

// ContentInfo looks up a blob by content reference.
func (e *Engine) ContentInfo(ctx context.Context, ref string) (ContentInfo, error) {
	h, err := blob.ParseRef(ref)
	if err != nil {
		return ContentInfo{}, err
	}
	info := ContentInfo{Ref: blob.RefPrefix + h}
	if info.Size, err = e.blobs.Size(info.Ref); err != nil {
		return ContentInfo{}, err
	}
	a, err := e.repo.GetArtifactByHash(ctx, info.Ref)
	switch {
	case err == nil:
		info.Artifact = a
		info.MIMEType = a.Type
	case !errors.Is(err, model.ErrNotFound):
		return ContentInfo{}, err
	}
	return info, nil
}

// OpenContent returns the description of a blob and a reader over its
// bytes. The caller closes the reader.
func (e *Engine) OpenContent(ctx context.Context, ref string) (ContentInfo, io.ReadSeekCloser, error) {
	info, err := e.ContentInfo(ctx, ref)
	if err != nil {
		return ContentInfo{}, nil, err
	}
	r, err := e.blobs.Open(info.Ref)
	if err != nil {
		return ContentInfo{}, nil, err
	}
	return info, r, nil
}

// ContentThumbnail returns the thumbnail derived for a blob.
func (e *Engine) ContentThumbnail(ctx context.Context, ref string) ([]byte, error) {
	return e.blobs.Thumbnail(ctx, ref)
}
