package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Archive strategies
const (
	ArchiveNone       = "none"
	ArchiveRecompress = "recompress"
)

// Artifact is a stored output file produced by an entry's execution. The
// bytes live in the content store under Hash.
type Artifact struct {
	ID                string  `json:"id"`
	EntryID           string  `json:"entry_id"`
	Type              string  `json:"type"`
	Hash              string  `json:"hash"`
	Size              int64   `json:"size_bytes"`
	Path              string  `json:"path"`
	ThumbnailPath     *string `json:"thumbnail_path,omitempty"`
	Archived          bool    `json:"archived"`
	ArchiveStrategy   string  `json:"archive_strategy"`
	OriginalSizeBytes *int64  `json:"original_size_bytes,omitempty"`
	Metadata          Object  `json:"metadata"`
	CreatedAt         string  `json:"created_at"`
}

// ArtifactID derives the artifact identifier from a content reference.
func ArtifactID(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "art-" + hex.EncodeToString(sum[:])[:12]
}
