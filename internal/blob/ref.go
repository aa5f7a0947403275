package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// RefPrefix precedes the hex digest in every content reference.
const RefPrefix = "sha256:"

// Digest returns the content reference for data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return RefPrefix + hex.EncodeToString(sum[:])
}

// ParseRef strips an optional "sha256:" prefix and returns the 64 character
// lowercase hex digest.
func ParseRef(ref string) (string, error) {
	h := strings.TrimPrefix(ref, RefPrefix)
	if len(h) != sha256.Size*2 {
		return "", model.InvalidInput("content reference %q: want %d hex characters", ref, sha256.Size*2)
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", model.InvalidInput("content reference %q: not lowercase hex", ref)
		}
	}
	return h, nil
}

// BlobPath returns the slash-separated path of a blob relative to the store
// root: blobs/{hex[0:2]}/{hex[2:4]}/{hex}.
func BlobPath(h string) string {
	return path.Join("blobs", h[0:2], h[2:4], h)
}

// ThumbnailPath returns the slash-separated path of a thumbnail relative to
// the store root: thumbnails/{hex[0:2]}/{hex[2:4]}/{hex}.thumb.jpg.
func ThumbnailPath(h string) string {
	return path.Join("thumbnails", h[0:2], h[2:4], h+".thumb.jpg")
}

// IsImage reports whether mimeType names an image payload.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}
