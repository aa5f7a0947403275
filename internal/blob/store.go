// Package blob implements the content-addressable blob store. Blobs are
// identified by the SHA-256 digest of their bytes and sharded on disk by the
// first two byte pairs of the hex digest. Image blobs get a best-effort JPEG
// thumbnail stored under a parallel tree.
package blob

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/yangwenmai/labnotebook/internal/metrics"
	"github.com/yangwenmai/labnotebook/internal/model"
)

// Options configures a Store.
type Options struct {
	// ThumbnailSize bounds both thumbnail dimensions. Defaults to 256.
	ThumbnailSize int
	// ThumbnailQuality is the JPEG quality of thumbnails. Defaults to 85.
	ThumbnailQuality int
	// MaxThumbnailPixels skips thumbnails for images whose header declares
	// more pixels. Defaults to DefaultMaxThumbnailPixels.
	MaxThumbnailPixels int
	// AsyncThumbnails derives thumbnails in a background goroutine. Wait
	// blocks until pending thumbnails are done.
	AsyncThumbnails bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Store is a content-addressable blob store rooted at a directory.
// It is safe for concurrent use.
type Store struct {
	root    string
	opts    Options
	log     *slog.Logger
	writes  singleflight.Group
	pending sync.WaitGroup
}

// Open prepares the blob and thumbnail trees under root.
func Open(root string, opts Options) (*Store, error) {
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = DefaultThumbnailSize
	}
	if opts.ThumbnailQuality <= 0 || opts.ThumbnailQuality > 100 {
		opts.ThumbnailQuality = DefaultThumbnailQuality
	}
	if opts.MaxThumbnailPixels <= 0 {
		opts.MaxThumbnailPixels = DefaultMaxThumbnailPixels
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	for _, dir := range []string{"blobs", "thumbnails"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, &model.StorageError{Op: "init", Err: err}
		}
	}
	return &Store{root: root, opts: opts, log: log.With("component", "blob")}, nil
}

// Root returns the directory the store lives in.
func (s *Store) Root() string { return s.root }

func (s *Store) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Put stores data and returns its content reference. Storing bytes that are
// already present is a no-op. Concurrent puts of the same content are
// collapsed into one write, and a write racing a writer in another process
// resolves by atomic rename of identical bytes.
//
// Image payloads also get a thumbnail; thumbnail failures are logged and
// never fail Put.
func (s *Store) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := Digest(data)
	h := ref[len(RefPrefix):]

	_, err, _ := s.writes.Do(h, func() (any, error) {
		written, err := s.write(h, data)
		if err != nil {
			return nil, err
		}
		s.opts.Metrics.BlobStored(!written, len(data))
		if written && IsImage(mimeType) {
			if s.opts.AsyncThumbnails {
				s.pending.Add(1)
				go func() {
					defer s.pending.Done()
					s.thumbnail(h, data)
				}()
			} else {
				s.thumbnail(h, data)
			}
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

// write persists data under its digest and reports whether bytes were
// written.
func (s *Store) write(h string, data []byte) (bool, error) {
	dst := s.abs(BlobPath(h))
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, &model.StorageError{Op: "stat", Ref: RefPrefix + h, Err: err}
	}
	if err := writeAtomic(dst, data); err != nil {
		return false, &model.StorageError{Op: "write", Ref: RefPrefix + h, Err: err}
	}
	return true, nil
}

// writeAtomic writes data to a temporary file next to dst and renames it
// into place.
func writeAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func (s *Store) thumbnail(h string, data []byte) {
	thumb, err := makeThumbnail(data, s.opts.ThumbnailSize, s.opts.ThumbnailQuality, s.opts.MaxThumbnailPixels)
	if err == nil {
		err = writeAtomic(s.abs(ThumbnailPath(h)), thumb)
	}
	if err != nil {
		s.opts.Metrics.ThumbnailFailed()
		s.log.Warn("thumbnail skipped", "ref", RefPrefix+h, "error", err)
	}
}

// Wait blocks until all background thumbnails have finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

// Get returns the bytes stored under ref.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	return s.read(ctx, ref, BlobPath, "blob")
}

// Thumbnail returns the thumbnail derived for ref.
func (s *Store) Thumbnail(ctx context.Context, ref string) ([]byte, error) {
	return s.read(ctx, ref, ThumbnailPath, "thumbnail")
}

func (s *Store) read(ctx context.Context, ref string, pathFn func(string) string, kind string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.abs(pathFn(h)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.NotFound(kind, RefPrefix+h)
	}
	if err != nil {
		return nil, &model.StorageError{Op: "read", Ref: RefPrefix + h, Err: err}
	}
	return data, nil
}

// Open returns a reader over the blob stored under ref. The caller closes it.
func (s *Store) Open(ref string) (io.ReadSeekCloser, error) {
	h, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.abs(BlobPath(h)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.NotFound("blob", RefPrefix+h)
	}
	if err != nil {
		return nil, &model.StorageError{Op: "open", Ref: RefPrefix + h, Err: err}
	}
	return f, nil
}

// Exists reports whether a blob is stored under ref. Malformed references
// never exist.
func (s *Store) Exists(ref string) bool {
	h, err := ParseRef(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(s.abs(BlobPath(h)))
	return err == nil
}

// Size returns the stored size of the blob under ref.
func (s *Store) Size(ref string) (int64, error) {
	h, err := ParseRef(ref)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(s.abs(BlobPath(h)))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, model.NotFound("blob", RefPrefix+h)
	}
	if err != nil {
		return 0, &model.StorageError{Op: "stat", Ref: RefPrefix + h, Err: err}
	}
	return fi.Size(), nil
}

// Delete removes the blob and its thumbnail and reports whether the blob
// existed. It does not check whether anything still references the content.
func (s *Store) Delete(ref string) (bool, error) {
	h, err := ParseRef(ref)
	if err != nil {
		return false, err
	}
	existed := true
	if err := os.Remove(s.abs(BlobPath(h))); errors.Is(err, fs.ErrNotExist) {
		existed = false
	} else if err != nil {
		return false, &model.StorageError{Op: "delete", Ref: RefPrefix + h, Err: err}
	}
	if err := os.Remove(s.abs(ThumbnailPath(h))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return existed, &model.StorageError{Op: "delete thumbnail", Ref: RefPrefix + h, Err: err}
	}
	return existed, nil
}

// Walk calls fn for every stored blob in lexical order of its digest.
// Temporary files are skipped. Errors returned by fn stop the walk and are
// returned unchanged.
func (s *Store) Walk(ctx context.Context, fn func(ref string, info fs.FileInfo) error) error {
	base := filepath.Join(s.root, "blobs")
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &model.StorageError{Op: "walk", Err: err}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, perr := ParseRef(d.Name()); perr != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return &model.StorageError{Op: "walk", Err: err}
		}
		return fn(RefPrefix+d.Name(), info)
	})
}
