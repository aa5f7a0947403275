package blob

import (
	"context"
	"io/fs"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Stats summarizes the blobs held by a store.
type Stats struct {
	Blobs int   `json:"blobs"`
	Bytes int64 `json:"bytes"`
}

// Stats counts stored blobs and their total size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.Walk(ctx, func(_ string, info fs.FileInfo) error {
		st.Blobs++
		st.Bytes += info.Size()
		return nil
	})
	return st, err
}

// Mismatch is a blob whose bytes no longer hash to its reference.
type Mismatch struct {
	Ref    string `json:"ref"`
	Actual string `json:"actual"`
}

// Verify rehashes every blob and returns those whose content does not match
// their reference, ordered by reference.
func (s *Store) Verify(ctx context.Context) ([]Mismatch, error) {
	var refs []string
	if err := s.Walk(ctx, func(ref string, _ fs.FileInfo) error {
		refs = append(refs, ref)
		return nil
	}); err != nil {
		return nil, err
	}

	results := make([]*Mismatch, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, ref := range refs {
		g.Go(func() error {
			data, err := s.Get(gctx, ref)
			if err != nil {
				return err
			}
			if actual := Digest(data); actual != ref {
				results[i] = &Mismatch{Ref: ref, Actual: actual}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Mismatch
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// GCReport describes the outcome of a garbage collection pass.
type GCReport struct {
	Scanned    int      `json:"scanned"`
	Skipped    int      `json:"skipped"`
	Removed    []string `json:"removed"`
	BytesFreed int64    `json:"bytes_freed"`
	DryRun     bool     `json:"dry_run"`
}

// GCOptions controls a garbage collection pass.
type GCOptions struct {
	// DryRun reports what would be removed without deleting anything.
	DryRun bool
	// MinAge keeps blobs modified more recently than this. An ingest stores
	// the blob before recording the artifact that references it.
	MinAge time.Duration
}

// GC removes every blob for which referenced returns false and that is at
// least opts.MinAge old. GC is never triggered implicitly.
func (s *Store) GC(ctx context.Context, referenced func(ctx context.Context, ref string) (bool, error), opts GCOptions) (GCReport, error) {
	report := GCReport{DryRun: opts.DryRun, Removed: []string{}}
	var mu sync.Mutex
	var orphans []string
	sizes := map[string]int64{}
	cutoff := time.Now().Add(-opts.MinAge)

	if err := s.Walk(ctx, func(ref string, info fs.FileInfo) error {
		report.Scanned++
		if opts.MinAge > 0 && info.ModTime().After(cutoff) {
			report.Skipped++
			return nil
		}
		ok, err := referenced(ctx, ref)
		if err != nil {
			return err
		}
		if !ok {
			orphans = append(orphans, ref)
			sizes[ref] = info.Size()
		}
		return nil
	}); err != nil {
		return report, err
	}

	if opts.DryRun {
		for _, ref := range orphans {
			report.Removed = append(report.Removed, ref)
			report.BytesFreed += sizes[ref]
		}
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, ref := range orphans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			existed, err := s.Delete(ref)
			if err != nil {
				return err
			}
			if existed {
				mu.Lock()
				report.Removed = append(report.Removed, ref)
				report.BytesFreed += sizes[ref]
				mu.Unlock()
				s.log.Info("blob collected", "ref", ref, "bytes", sizes[ref])
			}
			return nil
		})
	}
	err := g.Wait()
	slices.Sort(report.Removed)
	return report, err
}
