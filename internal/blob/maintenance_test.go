package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	_, err := s.Put(ctx, []byte("one"), "text/plain")
	require.NoError(t, err)
	_, err = s.Put(ctx, []byte("three"), "text/plain")
	require.NoError(t, err)
	_, err = s.Put(ctx, []byte("one"), "text/plain")
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Blobs: 2, Bytes: 8}, st)
}

func TestVerify(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	good, err := s.Put(ctx, []byte("good"), "text/plain")
	require.NoError(t, err)
	bad, err := s.Put(ctx, []byte("bad"), "text/plain")
	require.NoError(t, err)

	h := strings.TrimPrefix(bad, RefPrefix)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), filepath.FromSlash(BlobPath(h))), []byte("tampered"), 0o644))

	mismatches, err := s.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, bad, mismatches[0].Ref)
	assert.Equal(t, Digest([]byte("tampered")), mismatches[0].Actual)
	assert.True(t, s.Exists(good))
}

func TestGC(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	keep, err := s.Put(ctx, []byte("keep"), "text/plain")
	require.NoError(t, err)
	drop, err := s.Put(ctx, []byte("drop me"), "text/plain")
	require.NoError(t, err)

	referenced := func(_ context.Context, ref string) (bool, error) { return ref == keep, nil }

	report, err := s.GC(ctx, referenced, GCOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{drop}, report.Removed)
	assert.True(t, s.Exists(drop), "dry run deleted a blob")

	report, err = s.GC(ctx, referenced, GCOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, []string{drop}, report.Removed)
	assert.Equal(t, int64(len("drop me")), report.BytesFreed)
	assert.False(t, s.Exists(drop))
	assert.True(t, s.Exists(keep))
}

func TestGC_MinAgeKeepsRecentBlobs(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	old, err := s.Put(ctx, []byte("old orphan"), "text/plain")
	require.NoError(t, err)
	fresh, err := s.Put(ctx, []byte("fresh orphan"), "text/plain")
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	h := strings.TrimPrefix(old, RefPrefix)
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), filepath.FromSlash(BlobPath(h))), past, past))

	none := func(context.Context, string) (bool, error) { return false, nil }
	report, err := s.GC(ctx, none, GCOptions{MinAge: 10 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{old}, report.Removed)
	assert.False(t, s.Exists(old))
	assert.True(t, s.Exists(fresh))
}
