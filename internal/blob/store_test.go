package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/labnotebook/internal/model"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	return s
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPut_HashCorrectness(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for _, data := range [][]byte{{}, []byte("hello"), bytes.Repeat([]byte{0xff}, 4096)} {
		ref, err := s.Put(ctx, data, "application/octet-stream")
		require.NoError(t, err)

		sum := sha256.Sum256(data)
		assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), ref)
	}
}

func TestPut_RoundTripAndLayout(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	data := []byte(`{"answer":42}`)

	ref, err := s.Put(ctx, data, "application/json")
	require.NoError(t, err)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	h := strings.TrimPrefix(ref, RefPrefix)
	want := filepath.Join(s.Root(), "blobs", h[0:2], h[2:4], h)
	_, err = os.Stat(want)
	require.NoError(t, err, "blob not at sharded path")
	assert.Equal(t, "blobs/"+h[0:2]+"/"+h[2:4]+"/"+h, BlobPath(h))
	assert.Equal(t, "thumbnails/"+h[0:2]+"/"+h[2:4]+"/"+h+".thumb.jpg", ThumbnailPath(h))

	// Bare hex without the prefix resolves too.
	got, err = s.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPut_Idempotent(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	data := []byte("same bytes")

	ref1, err := s.Put(ctx, data, "text/plain")
	require.NoError(t, err)

	h := strings.TrimPrefix(ref1, RefPrefix)
	p := filepath.Join(s.Root(), filepath.FromSlash(BlobPath(h)))
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(p, old, old))

	ref2, err := s.Put(ctx, data, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	fi, err := os.Stat(p)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(old), "blob rewritten on second put")
}

func TestPut_ConcurrentIdenticalContent(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	data := bytes.Repeat([]byte("race"), 1<<12)

	var wg sync.WaitGroup
	refs := make([]string, 16)
	errs := make([]error, 16)
	for i := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs[i], errs[i] = s.Put(ctx, data, "application/octet-stream")
		}()
	}
	wg.Wait()

	for i := range refs {
		require.NoError(t, errs[i])
		assert.Equal(t, refs[0], refs[i])
	}

	h := strings.TrimPrefix(refs[0], RefPrefix)
	entries, err := os.ReadDir(filepath.Join(s.Root(), "blobs", h[0:2], h[2:4]))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files left behind")
}

func TestPut_CorruptImageStillSucceeds(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	ref, err := s.Put(ctx, []byte("\x89PNG\r\n\x1a\nnot really a png"), "image/png")
	require.NoError(t, err)
	assert.True(t, s.Exists(ref))

	_, err = s.Thumbnail(ctx, ref)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// pngHeader returns a PNG whose IHDR declares w x h pixels followed by an
// empty IDAT. Only the header is well formed.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		body := append([]byte(typ), data...)
		buf.Write(body)
		binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)
	chunk("IDAT", []byte{0x78, 0x9c, 0x03, 0x00, 0x00, 0x00, 0x00, 0x01})
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestMakeThumbnail_RejectsOversizedHeader(t *testing.T) {
	data := pngHeader(30000, 30000)

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.Width)

	_, err = makeThumbnail(data, DefaultThumbnailSize, DefaultThumbnailQuality, DefaultMaxThumbnailPixels)
	assert.ErrorIs(t, err, errTooLarge)

	_, err = makeThumbnail(pngBytes(t, 20, 20), DefaultThumbnailSize, DefaultThumbnailQuality, 399)
	assert.ErrorIs(t, err, errTooLarge)
	_, err = makeThumbnail(pngBytes(t, 20, 20), DefaultThumbnailSize, DefaultThumbnailQuality, 400)
	assert.NoError(t, err)
}

func TestPut_OversizedImageSkipsThumbnail(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	ref, err := s.Put(ctx, pngHeader(30000, 30000), "image/png")
	require.NoError(t, err)
	assert.True(t, s.Exists(ref))

	_, err = s.Thumbnail(ctx, ref)
	assert.ErrorIs(t, err, model.ErrNotFound)

	small := newTestStore(t, Options{MaxThumbnailPixels: 100})
	ref, err = small.Put(ctx, pngBytes(t, 20, 20), "image/png")
	require.NoError(t, err)
	_, err = small.Thumbnail(ctx, ref)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPut_Thumbnail(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"wide", 512, 256, 256, 128},
		{"tall", 100, 400, 64, 256},
		{"small stays", 40, 30, 40, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, Options{})
			ctx := context.Background()

			ref, err := s.Put(ctx, pngBytes(t, tt.w, tt.h), "image/png")
			require.NoError(t, err)

			thumb, err := s.Thumbnail(ctx, ref)
			require.NoError(t, err)
			img, err := jpeg.Decode(bytes.NewReader(thumb))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
		})
	}
}

func TestPut_AsyncThumbnail(t *testing.T) {
	s := newTestStore(t, Options{AsyncThumbnails: true, ThumbnailSize: 32})
	ctx := context.Background()

	ref, err := s.Put(ctx, pngBytes(t, 64, 64), "image/png")
	require.NoError(t, err)
	s.Wait()

	thumb, err := s.Thumbnail(ctx, ref)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
}

func TestPut_NonImageHasNoThumbnail(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	ref, err := s.Put(ctx, pngBytes(t, 10, 10), "application/octet-stream")
	require.NoError(t, err)

	_, err = s.Thumbnail(ctx, ref)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.Get(context.Background(), Digest([]byte("never stored")))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestParseRef(t *testing.T) {
	valid := strings.Repeat("ab", 32)
	tests := []struct {
		ref     string
		wantErr bool
	}{
		{"sha256:" + valid, false},
		{valid, false},
		{"sha256:" + strings.ToUpper(valid), true},
		{"sha256:abc", true},
		{"sha256:" + strings.Repeat("zz", 32), true},
		{"md5:" + valid, true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := ParseRef(tt.ref)
		if tt.wantErr {
			assert.ErrorIs(t, err, model.ErrInvalidInput, tt.ref)
		} else {
			assert.NoError(t, err, tt.ref)
		}
	}
}

func TestExistsSizeDelete(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	ref, err := s.Put(ctx, pngBytes(t, 20, 20), "image/png")
	require.NoError(t, err)

	assert.True(t, s.Exists(ref))
	assert.False(t, s.Exists("garbage"))

	size, err := s.Size(ref)
	require.NoError(t, err)
	data, _ := s.Get(ctx, ref)
	assert.Equal(t, int64(len(data)), size)

	existed, err := s.Delete(ref)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.False(t, s.Exists(ref))
	_, err = s.Thumbnail(ctx, ref)
	assert.ErrorIs(t, err, model.ErrNotFound)

	existed, err = s.Delete(ref)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.Size(ref)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{1000, 10, 256, 256, 3},
		{256, 256, 256, 256, 256},
		{3000, 1, 256, 256, 1},
		{257, 257, 256, 256, 256},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
	}
}
