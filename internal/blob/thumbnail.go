package blob

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	// Decoders registered for image.Decode.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Thumbnail defaults.
const (
	DefaultThumbnailSize    = 256
	DefaultThumbnailQuality = 85
	// DefaultMaxThumbnailPixels bounds the decoded size of a thumbnail
	// source. Images declaring more pixels are not decoded.
	DefaultMaxThumbnailPixels = 89_478_485
)

// errTooLarge is returned for images whose header declares more pixels than
// allowed.
var errTooLarge = errors.New("image too large to thumbnail")

// makeThumbnail decodes data, shrinks it to fit within maxDim x maxDim keeping
// the aspect ratio, flattens transparency onto white and encodes a JPEG.
// Images already within bounds keep their size. The header is checked first
// and images declaring more than maxPixels pixels are rejected before any
// pixel buffer is allocated.
func makeThumbnail(data []byte, maxDim, quality, maxPixels int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("empty image")
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d", errTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("empty image")
	}

	w, h := fitWithin(b.Dx(), b.Dy(), maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fitWithin returns the largest size not exceeding maxDim on either side with
// the aspect ratio of w x h. It never enlarges.
func fitWithin(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	scale := math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h))
	tw := max(1, int(math.Round(float64(w)*scale)))
	th := max(1, int(math.Round(float64(h)*scale)))
	return min(tw, maxDim), min(th, maxDim)
}
