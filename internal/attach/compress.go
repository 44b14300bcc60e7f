package attach

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/matheus3301/chatsync/internal/model"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// File is a file selected by the user.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Size returns the file size in bytes.
func (f File) Size() int64 { return int64(len(f.Data)) }

// Constraints control image recompression.
type Constraints struct {
	Threshold    int64 // images at or below this size are left alone
	MaxDimension int   // longest side after scaling
	Quality      int   // JPEG quality, 1-100
}

// MaxPixels bounds the decoded size of an image considered for
// recompression. Larger images are sent as they are.
const MaxPixels = 50_000_000

var errTooLarge = errors.New("image too large to decode")

// DefaultConstraints recompress images above 1MB to at most 1920px at quality 80.
var DefaultConstraints = Constraints{Threshold: 1 * mb, MaxDimension: 1920, Quality: 80}

// Compress returns a smaller JPEG rendition of an image above the threshold.
// Every failure returns f unchanged. Videos and documents are never touched.
func Compress(f File, c Constraints) (out File) {
	out = f
	defer func() {
		if r := recover(); r != nil {
			out = f
		}
	}()
	if f.Size() <= c.Threshold {
		return f
	}
	if kind, _ := Classify(f.Name, f.MIME); kind != model.AttachmentImage {
		return f
	}
	// Re-encoding an animation would keep only its first frame.
	if strings.EqualFold(f.MIME, "image/gif") || strings.EqualFold(filepath.Ext(f.Name), ".gif") {
		return f
	}
	data, err := recompress(f.Data, c)
	if err != nil || int64(len(data)) >= f.Size() {
		return f
	}
	return File{
		Name: strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) + ".jpg",
		MIME: "image/jpeg",
		Data: data,
	}
}

func recompress(data []byte, c Constraints) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", errTooLarge, cfg.Width, cfg.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	dst := flatten(src, c.MaxDimension)

	quality := c.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultConstraints.Quality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// flatten fits src inside a maxDim square, keeping its aspect ratio, and
// paints it over white since JPEG has no alpha channel.
func flatten(src image.Image, maxDim int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		if w >= h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}
	return dst
}
