package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
)

// Thumbnail produces a small preview JPEG/PNG of data at the given
// width, preserving aspect ratio. Used by PostExecutor to attach a cheap
// preview of a pinned post's source image to that item's result
// (ThumbnailData/ThumbnailMime), distinct from its cap-driven downscale (which
// targets a byte budget, not a fixed preview size).
func Thumbnail(data []byte, width int, outputExt string) ([]byte, string, error) {
	if width <= 0 {
		width = 160
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode source image: %w", err)
	}
	if src.Bounds().Dx() == 0 || src.Bounds().Dy() == 0 {
		return nil, "", fmt.Errorf("invalid image dimensions")
	}

	height := int(float64(src.Bounds().Dy()) * float64(width) / float64(src.Bounds().Dx()))
	if height == 0 {
		height = width
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	buf := &bytes.Buffer{}
	switch strings.ToLower(outputExt) {
	case ".png":
		if err := png.Encode(buf, dst); err != nil {
			return nil, "", fmt.Errorf("encode thumbnail png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		if err := jpeg.Encode(buf, dst, &jpeg.Options{Quality: 85}); err != nil {
			return nil, "", fmt.Errorf("encode thumbnail jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}
