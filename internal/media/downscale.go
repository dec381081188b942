// Package media holds the image transforms PostExecutor and the job
// monitor SSE preview need: downscaling an oversized upload to fit a
// byte cap (grounded on the teacher's worker/image_handler.go resize
// pipeline) and a cheap local thumbnail path (grounded on
// worker/local_resize_handler.go) kept for the distinct case of
// rendering a quick preview of a pinned post's image.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// DownscaleToFit re-encodes data as JPEG at decreasing scale until it
// fits under maxBytes, capping width at maxWidth. Returns BlobTooLarge
// semantics (via a plain error; callers wrap it) if no step table brings
// the image under the cap — this replaces the teacher's truncate-as-
// last-resort path, which spec.md §9 flags as a bug not to reproduce.
func DownscaleToFit(data []byte, maxBytes, maxWidth int) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	width := img.Bounds().Dx()
	if width > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
		width = maxWidth
	}

	for _, quality := range []int{80, 65, 50, 35} {
		buf := &bytes.Buffer{}
		if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, "", fmt.Errorf("encode image at quality %d: %w", quality, err)
		}
		if buf.Len() <= maxBytes {
			return buf.Bytes(), "image/jpeg", nil
		}
	}

	// Still too large even at the lowest quality step: keep shrinking
	// width geometrically rather than emitting invalid truncated bytes.
	for width = width / 2; width >= 64; width /= 2 {
		resized := imaging.Resize(img, width, 0, imaging.Lanczos)
		buf := &bytes.Buffer{}
		if err := imaging.Encode(buf, resized, imaging.JPEG, imaging.JPEGQuality(50)); err != nil {
			return nil, "", fmt.Errorf("encode image at width %d: %w", width, err)
		}
		if buf.Len() <= maxBytes {
			return buf.Bytes(), "image/jpeg", nil
		}
	}

	return nil, "", fmt.Errorf("could not downscale image under %d bytes", maxBytes)
}
