package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func testImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestDownscaleToFitShrinksUnderByteCap(t *testing.T) {
	data := testImage(t, 800, 600)
	out, mime, err := DownscaleToFit(data, 4096, 1280)
	if err != nil {
		t.Fatalf("downscale: %v", err)
	}
	if mime != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", mime)
	}
	if len(out) > 4096 {
		t.Fatalf("expected output under the byte cap, got %d bytes", len(out))
	}
}

func TestDownscaleToFitCapsWidth(t *testing.T) {
	data := testImage(t, 2000, 1000)
	out, _, err := DownscaleToFit(data, 200*1024, 500)
	if err != nil {
		t.Fatalf("downscale: %v", err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded.Bounds().Dx() > 500 {
		t.Fatalf("expected width capped at 500, got %d", decoded.Bounds().Dx())
	}
}

func TestDownscaleToFitRejectsUndecodable(t *testing.T) {
	if _, _, err := DownscaleToFit([]byte("not an image"), 1024, 100); err == nil {
		t.Fatalf("expected undecodable input to be rejected")
	}
}

func TestThumbnailPreservesAspectRatio(t *testing.T) {
	data := testImage(t, 400, 200)
	out, mime, err := Thumbnail(data, 100, "")
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if mime != "image/jpeg" {
		t.Fatalf("expected default jpeg output, got %q", mime)
	}
	decoded, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if decoded.Bounds().Dx() != 100 || decoded.Bounds().Dy() != 50 {
		t.Fatalf("expected a 100x50 thumbnail preserving the 2:1 aspect ratio, got %dx%d", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}
}

func TestThumbnailPNGOutput(t *testing.T) {
	data := testImage(t, 100, 100)
	_, mime, err := Thumbnail(data, 50, ".png")
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("expected image/png for a .png outputExt, got %q", mime)
	}
}
