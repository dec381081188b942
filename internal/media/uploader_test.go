package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalUploaderWritesUnderBaseDir(t *testing.T) {
	dir := t.TempDir()
	u := &LocalUploader{BaseDir: dir}

	ref, err := u.Upload(context.Background(), "posts/img.jpg", []byte("data"), "image/jpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ref != filepath.Join(dir, "posts/img.jpg") {
		t.Fatalf("expected ref under base dir, got %q", ref)
	}
	body, err := os.ReadFile(ref)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(body) != "data" {
		t.Fatalf("expected written bytes to round-trip, got %q", body)
	}
}

func TestLocalUploaderRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	u := &LocalUploader{BaseDir: dir}

	ref, err := u.Upload(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if want := filepath.Join(dir, "etc", "passwd"); ref != want {
		t.Fatalf("expected sanitizeKey to collapse path traversal to %q inside %q, got ref %q", want, dir, ref)
	}
}

func TestNewUploaderPicksLocalWhenNoBucketConfigured(t *testing.T) {
	dir := t.TempDir()
	u, err := NewUploader(context.Background(), "", "", "", dir)
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	if _, ok := u.(*LocalUploader); !ok {
		t.Fatalf("expected a *LocalUploader when bucket is empty, got %T", u)
	}
}
