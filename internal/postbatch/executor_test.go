package postbatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"social-job-orchestrator/internal/clock"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/social"
)

func tinyPNGDataURI(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode tiny png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

type noSleepClock struct{}

func (noSleepClock) Now() time.Time                                    { return time.Now() }
func (noSleepClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestRunPublishesInOrderAndPinsFirstFlagged(t *testing.T) {
	client := social.NewFake()
	var created []string
	client.CreatePostFunc = func(_ context.Context, text string, _ *social.Blob, _ string) (string, string, error) {
		created = append(created, text)
		return "uri-" + text, "cid-" + text, nil
	}
	var pinnedURI string
	client.UpsertProfileFunc = func(_ context.Context, uri, _ string) error {
		pinnedURI = uri
		return nil
	}

	exec := New(client, noSleepClock{}, clock.NewSeededRand(1), nil, nil)
	items := []PostItem{
		{Text: "first"},
		{Text: "second", Pin: true},
		{Text: "third", Pin: true},
	}

	result, err := exec.Run(context.Background(), items, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(created) != 3 || created[0] != "first" || created[2] != "third" {
		t.Fatalf("expected posts published in order, got %v", created)
	}
	if !result.PinnedPost || pinnedURI != "uri-second" {
		t.Fatalf("expected only the first Pin=true post (second) to be pinned, got pinned=%v uri=%q", result.PinnedPost, pinnedURI)
	}
	if !result.Items[2].Success || result.Items[2].Pinned {
		t.Fatalf("expected the third post to publish but not be pinned (one pin per batch), got %+v", result.Items[2])
	}
}

func TestRunReverseOrder(t *testing.T) {
	client := social.NewFake()
	var created []string
	client.CreatePostFunc = func(_ context.Context, text string, _ *social.Blob, _ string) (string, string, error) {
		created = append(created, text)
		return "u", "c", nil
	}

	exec := New(client, noSleepClock{}, clock.NewSeededRand(1), nil, nil)
	items := []PostItem{{Text: "1"}, {Text: "2"}, {Text: "3"}}

	if _, err := exec.Run(context.Background(), items, Options{ReverseOrder: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(created) != 3 || created[0] != "3" || created[2] != "1" {
		t.Fatalf("expected reverse publication order [3 2 1], got %v", created)
	}
}

func TestRunReauthenticatesWhenSessionLapses(t *testing.T) {
	stale := social.NewFake()
	stale.SetAuthenticated(false)

	fresh := social.NewFake()
	fresh.CreatePostFunc = func(context.Context, string, *social.Blob, string) (string, string, error) {
		return "uri", "cid", nil
	}

	reauthCalls := 0
	exec := New(stale, noSleepClock{}, clock.NewSeededRand(1), nil, nil)
	items := []PostItem{{Text: "hello"}}

	result, err := exec.Run(context.Background(), items, Options{
		Reauthenticate: func(context.Context) (social.Client, domain.SessionData, error) {
			reauthCalls++
			return fresh, domain.SessionData{}, nil
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if reauthCalls != 1 {
		t.Fatalf("expected exactly one reauthentication call, got %d", reauthCalls)
	}
	if !result.Items[0].Success {
		t.Fatalf("expected the post to succeed after reauthentication, got %+v", result.Items[0])
	}
}

func TestRunGeneratesThumbnailForPinnedImagePost(t *testing.T) {
	client := social.NewFake()
	client.CreatePostFunc = func(context.Context, string, *social.Blob, string) (string, string, error) {
		return "uri", "cid", nil
	}
	client.UploadBlobFunc = func(_ context.Context, data []byte, mimeType string) (social.Blob, error) {
		return social.Blob{Ref: "ref", MimeType: mimeType, SizeBytes: len(data)}, nil
	}

	exec := New(client, noSleepClock{}, clock.NewSeededRand(1), nil, nil)
	items := []PostItem{{Text: "with image", ImageURL: tinyPNGDataURI(t), Pin: true}}

	result, err := exec.Run(context.Background(), items, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Items[0].Pinned || len(result.Items[0].ThumbnailData) == 0 {
		t.Fatalf("expected the pinned image post to carry a generated thumbnail, got %+v", result.Items[0])
	}
	if result.Items[0].ThumbnailMime != "image/jpeg" {
		t.Fatalf("expected the default thumbnail encoding to be JPEG, got %q", result.Items[0].ThumbnailMime)
	}
}

func TestDecodeDataURI(t *testing.T) {
	data, mime, err := decodeDataURI("data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected decoded payload %q, got %q", "hello", data)
	}
	if mime != "image/png" {
		t.Fatalf("expected mime type image/png, got %q", mime)
	}
}

func TestDecodeDataURIRejectsMalformed(t *testing.T) {
	if _, _, err := decodeDataURI("not-a-data-uri"); err == nil {
		t.Fatalf("expected malformed data URI to be rejected")
	}
}
