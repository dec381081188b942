// Package postbatch implements the PostExecutor (spec.md §4.7):
// sequential publication of a batch of text/image posts, with optional
// profile pinning of the first so-flagged post. Image handling (fetch,
// cap, downscale, re-encode, upload) is grounded on the teacher's
// worker/image_handler.go.
package postbatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"social-job-orchestrator/internal/apierr"
	"social-job-orchestrator/internal/clock"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/media"
	"social-job-orchestrator/internal/social"
)

// MaxImageBytes is the safety cap from spec.md §4.7 step 3 (900 KiB).
const MaxImageBytes = 900 * 1024

// PostItem is one entry of a massPost batch payload.
type PostItem struct {
	Text             string
	ImageURL         string
	Pin              bool
	Alt              string
	IncludeTimestamp bool
}

// Options configures one batch run.
type Options struct {
	DelayRange    [2]int
	ReverseOrder  bool
	Reauthenticate func(ctx context.Context) (social.Client, domain.SessionData, error)
}

// ItemResult is the per-item outcome appended to the job result.
type ItemResult struct {
	Success       bool
	URI           string
	CID           string
	Pinned        bool
	Error         string
	ThumbnailData []byte
	ThumbnailMime string
}

// BatchResult is what the Dispatcher stores as the job's result.
type BatchResult struct {
	Items       []ItemResult
	PinnedPost  bool
}

// Executor runs a massPost batch.
type Executor struct {
	client       social.Client
	clock        clock.Clock
	rand         clock.Rand
	httpClient   *http.Client
	logger       *slog.Logger
	blobUploader media.Uploader
}

func New(client social.Client, ck clock.Clock, rnd clock.Rand, httpClient *http.Client, logger *slog.Logger) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, clock: ck, rand: rnd, httpClient: httpClient, logger: logger}
}

// SetBlobUploader routes image uploads through an S3/local Uploader
// instead of the SocialClient's own blob endpoint, mirroring
// image_handler.go's destination choice at the handler level rather
// than per job.
func (e *Executor) SetBlobUploader(u media.Uploader) {
	e.blobUploader = u
}

// Run publishes every item in order (or reverse order), pinning at most
// one post per batch.
func (e *Executor) Run(ctx context.Context, items []PostItem, opts Options) (BatchResult, error) {
	ordered := items
	if opts.ReverseOrder {
		ordered = make([]PostItem, len(items))
		for i, it := range items {
			ordered[len(items)-1-i] = it
		}
	}

	result := BatchResult{Items: make([]ItemResult, len(ordered))}
	pinned := false

	for i, item := range ordered {
		if !e.client.Authenticated() && opts.Reauthenticate != nil {
			newClient, _, err := opts.Reauthenticate(ctx)
			if err != nil {
				result.Items[i] = ItemResult{Success: false, Error: fmt.Sprintf("re-authentication failed: %v", err)}
				if i != len(ordered)-1 {
					if err := e.clock.Sleep(ctx, e.interPostDelay(opts.DelayRange)); err != nil {
						return result, apierr.Cancelled("sleep interrupted: %v", err)
					}
				}
				continue
			}
			e.client = newClient
		}

		text := item.Text
		if item.IncludeTimestamp {
			text = text + "\n\n[" + time.Now().UTC().Format(time.RFC3339) + "]"
		}

		var embed *social.Blob
		var imageData []byte
		if item.ImageURL != "" {
			blob, data, err := e.uploadImage(ctx, item.ImageURL)
			if err != nil {
				result.Items[i] = ItemResult{Success: false, Error: err.Error()}
				if i != len(ordered)-1 {
					if err := e.clock.Sleep(ctx, e.interPostDelay(opts.DelayRange)); err != nil {
						return result, apierr.Cancelled("sleep interrupted: %v", err)
					}
				}
				continue
			}
			embed = &blob
			imageData = data
		}

		uri, cid, err := e.client.CreatePost(ctx, text, embed, item.Alt)
		if err != nil {
			result.Items[i] = ItemResult{Success: false, Error: err.Error()}
			if i != len(ordered)-1 {
				if err := e.clock.Sleep(ctx, e.interPostDelay(opts.DelayRange)); err != nil {
					return result, apierr.Cancelled("sleep interrupted: %v", err)
				}
			}
			continue
		}

		itemResult := ItemResult{Success: true, URI: uri, CID: cid}
		if item.Pin && !pinned {
			if err := e.client.UpsertProfile(ctx, uri, cid); err != nil {
				e.logger.Warn("postbatch: pin failed", "uri", uri, "error", err)
			} else {
				pinned = true
				itemResult.Pinned = true
				result.PinnedPost = true
				if imageData != nil {
					thumb, mime, err := media.Thumbnail(imageData, 160, "")
					if err != nil {
						e.logger.Warn("postbatch: thumbnail generation failed", "uri", uri, "error", err)
					} else {
						itemResult.ThumbnailData = thumb
						itemResult.ThumbnailMime = mime
					}
				}
			}
		}
		result.Items[i] = itemResult

		if i != len(ordered)-1 {
			if err := e.clock.Sleep(ctx, e.interPostDelay(opts.DelayRange)); err != nil {
				return result, apierr.Cancelled("sleep interrupted: %v", err)
			}
		}
	}

	return result, nil
}

func (e *Executor) interPostDelay(delayRange [2]int) time.Duration {
	min, max := delayRange[0], delayRange[1]
	if min == 0 && max == 0 {
		min, max = 1, 5
	}
	return time.Duration(e.rand.IntRange(min, max)) * time.Second
}

// uploadImage resolves imageURL to bytes, downscales if needed, and
// uploads via the configured blob uploader when one is set, otherwise
// via the SocialClient, mirroring image_handler.go's
// download -> decode -> transform -> encode -> upload pipeline.
func (e *Executor) uploadImage(ctx context.Context, imageURL string) (social.Blob, []byte, error) {
	data, mimeType, err := e.resolveImage(ctx, imageURL)
	if err != nil {
		return social.Blob{}, nil, apierr.Upstream(err, "resolve image")
	}

	if len(data) > MaxImageBytes {
		downscaled, newMime, err := media.DownscaleToFit(data, MaxImageBytes, 1280)
		if err != nil {
			return social.Blob{}, nil, apierr.BlobTooLarge("image exceeds %d bytes and could not be downscaled: %v", MaxImageBytes, err)
		}
		data = downscaled
		mimeType = newMime
	}

	if e.blobUploader != nil {
		key := uploadKey(imageURL, mimeType)
		ref, err := e.blobUploader.Upload(ctx, key, data, mimeType)
		if err != nil {
			return social.Blob{}, nil, apierr.Upstream(err, "upload blob to configured destination")
		}
		return social.Blob{Ref: ref, MimeType: mimeType, SizeBytes: len(data)}, data, nil
	}

	blob, err := e.client.UploadBlob(ctx, data, mimeType)
	if err != nil {
		return social.Blob{}, nil, apierr.Upstream(err, "upload blob")
	}
	return blob, data, nil
}

// uploadKey derives a storage key from the image URL (up to its first
// 32 characters, non-alphanumerics mapped to '-'), the URL's length and
// an extension picked from mimeType, so an S3 or local uploader can pick
// a sane object name without the caller having to supply one.
func uploadKey(imageURL, mimeType string) string {
	ext := ".jpg"
	switch mimeType {
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	}
	name := strings.TrimPrefix(imageURL, "data:")
	if idx := strings.IndexAny(name, ";,"); idx >= 0 {
		name = name[:idx]
	}
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, name)
	if len(name) > 32 {
		name = name[:32]
	}
	if name == "" {
		name = "image"
	}
	return fmt.Sprintf("postbatch/%s-%d%s", name, len(imageURL), ext)
}

func (e *Executor) resolveImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	if strings.HasPrefix(imageURL, "data:") {
		return decodeDataURI(imageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func decodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data URI")
	}
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("malformed data URI")
	}
	meta, payload := parts[0], parts[1]
	mimeType := strings.TrimSuffix(meta, ";base64")
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(payload), mimeType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 data URI: %w", err)
	}
	return data, mimeType, nil
}
