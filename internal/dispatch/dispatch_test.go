package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"social-job-orchestrator/internal/accounts"
	"social-job-orchestrator/internal/clock"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/social"
)

func factoryFor(client social.Client) social.Factory {
	return social.FactoryFunc(func(context.Context, domain.AccountMetadata) (social.Client, error) {
		return client, nil
	})
}

func newDispatcher(client social.Client) *Dispatcher {
	return New(factoryFor(client), accounts.NewFake(), clock.Real(), clock.NewSeededRand(1), nil)
}

func jobWithPayload(t *testing.T, jobType domain.JobType, payload map[string]any) *domain.Job {
	t.Helper()
	return domain.NewJob("job-1", "tenant-a", jobType, "", payload, 3)
}

func TestHandleEngagementDispatchesAndCounts(t *testing.T) {
	client := social.NewFake()
	client.LikeFunc = func(context.Context, string, string) error { return nil }
	client.RepostFunc = func(context.Context, string, string) error { return nil }
	client.RefreshFunc = func(context.Context, string) (domain.SessionData, error) {
		return domain.SessionData{AccessToken: "a", RefreshToken: "r", DID: "d"}, nil
	}
	client.GetTimelineFunc = func(context.Context, int) ([]social.FeedItem, error) {
		feed := make([]social.FeedItem, 10)
		for i := range feed {
			feed[i] = social.FeedItem{URI: "uri", CID: "cid"}
		}
		return feed, nil
	}

	d := newDispatcher(client)
	job := jobWithPayload(t, domain.JobTypeEngagement, map[string]any{
		"sessionData":       map[string]any{"refreshToken": "R1", "did": "D"},
		"strategyType":      "uniform",
		"engagementOptions": map[string]any{"numberOfActions": 4, "likePercentage": 50},
	})

	result, err := d.Handle(context.Background(), job, nil, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected a map result, got %T", result)
	}
	if m["successCount"] != 4 {
		t.Fatalf("expected successCount=4, got %v", m["successCount"])
	}
}

func TestHandleMassPostRejectsEmptyPosts(t *testing.T) {
	client := social.NewFake()
	client.RefreshFunc = func(context.Context, string) (domain.SessionData, error) {
		return domain.SessionData{AccessToken: "a", RefreshToken: "r", DID: "d"}, nil
	}
	d := newDispatcher(client)
	job := jobWithPayload(t, domain.JobTypeMassPost, map[string]any{
		"sessionData": map[string]any{"refreshToken": "R1", "did": "D"},
		"postOptions": map[string]any{"posts": []any{}},
	})

	if _, err := d.Handle(context.Background(), job, nil, nil); err == nil {
		t.Fatalf("expected an empty posts list to be rejected")
	}
}

func TestHandleMassPostPublishesEveryPost(t *testing.T) {
	client := social.NewFake()
	client.RefreshFunc = func(context.Context, string) (domain.SessionData, error) {
		return domain.SessionData{AccessToken: "a", RefreshToken: "r", DID: "d"}, nil
	}
	var created int
	client.CreatePostFunc = func(context.Context, string, *social.Blob, string) (string, string, error) {
		created++
		return "uri", "cid", nil
	}

	d := newDispatcher(client)
	job := jobWithPayload(t, domain.JobTypeMassPost, map[string]any{
		"sessionData": map[string]any{"refreshToken": "R1", "did": "D"},
		"postOptions": map[string]any{"posts": []any{
			map[string]any{"text": "one"},
			map[string]any{"text": "two"},
		}},
	})

	if _, err := d.Handle(context.Background(), job, nil, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 posts published, got %d", created)
	}
}

func TestHandleChatAcceptsStringOrArrayMessages(t *testing.T) {
	client := social.NewFake()
	client.RefreshFunc = func(context.Context, string) (domain.SessionData, error) {
		return domain.SessionData{AccessToken: "a", RefreshToken: "r", DID: "d"}, nil
	}
	client.SendDMFunc = func(context.Context, string, string) error { return nil }

	d := newDispatcher(client)

	job := jobWithPayload(t, domain.JobTypeChat, map[string]any{
		"sessionData": map[string]any{"refreshToken": "R1", "did": "D"},
		"messages":    "hello",
		"recipients":  []any{"alice"},
	})
	if _, err := d.Handle(context.Background(), job, nil, nil); err != nil {
		t.Fatalf("handle with single message string: %v", err)
	}

	job2 := jobWithPayload(t, domain.JobTypeChat, map[string]any{
		"sessionData": map[string]any{"refreshToken": "R1", "did": "D"},
		"messages":    []any{"hi", "there"},
		"recipients":  []any{"alice", "bob"},
	})
	if _, err := d.Handle(context.Background(), job2, nil, nil); err != nil {
		t.Fatalf("handle with message array: %v", err)
	}
}

func TestHandleUnknownJobType(t *testing.T) {
	d := newDispatcher(social.NewFake())
	job := jobWithPayload(t, domain.JobType("unknown"), map[string]any{})
	if _, err := d.Handle(context.Background(), job, nil, nil); err == nil {
		t.Fatalf("expected an unknown job type to be rejected")
	}
}

func TestDecodeMessagesUnion(t *testing.T) {
	single, err := decodeMessages(json.RawMessage(`"hi"`))
	if err != nil || len(single) != 1 || single[0] != "hi" {
		t.Fatalf("expected a bare string to decode to a one-element slice, got %v err=%v", single, err)
	}
	list, err := decodeMessages(json.RawMessage(`["a","b"]`))
	if err != nil || len(list) != 2 {
		t.Fatalf("expected an array to decode as-is, got %v err=%v", list, err)
	}
}
