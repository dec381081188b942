package social

import (
	"context"
	"fmt"
	"sync"

	"social-job-orchestrator/internal/domain"
)

// Fake is an in-memory Client used by tests across the auth, engagement,
// postbatch, and chat packages. Each method is swappable via a function
// field so tests can script specific failure sequences (spec.md §8
// scenarios 3 and 4: refresh fails, resume fails, login succeeds).
type Fake struct {
	mu sync.Mutex

	LoginFunc          func(ctx context.Context, handle, password string) (domain.SessionData, error)
	ResumeFunc         func(ctx context.Context, session domain.SessionData) (domain.SessionData, error)
	RefreshFunc        func(ctx context.Context, refreshToken string) (domain.SessionData, error)
	CreatePostFunc     func(ctx context.Context, text string, embed *Blob, alt string) (string, string, error)
	LikeFunc           func(ctx context.Context, uri, cid string) error
	RepostFunc         func(ctx context.Context, uri, cid string) error
	FollowFunc         func(ctx context.Context, did string) error
	ReplyFunc          func(ctx context.Context, parentURI, parentCID, text string) (string, string, error)
	GetTimelineFunc    func(ctx context.Context, limit int) ([]FeedItem, error)
	GetHotFeedFunc     func(ctx context.Context, limit int) ([]FeedItem, error)
	UploadBlobFunc     func(ctx context.Context, data []byte, mimeType string) (Blob, error)
	UpsertProfileFunc  func(ctx context.Context, pinnedURI, pinnedCID string) error
	SendDMFunc         func(ctx context.Context, conversationID, text string) error
	StartConvFunc      func(ctx context.Context, recipientHandle string) (Conversation, error)
	ListConvFunc       func(ctx context.Context) ([]Conversation, error)

	authenticated bool

	// Calls records invocation counts per method name for assertions.
	Calls map[string]int
}

// NewFake builds a Fake with an authenticated session by default.
func NewFake() *Fake {
	return &Fake{authenticated: true, Calls: make(map[string]int)}
}

func (f *Fake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[name]++
}

func (f *Fake) SetAuthenticated(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = v
}

func (f *Fake) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *Fake) Login(ctx context.Context, handle, password string) (domain.SessionData, error) {
	f.record("Login")
	if f.LoginFunc != nil {
		s, err := f.LoginFunc(ctx, handle, password)
		if err == nil {
			f.SetAuthenticated(true)
		}
		return s, err
	}
	return domain.SessionData{}, fmt.Errorf("Login not stubbed")
}

func (f *Fake) ResumeSession(ctx context.Context, session domain.SessionData) (domain.SessionData, error) {
	f.record("ResumeSession")
	if f.ResumeFunc != nil {
		s, err := f.ResumeFunc(ctx, session)
		if err == nil {
			f.SetAuthenticated(true)
		}
		return s, err
	}
	return domain.SessionData{}, fmt.Errorf("ResumeSession not stubbed")
}

func (f *Fake) RefreshSession(ctx context.Context, refreshToken string) (domain.SessionData, error) {
	f.record("RefreshSession")
	if f.RefreshFunc != nil {
		s, err := f.RefreshFunc(ctx, refreshToken)
		if err == nil {
			f.SetAuthenticated(true)
		}
		return s, err
	}
	return domain.SessionData{}, fmt.Errorf("RefreshSession not stubbed")
}

func (f *Fake) CreatePost(ctx context.Context, text string, embed *Blob, alt string) (string, string, error) {
	f.record("CreatePost")
	if f.CreatePostFunc != nil {
		return f.CreatePostFunc(ctx, text, embed, alt)
	}
	return "at://fake/post/" + text, "cid-" + text, nil
}

func (f *Fake) Like(ctx context.Context, uri, cid string) error {
	f.record("Like")
	if f.LikeFunc != nil {
		return f.LikeFunc(ctx, uri, cid)
	}
	return nil
}

func (f *Fake) Repost(ctx context.Context, uri, cid string) error {
	f.record("Repost")
	if f.RepostFunc != nil {
		return f.RepostFunc(ctx, uri, cid)
	}
	return nil
}

func (f *Fake) Follow(ctx context.Context, did string) error {
	f.record("Follow")
	if f.FollowFunc != nil {
		return f.FollowFunc(ctx, did)
	}
	return nil
}

func (f *Fake) Reply(ctx context.Context, parentURI, parentCID, text string) (string, string, error) {
	f.record("Reply")
	if f.ReplyFunc != nil {
		return f.ReplyFunc(ctx, parentURI, parentCID, text)
	}
	return "at://fake/reply", "cid-reply", nil
}

func (f *Fake) GetTimeline(ctx context.Context, limit int) ([]FeedItem, error) {
	f.record("GetTimeline")
	if f.GetTimelineFunc != nil {
		return f.GetTimelineFunc(ctx, limit)
	}
	return nil, nil
}

func (f *Fake) GetHotFeed(ctx context.Context, limit int) ([]FeedItem, error) {
	f.record("GetHotFeed")
	if f.GetHotFeedFunc != nil {
		return f.GetHotFeedFunc(ctx, limit)
	}
	return nil, nil
}

func (f *Fake) UploadBlob(ctx context.Context, data []byte, mimeType string) (Blob, error) {
	f.record("UploadBlob")
	if f.UploadBlobFunc != nil {
		return f.UploadBlobFunc(ctx, data, mimeType)
	}
	return Blob{Ref: "blob-ref", MimeType: mimeType, SizeBytes: len(data)}, nil
}

func (f *Fake) UpsertProfile(ctx context.Context, pinnedURI, pinnedCID string) error {
	f.record("UpsertProfile")
	if f.UpsertProfileFunc != nil {
		return f.UpsertProfileFunc(ctx, pinnedURI, pinnedCID)
	}
	return nil
}

func (f *Fake) SendDM(ctx context.Context, conversationID, text string) error {
	f.record("SendDM")
	if f.SendDMFunc != nil {
		return f.SendDMFunc(ctx, conversationID, text)
	}
	return nil
}

func (f *Fake) StartConversation(ctx context.Context, recipientHandle string) (Conversation, error) {
	f.record("StartConversation")
	if f.StartConvFunc != nil {
		return f.StartConvFunc(ctx, recipientHandle)
	}
	return Conversation{ID: "conv-" + recipientHandle, Handle: recipientHandle}, nil
}

func (f *Fake) ListConversations(ctx context.Context) ([]Conversation, error) {
	f.record("ListConversations")
	if f.ListConvFunc != nil {
		return f.ListConvFunc(ctx)
	}
	return nil, nil
}
