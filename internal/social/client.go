// Package social declares the SocialClient capability the core depends
// on but never implements: login, session refresh/resume, posting,
// liking, reposting, following, replying, timeline/feed reads, blob
// upload, profile updates, and direct messaging. The real social-network
// protocol client lives outside this repository; only the shape it must
// expose is defined here, per spec.md §9.
package social

import (
	"context"
	"time"

	"social-job-orchestrator/internal/domain"
)

// FeedItem is one entry returned by GetTimeline/GetHotFeed.
type FeedItem struct {
	URI          string
	CID          string
	AuthorHandle string
	Text         string
	Record       map[string]any
}

// Blob is an uploaded binary's reference, handed back to CreatePost for
// image embedding.
type Blob struct {
	Ref         string
	MimeType    string
	SizeBytes   int
}

// Conversation identifies an established DM thread with a recipient.
type Conversation struct {
	ID      string
	Handle  string
}

// Client is the capability surface every executor depends on.
type Client interface {
	Login(ctx context.Context, handle, password string) (domain.SessionData, error)
	ResumeSession(ctx context.Context, session domain.SessionData) (domain.SessionData, error)
	RefreshSession(ctx context.Context, refreshToken string) (domain.SessionData, error)

	CreatePost(ctx context.Context, text string, embed *Blob, alt string) (uri, cid string, err error)
	Like(ctx context.Context, uri, cid string) error
	Repost(ctx context.Context, uri, cid string) error
	Follow(ctx context.Context, did string) error
	Reply(ctx context.Context, parentURI, parentCID, text string) (uri, cid string, err error)

	GetTimeline(ctx context.Context, limit int) ([]FeedItem, error)
	GetHotFeed(ctx context.Context, limit int) ([]FeedItem, error)

	UploadBlob(ctx context.Context, data []byte, mimeType string) (Blob, error)
	UpsertProfile(ctx context.Context, pinnedURI, pinnedCID string) error

	SendDM(ctx context.Context, conversationID, text string) error
	StartConversation(ctx context.Context, recipientHandle string) (Conversation, error)
	ListConversations(ctx context.Context) ([]Conversation, error)

	// Authenticated reports whether the client currently holds a live
	// session, used by PostExecutor step 1 to detect a lapsed session
	// mid-batch.
	Authenticated() bool
}

// Factory constructs a Client bound to one account, threading proxy and
// endpoint configuration in per spec.md §1 ("outbound proxy routing ...
// a configuration value threaded into SocialClient construction").
type Factory interface {
	New(ctx context.Context, meta domain.AccountMetadata) (Client, error)
}

// DialTimeout is the default budget for constructing a new Client.
const DialTimeout = 15 * time.Second

// FactoryFunc adapts a plain function to Factory, the functional-option
// idiom used anywhere a single-method interface just wraps a closure.
type FactoryFunc func(ctx context.Context, meta domain.AccountMetadata) (Client, error)

func (f FactoryFunc) New(ctx context.Context, meta domain.AccountMetadata) (Client, error) {
	return f(ctx, meta)
}
