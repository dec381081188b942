package dispatch

import (
	"context"
	"log/slog"
	"net/http"

	"social-job-orchestrator/internal/accounts"
	"social-job-orchestrator/internal/apierr"
	"social-job-orchestrator/internal/auth"
	"social-job-orchestrator/internal/chat"
	"social-job-orchestrator/internal/clock"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/engagement"
	"social-job-orchestrator/internal/media"
	"social-job-orchestrator/internal/pacing"
	"social-job-orchestrator/internal/postbatch"
	"social-job-orchestrator/internal/social"
)

// Dispatcher maps domain.JobType to the executor that runs it.
type Dispatcher struct {
	factory      social.Factory
	accountStore accounts.Store
	clock        clock.Clock
	rand         clock.Rand
	httpClient   *http.Client
	blobUploader media.Uploader
}

func New(factory social.Factory, accountStore accounts.Store, ck clock.Clock, rnd clock.Rand, httpClient *http.Client) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Dispatcher{factory: factory, accountStore: accountStore, clock: ck, rand: rnd, httpClient: httpClient}
}

// SetBlobUploader wires an S3 or local blob destination for massPost
// image uploads. Left nil, handleMassPost falls back to the
// SocialClient's own UploadBlob endpoint.
func (d *Dispatcher) SetBlobUploader(u media.Uploader) {
	d.blobUploader = u
}

// Handle satisfies workerpool.Dispatch: unpack the job's payload,
// authenticate, run the right executor, and return its result.
func (d *Dispatcher) Handle(ctx context.Context, job *domain.Job, logger *slog.Logger, progress func(pct int)) (any, error) {
	switch job.JobType {
	case domain.JobTypeEngagement:
		return d.handleEngagement(ctx, job, logger, progress)
	case domain.JobTypeMassPost:
		return d.handleMassPost(ctx, job, logger)
	case domain.JobTypeChat:
		return d.handleChat(ctx, job, logger, progress)
	default:
		return nil, apierr.BadRequest("unknown job type %q", job.JobType)
	}
}

func (d *Dispatcher) authenticate(ctx context.Context, session domain.SessionData, meta domain.AccountMetadata, logger *slog.Logger) (auth.Result, error) {
	coordinator := auth.New(d.factory, d.accountStore, logger)
	return coordinator.Authenticate(ctx, session, meta)
}

func (d *Dispatcher) handleEngagement(ctx context.Context, job *domain.Job, logger *slog.Logger, progress func(pct int)) (any, error) {
	var payload engagementPayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return nil, apierr.BadRequest("engagement payload: %v", err)
	}

	authResult, err := d.authenticate(ctx, payload.SessionData, payload.AccountMetadata, logger)
	if err != nil {
		return nil, err
	}

	opts := pacing.Options{Strategy: payload.StrategyType}
	if payload.EngagementOptions != nil {
		opts.NumberOfActions = payload.EngagementOptions.NumberOfActions
		opts.DelayRange = payload.EngagementOptions.DelayRange
		opts.SkipRange = payload.EngagementOptions.SkipRange
		opts.LikePercentage = payload.EngagementOptions.LikePercentage
	}

	planner := pacing.New(d.rand)
	plan := planner.Plan(opts)

	executor := engagement.New(authResult.Client, d.clock, logger)
	results, err := executor.Run(ctx, plan, engagement.Options{
		Progress: func(action domain.PlannedAction, index int) {
			if progress != nil {
				progress(percentComplete(index+1, len(plan.Actions)))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	successCount, errorCount, likeCount, repostCount := 0, 0, 0, 0
	for _, r := range results {
		if r.Success {
			successCount++
			if r.Action.Type == domain.ActionLike {
				likeCount++
			} else {
				repostCount++
			}
		} else {
			errorCount++
		}
	}

	return map[string]any{
		"results":      results,
		"successCount": successCount,
		"errorCount":   errorCount,
		"likeCount":    likeCount,
		"repostCount":  repostCount,
	}, nil
}

func (d *Dispatcher) handleMassPost(ctx context.Context, job *domain.Job, logger *slog.Logger) (any, error) {
	var payload massPostPayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return nil, apierr.BadRequest("massPost payload: %v", err)
	}
	if len(payload.PostOptions.Posts) == 0 {
		return nil, apierr.BadRequest("postOptions.posts must not be empty")
	}

	authResult, err := d.authenticate(ctx, payload.SessionData, payload.AccountMetadata, logger)
	if err != nil {
		return nil, err
	}

	items := make([]postbatch.PostItem, len(payload.PostOptions.Posts))
	for i, p := range payload.PostOptions.Posts {
		items[i] = postbatch.PostItem{Text: p.Text, ImageURL: p.ImageURL, Pin: p.Pin, Alt: p.Alt, IncludeTimestamp: p.IncludeTimestamp}
	}

	meta := payload.AccountMetadata
	session := payload.SessionData
	executor := postbatch.New(authResult.Client, d.clock, d.rand, d.httpClient, logger)
	if d.blobUploader != nil {
		executor.SetBlobUploader(d.blobUploader)
	}
	result, err := executor.Run(ctx, items, postbatch.Options{
		DelayRange:   payload.PostOptions.DelayRange,
		ReverseOrder: payload.PostOptions.ReverseOrder,
		Reauthenticate: func(ctx context.Context) (social.Client, domain.SessionData, error) {
			res, err := d.authenticate(ctx, session, meta, logger)
			if err != nil {
				return nil, domain.SessionData{}, err
			}
			session = res.Session
			return res.Client, res.Session, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) handleChat(ctx context.Context, job *domain.Job, logger *slog.Logger, progress func(pct int)) (any, error) {
	var payload chatPayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return nil, apierr.BadRequest("chat payload: %v", err)
	}
	messages, err := decodeMessages(payload.Messages)
	if err != nil {
		return nil, apierr.BadRequest("chat payload: %v", err)
	}

	authResult, err := d.authenticate(ctx, payload.SessionData, payload.AccountMetadata, logger)
	if err != nil {
		return nil, err
	}

	executor := chat.New(authResult.Client, logger)
	result, err := executor.Run(ctx, messages, payload.Recipients, func(index, total int) {
		if progress != nil {
			progress(percentComplete(index, total))
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func percentComplete(done, total int) int {
	if total <= 0 {
		return 100
	}
	pct := (done * 100) / total
	if pct > 100 {
		pct = 100
	}
	return pct
}
