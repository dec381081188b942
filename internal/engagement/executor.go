// Package engagement implements the EngagementExecutor (spec.md §4.6):
// it walks a PacingPlanner plan against a fetched feed, liking or
// reposting one item per planned action with human-paced, cancellable
// waits between steps.
package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"social-job-orchestrator/internal/apierr"
	"social-job-orchestrator/internal/clock"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/social"
)

// Options configures one execution run.
type Options struct {
	DryRun      bool
	StopOnError bool
	UseHotFeed  bool
	// Feed, when non-nil, is used instead of fetching a fresh timeline.
	Feed []social.FeedItem
	// Progress, when non-nil, is invoked after each planned action.
	Progress func(action domain.PlannedAction, index int)
}

// Executor runs one EngagementPlan against one authenticated client.
type Executor struct {
	client social.Client
	clock  clock.Clock
	logger *slog.Logger
}

func New(client social.Client, ck clock.Clock, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, clock: ck, logger: logger}
}

// Run executes the plan, returning per-action results in plan order.
func (e *Executor) Run(ctx context.Context, plan domain.EngagementPlan, opts Options) ([]domain.ActionResult, error) {
	feed := opts.Feed
	if feed == nil {
		limit := len(plan.Actions) * 2
		if limit < 50 {
			limit = 50
		}
		var err error
		if opts.UseHotFeed {
			feed, err = e.client.GetHotFeed(ctx, limit)
		} else {
			feed, err = e.client.GetTimeline(ctx, limit)
		}
		if err != nil {
			return nil, apierr.Upstream(err, "fetch feed")
		}
	}
	if len(feed) == 0 {
		return nil, apierr.Upstream(nil, "feed is empty, nothing to engage with")
	}

	results := make([]domain.ActionResult, 0, len(plan.Actions))
	cursor := 0

	for i := range plan.Actions {
		action := plan.Actions[i]

		if err := e.clock.Sleep(ctx, time.Duration(action.DelaySec)*time.Second); err != nil {
			return results, apierr.Cancelled("sleep interrupted at action %d: %v", i, err)
		}

		cursor += action.Skip
		if cursor >= len(feed) {
			e.logger.Warn("engagement: cursor clamped to last feed index", "cursor", cursor, "feedLen", len(feed))
			cursor = len(feed) - 1
		}

		item := feed[cursor]
		if item.URI == "" || item.CID == "" {
			e.logger.Warn("engagement: skipping malformed feed item", "index", cursor)
			results = append(results, domain.ActionResult{Success: false, Action: action, Error: "malformed feed item: missing post reference"})
			if opts.Progress != nil {
				opts.Progress(action, i)
			}
			continue
		}

		text := renderText(item)
		_ = text // carried for logging/diagnostics parity with spec step 4.

		var actionErr error
		if opts.DryRun {
			e.logger.Info("engagement: dry-run intent", "type", action.Type, "uri", item.URI)
		} else {
			switch action.Type {
			case domain.ActionLike:
				actionErr = e.client.Like(ctx, item.URI, item.CID)
			case domain.ActionRepost:
				actionErr = e.client.Repost(ctx, item.URI, item.CID)
			default:
				actionErr = fmt.Errorf("unknown action type %q", action.Type)
			}
		}

		action.Executed = true
		if actionErr != nil {
			results = append(results, domain.ActionResult{Success: false, Action: action, Error: actionErr.Error()})
			if opts.StopOnError {
				return results, apierr.Upstream(actionErr, "engagement action %d failed", i)
			}
		} else {
			results = append(results, domain.ActionResult{Success: true, Action: action, PostURI: item.URI, PostCID: item.CID})
		}

		cursor++
		if opts.Progress != nil {
			opts.Progress(action, i)
		}
	}

	return results, nil
}

func renderText(item social.FeedItem) string {
	if item.Text != "" {
		return item.Text
	}
	if item.Record == nil {
		return ""
	}
	b, err := json.Marshal(item.Record)
	if err != nil {
		return ""
	}
	return string(b)
}
