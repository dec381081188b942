// Package pacing implements the PacingPlanner (spec.md §4.5): it
// produces a deterministic, seeded EngagementPlan describing how many
// likes/reposts to perform, with what inter-action delays and feed
// skips, under one of two strategies.
package pacing

import (
	"social-job-orchestrator/internal/clock"
	"social-job-orchestrator/internal/domain"
)

// Strategy names accepted in engagement job payloads.
const (
	StrategyUniform   = "uniform"
	StrategyHumanLike = "human-like"
)

// Options configures a plan; zero values fall back to the spec defaults.
type Options struct {
	NumberOfActions int
	DelayRange      [2]int
	SkipRange       [2]int
	LikePercentage  int
	Strategy        string
}

// WithDefaults fills unset fields with spec.md §4.5 defaults:
// {10, [5,30], [0,4], 70}.
func (o Options) WithDefaults() Options {
	if o.NumberOfActions <= 0 {
		o.NumberOfActions = 10
	}
	if o.DelayRange == [2]int{} {
		o.DelayRange = [2]int{5, 30}
	}
	if o.SkipRange == [2]int{} {
		o.SkipRange = [2]int{0, 4}
	}
	if o.LikePercentage == 0 {
		o.LikePercentage = 70
	}
	if o.Strategy == "" {
		o.Strategy = StrategyUniform
	}
	return o
}

// Planner builds EngagementPlans from an injected Rand source.
type Planner struct {
	rand clock.Rand
}

// New builds a Planner seeded by rnd, so tests can replay literal plans.
func New(rnd clock.Rand) *Planner {
	return &Planner{rand: rnd}
}

// Plan dispatches to the named strategy.
func (p *Planner) Plan(opts Options) domain.EngagementPlan {
	opts = opts.WithDefaults()
	switch opts.Strategy {
	case StrategyHumanLike:
		return p.humanLike(opts)
	default:
		return p.uniform(opts)
	}
}

func likeCount(n, pct int) int {
	return (n * pct) / 100
}

func (p *Planner) uniform(opts Options) domain.EngagementPlan {
	n := opts.NumberOfActions
	likes := likeCount(n, opts.LikePercentage)

	plan := domain.EngagementPlan{Actions: make([]domain.PlannedAction, n)}
	for i := 0; i < n; i++ {
		actionType := domain.ActionRepost
		if i < likes {
			actionType = domain.ActionLike
		}
		delay := p.rand.IntRange(opts.DelayRange[0], opts.DelayRange[1])
		skip := p.rand.IntRange(opts.SkipRange[0], opts.SkipRange[1])
		plan.Actions[i] = domain.PlannedAction{Type: actionType, DelaySec: delay, Skip: skip, Index: i}
		plan.TotalTime += delay
	}
	plan.LikeCount = likes
	plan.RepostCount = n - likes
	return plan
}

// humanLike clusters actions into sessions, each with compressed
// intra-session delays and a long pause before every session after the
// first, per spec.md §4.5.
func (p *Planner) humanLike(opts Options) domain.EngagementPlan {
	n := opts.NumberOfActions
	sessions := n / 5
	if sessions < 1 {
		sessions = 1
	}

	perSession := make([]int, sessions)
	base := n / sessions
	remainder := n % sessions
	for i := range perSession {
		perSession[i] = base
	}
	for i := 0; i < remainder; i++ {
		perSession[i]++
	}

	totalLikes := likeCount(n, opts.LikePercentage)
	totalReposts := n - totalLikes

	compressedMin := opts.DelayRange[0] / 2
	if compressedMin < 1 {
		compressedMin = 1
	}
	compressedMax := opts.DelayRange[1] / 3
	if compressedMax < 2 {
		compressedMax = 2
	}

	plan := domain.EngagementPlan{}
	likesAssigned, repostsAssigned := 0, 0
	idx := 0
	for s, count := range perSession {
		if count == 0 {
			continue
		}
		sessionLikes := (count * opts.LikePercentage) / 100
		if s == len(perSession)-1 {
			// Carry-over: last session absorbs whatever the running
			// totals still owe, so global counts keep summing to
			// floor(N*P/100) and N-floor(N*P/100) exactly.
			sessionLikes = totalLikes - likesAssigned
			if sessionLikes < 0 {
				sessionLikes = 0
			}
			if sessionLikes > count {
				sessionLikes = count
			}
		}
		likesAssigned += sessionLikes
		sessionReposts := count - sessionLikes
		repostsAssigned += sessionReposts

		for i := 0; i < count; i++ {
			actionType := domain.ActionRepost
			if i < sessionLikes {
				actionType = domain.ActionLike
			}
			delay := p.rand.IntRange(compressedMin, compressedMax)
			if s > 0 && i == 0 {
				// Long inter-session pause before the first action of
				// every session after the first.
				delay = p.rand.IntRange(opts.DelayRange[1], 3*opts.DelayRange[1])
			}
			skip := p.rand.IntRange(opts.SkipRange[0], opts.SkipRange[1])
			if i == 0 {
				// Bias toward engaging with what's freshest at session start.
				skip /= 2
			}
			plan.Actions = append(plan.Actions, domain.PlannedAction{
				Type:     actionType,
				DelaySec: delay,
				Skip:     skip,
				Index:    idx,
			})
			plan.TotalTime += delay
			idx++
		}
	}
	plan.LikeCount = likesAssigned
	plan.RepostCount = repostsAssigned
	_ = totalReposts
	return plan
}
