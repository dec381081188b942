// Package dispatch implements the Dispatcher (spec.md §4.8): a
// JobType -> executor map that unpacks a job's payload, resolves an
// authenticated client via AuthCoordinator, constructs the
// type-appropriate executor seeded with a per-job logger, runs it, and
// translates its result into the job's result object. Per spec.md §9's
// cyclic-reference note, it is the only package aware of every executor
// type; the QueueRegistry and WorkerPool stay oblivious.
package dispatch

import (
	"encoding/json"
	"fmt"

	"social-job-orchestrator/internal/domain"
)

// engagementPayload mirrors spec.md §6's engagement payload shape.
type engagementPayload struct {
	SessionData       domain.SessionData      `json:"sessionData"`
	EngagementOptions *engagementOptionsShape `json:"engagementOptions,omitempty"`
	StrategyType      string                  `json:"strategyType"`
	AccountMetadata   domain.AccountMetadata  `json:"accountMetadata,omitempty"`
}

type engagementOptionsShape struct {
	NumberOfActions int    `json:"numberOfActions"`
	DelayRange      [2]int `json:"delayRange"`
	SkipRange       [2]int `json:"skipRange"`
	LikePercentage  int    `json:"likePercentage"`
}

// massPostPayload mirrors spec.md §6's massPost payload shape.
type massPostPayload struct {
	SessionData     domain.SessionData     `json:"sessionData"`
	PostOptions     postOptionsShape       `json:"postOptions"`
	AccountMetadata domain.AccountMetadata `json:"accountMetadata,omitempty"`
}

type postOptionsShape struct {
	Posts        []postItemShape `json:"posts"`
	DelayRange   [2]int          `json:"delayRange,omitempty"`
	ReverseOrder bool            `json:"reverseOrder,omitempty"`
}

type postItemShape struct {
	Text             string `json:"text"`
	ImageURL         string `json:"imageUrl,omitempty"`
	Pin              bool   `json:"pin,omitempty"`
	Alt              string `json:"alt,omitempty"`
	IncludeTimestamp bool   `json:"includeTimestamp,omitempty"`
}

// chatPayload mirrors spec.md §6's chat payload shape; Messages accepts
// either a single string or a list per the spec's `string|[string]`.
type chatPayload struct {
	SessionData     domain.SessionData     `json:"sessionData"`
	Messages        json.RawMessage        `json:"messages"`
	Recipients      []string               `json:"recipients"`
	AccountMetadata domain.AccountMetadata `json:"accountMetadata,omitempty"`
}

func decodePayload(raw map[string]any, into any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func decodeMessages(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("messages must be a string or list of strings: %w", err)
	}
	return list, nil
}
