// Package chat implements the chat job type's dispatch semantics from
// spec.md §6: iterate recipients, pairing message[i % len(messages)]
// with recipient[i], starting a conversation and sending; progress
// advances one step per recipient.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"social-job-orchestrator/internal/apierr"
	"social-job-orchestrator/internal/social"
)

// RecipientResult is the per-recipient outcome.
type RecipientResult struct {
	Recipient string
	Success   bool
	Error     string
}

// BatchResult is what the Dispatcher stores as the job's result.
type BatchResult struct {
	Sent    int
	Failed  int
	Results []RecipientResult
}

// Executor sends one message batch to a list of recipients.
type Executor struct {
	client social.Client
	logger *slog.Logger
}

func New(client social.Client, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, logger: logger}
}

// Run pairs messages with recipients (wrapping the message index modulo
// len(messages)) and sends one DM per recipient.
func (e *Executor) Run(ctx context.Context, messages []string, recipients []string, progress func(index, total int)) (BatchResult, error) {
	if len(messages) == 0 {
		return BatchResult{}, apierr.BadRequest("messages must not be empty")
	}
	if len(recipients) == 0 {
		return BatchResult{}, apierr.BadRequest("recipients must not be empty")
	}

	result := BatchResult{Results: make([]RecipientResult, len(recipients))}

	for i, recipient := range recipients {
		msg := messages[i%len(messages)]

		conv, err := e.client.StartConversation(ctx, recipient)
		if err != nil {
			result.Results[i] = RecipientResult{Recipient: recipient, Success: false, Error: fmt.Sprintf("start conversation: %v", err)}
			result.Failed++
			if progress != nil {
				progress(i+1, len(recipients))
			}
			continue
		}

		if err := e.client.SendDM(ctx, conv.ID, msg); err != nil {
			result.Results[i] = RecipientResult{Recipient: recipient, Success: false, Error: fmt.Sprintf("send dm: %v", err)}
			result.Failed++
			e.logger.Warn("chat: send failed", "recipient", recipient, "error", err)
		} else {
			result.Results[i] = RecipientResult{Recipient: recipient, Success: true}
			result.Sent++
		}

		if progress != nil {
			progress(i+1, len(recipients))
		}
	}

	return result, nil
}
