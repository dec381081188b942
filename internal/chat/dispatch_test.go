package chat

import (
	"context"
	"errors"
	"testing"

	"social-job-orchestrator/internal/social"
)

func TestRunPairsMessagesWithWraparound(t *testing.T) {
	client := social.NewFake()
	var sent []string
	client.SendDMFunc = func(_ context.Context, _, text string) error {
		sent = append(sent, text)
		return nil
	}

	exec := New(client, nil)
	messages := []string{"hi", "bye"}
	recipients := []string{"alice", "bob", "carol"}

	var progressCalls [][2]int
	result, err := exec.Run(context.Background(), messages, recipients, func(i, total int) {
		progressCalls = append(progressCalls, [2]int{i, total})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Sent != 3 || result.Failed != 0 {
		t.Fatalf("expected 3 sent 0 failed, got sent=%d failed=%d", result.Sent, result.Failed)
	}
	if want := []string{"hi", "bye", "hi"}; sent[0] != want[0] || sent[1] != want[1] || sent[2] != want[2] {
		t.Fatalf("expected messages to wrap modulo len(messages), got %v", sent)
	}
	if len(progressCalls) != 3 || progressCalls[2] != [2]int{3, 3} {
		t.Fatalf("expected one progress callback per recipient ending at (3,3), got %v", progressCalls)
	}
}

func TestRunRejectsEmptyMessages(t *testing.T) {
	exec := New(social.NewFake(), nil)
	if _, err := exec.Run(context.Background(), nil, []string{"alice"}, nil); err == nil {
		t.Fatalf("expected empty messages to be rejected")
	}
}

func TestRunRejectsEmptyRecipients(t *testing.T) {
	exec := New(social.NewFake(), nil)
	if _, err := exec.Run(context.Background(), []string{"hi"}, nil, nil); err == nil {
		t.Fatalf("expected empty recipients to be rejected")
	}
}

func TestRunCountsPartialFailures(t *testing.T) {
	client := social.NewFake()
	client.StartConvFunc = func(_ context.Context, handle string) (social.Conversation, error) {
		if handle == "bob" {
			return social.Conversation{}, errors.New("blocked")
		}
		return social.Conversation{ID: "conv-" + handle, Handle: handle}, nil
	}
	client.SendDMFunc = func(context.Context, string, string) error { return nil }

	exec := New(client, nil)
	result, err := exec.Run(context.Background(), []string{"hi"}, []string{"alice", "bob", "carol"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Sent != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 sent 1 failed, got sent=%d failed=%d", result.Sent, result.Failed)
	}
	if result.Results[1].Success || result.Results[1].Recipient != "bob" {
		t.Fatalf("expected bob's result to record the failure, got %+v", result.Results[1])
	}
}
