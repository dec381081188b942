package auth

import (
	"context"
	"errors"
	"testing"

	"social-job-orchestrator/internal/accounts"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/social"
)

func factoryFor(client social.Client) social.Factory {
	return social.FactoryFunc(func(context.Context, domain.AccountMetadata) (social.Client, error) {
		return client, nil
	})
}

func TestAuthenticateRefreshSucceeds(t *testing.T) {
	client := social.NewFake()
	client.RefreshFunc = func(_ context.Context, token string) (domain.SessionData, error) {
		if token != "R1" {
			t.Fatalf("expected refresh token R1, got %q", token)
		}
		return domain.SessionData{AccessToken: "A2", RefreshToken: "R2", DID: "D"}, nil
	}

	store := accounts.NewFake()
	coord := New(factoryFor(client), store, nil)

	session := domain.SessionData{RefreshToken: "R1", AccessToken: "A1", DID: "D"}
	meta := domain.AccountMetadata{AccountID: "acct-1"}

	res, err := coord.Authenticate(context.Background(), session, meta)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.Method != "refresh" {
		t.Fatalf("expected method=refresh, got %s", res.Method)
	}
	if len(store.Updates) != 1 || store.Updates[0].AccessToken != "A2" || store.Updates[0].RefreshToken != "R2" {
		t.Fatalf("expected exactly one token write-back with rotated tokens, got %+v", store.Updates)
	}
}

func TestAuthenticateResumeSkippedWithoutDID(t *testing.T) {
	client := social.NewFake()
	client.RefreshFunc = func(context.Context, string) (domain.SessionData, error) {
		return domain.SessionData{}, errors.New("refresh rejected")
	}
	client.LoginFunc = func(_ context.Context, handle, password string) (domain.SessionData, error) {
		return domain.SessionData{AccessToken: "A3", RefreshToken: "R3", DID: "D3"}, nil
	}

	store := accounts.NewFake()
	coord := New(factoryFor(client), store, nil)

	session := domain.SessionData{RefreshToken: "R1", Handle: "alice.bsky.social"}
	meta := domain.AccountMetadata{AccountID: "acct-2", Password: "secret"}

	res, err := coord.Authenticate(context.Background(), session, meta)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.Method != "login" {
		t.Fatalf("expected resume to be skipped (no DID) and fall through to login, got method=%s", res.Method)
	}
}

func TestAuthenticateAllMethodsFail(t *testing.T) {
	client := social.NewFake()
	client.RefreshFunc = func(context.Context, string) (domain.SessionData, error) {
		return domain.SessionData{}, errors.New("refresh rejected")
	}
	client.ResumeFunc = func(context.Context, domain.SessionData) (domain.SessionData, error) {
		return domain.SessionData{}, errors.New("resume rejected")
	}
	client.LoginFunc = func(context.Context, string, string) (domain.SessionData, error) {
		return domain.SessionData{}, errors.New("login rejected")
	}

	store := accounts.NewFake()
	coord := New(factoryFor(client), store, nil)

	session := domain.SessionData{RefreshToken: "R1", DID: "D1"}
	meta := domain.AccountMetadata{AccountID: "acct-3", Password: "secret"}

	_, err := coord.Authenticate(context.Background(), session, meta)
	if err == nil {
		t.Fatalf("expected AuthExhausted when all three methods fail")
	}
}
