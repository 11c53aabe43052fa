package cron

import (
	"context"
	"errors"
	"strings"
	"testing"

	cjwebhook "github.com/angelmondragon/orderflow-backend/internal/webhooks/cj"
)

type fakeRefresher struct {
	refreshed bool
	err       error
	calls     int
}

func (f *fakeRefresher) RefreshTokenIfExpiring(context.Context) (bool, error) {
	f.calls++
	return f.refreshed, f.err
}

func TestTokenRefreshJobRunsEveryProvider(t *testing.T) {
	ok := &fakeRefresher{refreshed: true}
	broken := &fakeRefresher{err: errors.New("auth endpoint down")}
	job, err := NewTokenRefreshJob(TokenRefreshJobParams{
		Logger:     testLogger(),
		Refreshers: map[string]TokenRefresher{"cjdropship": ok, "other": broken},
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	err = job.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "other") {
		t.Fatalf("expected aggregated error naming provider, got %v", err)
	}
	if ok.calls != 1 || broken.calls != 1 {
		t.Fatalf("expected each refresher called once, got %d and %d", ok.calls, broken.calls)
	}
}

func TestTokenRefreshJobRequiresRefreshers(t *testing.T) {
	if _, err := NewTokenRefreshJob(TokenRefreshJobParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected error")
	}
}

type fakeReplayer struct {
	limit   int
	summary cjwebhook.ReplaySummary
	err     error
}

func (f *fakeReplayer) Replay(_ context.Context, limit int) (cjwebhook.ReplaySummary, error) {
	f.limit = limit
	return f.summary, f.err
}

func TestWebhookReplayJob(t *testing.T) {
	replayer := &fakeReplayer{summary: cjwebhook.ReplaySummary{Replayed: 2, Succeeded: 2}}
	job, err := NewWebhookReplayJob(WebhookReplayJobParams{Logger: testLogger(), Replayer: replayer})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if replayer.limit != defaultReplayBatch {
		t.Fatalf("expected batch %d, got %d", defaultReplayBatch, replayer.limit)
	}

	replayer.err = errors.New("replay msg-1: unresolved")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected replay error to surface")
	}
}
