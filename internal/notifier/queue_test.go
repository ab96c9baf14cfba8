package notifier

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"bustime/internal/model"
	"bustime/internal/storage"
)

func newQueueStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bustime.db")})
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestQueueSinkSendsImmediately(t *testing.T) {
	t.Parallel()
	store := newQueueStore(t)
	sender := &stubSender{}
	q := NewQueueSink(store, sender, QueueConfig{Recipient: "ops@bustime.site"}, log.New(io.Discard, "", 0))

	if err := q.Notify(context.Background(), "✅ [bustime.site] GPT 콘텐츠 생성 완료", "9건", model.PriorityNormal); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if sender.calls != 1 || sender.lastMsg.To[0] != "ops@bustime.site" {
		t.Fatalf("unexpected send: calls=%d msg=%+v", sender.calls, sender.lastMsg)
	}
	pending, err := store.ListPendingAlerts(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ListPendingAlerts error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending alerts, got %d", len(pending))
	}
}

func TestQueueSinkRetriesUntilMaxAttempts(t *testing.T) {
	t.Parallel()
	store := newQueueStore(t)
	ctx := context.Background()
	sender := &stubSender{err: errors.New("smtp down")}
	q := NewQueueSink(store, sender, QueueConfig{MaxAttempts: 2}, log.New(io.Discard, "", 0))

	if err := q.Notify(ctx, "💥 [bustime.site] 자동화 치명적 오류", "boom", model.PriorityCritical); err != nil {
		t.Fatalf("Notify must not fail on delivery error: %v", err)
	}

	sent, err := q.Dispatch(ctx)
	if err != nil || sent != 0 {
		t.Fatalf("Dispatch: sent=%d err=%v", sent, err)
	}
	if sender.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", sender.calls)
	}

	// attempts 已达上限，不再重试
	if sent, _ := q.Dispatch(ctx); sent != 0 || sender.calls != 2 {
		t.Fatalf("expected no further attempts, calls=%d", sender.calls)
	}
}

func TestQueueSinkDispatchDeliversAfterRecovery(t *testing.T) {
	t.Parallel()
	store := newQueueStore(t)
	ctx := context.Background()
	sender := &stubSender{err: errors.New("temporary")}
	q := NewQueueSink(store, sender, QueueConfig{}, log.New(io.Discard, "", 0))

	if err := q.Notify(ctx, "🚨 [bustime.site] 데이터 검증 실패", "x", model.PriorityHigh); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	sender.err = nil
	sent, err := q.Dispatch(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("Dispatch: sent=%d err=%v", sent, err)
	}
	if sender.lastMsg.To[0] != "admin@bustime.site" {
		t.Fatalf("expected default recipient, got %v", sender.lastMsg.To)
	}
}

func TestQueueSinkWithoutSenderKeepsAlertQueued(t *testing.T) {
	t.Parallel()
	store := newQueueStore(t)
	ctx := context.Background()
	q := NewQueueSink(store, nil, QueueConfig{}, log.New(io.Discard, "", 0))

	if err := q.Notify(ctx, "subject", "body", ""); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if sent, err := q.Dispatch(ctx); err != nil || sent != 0 {
		t.Fatalf("Dispatch without sender: sent=%d err=%v", sent, err)
	}
	pending, _ := store.ListPendingAlerts(ctx, 0, 0)
	if len(pending) != 1 || pending[0].Priority != model.PriorityNormal {
		t.Fatalf("expected one queued normal alert, got %+v", pending)
	}
}
