package notifier

import (
	"context"
	"log"
	"strings"
	"testing"

	"bustime/internal/model"
)

func TestLogNotifierWritesAlert(t *testing.T) {
	var buf strings.Builder
	logger := log.New(&buf, "", 0)
	n := NewLogNotifier(logger)

	if err := n.Notify(context.Background(), "🚨 [bustime.site] GPT 콘텐츠 생성 0건", "발행된 콘텐츠 없음", model.PriorityHigh); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	logged := buf.String()
	if !strings.Contains(logged, "GPT 콘텐츠 생성 0건") || !strings.Contains(logged, "[high]") {
		t.Fatalf("log output missing alert info: %s", logged)
	}
}

func TestLogNotifierSkipsEmptySubject(t *testing.T) {
	var buf strings.Builder
	n := NewLogNotifier(log.New(&buf, "", 0))

	if err := n.Notify(context.Background(), "", "", model.PriorityNormal); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no log output, got %q", buf.String())
	}
}
