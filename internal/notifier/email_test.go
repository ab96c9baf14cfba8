package notifier

import (
	"context"
	"strings"
	"testing"
)

func TestBuildEmailDataEncodesKoreanSubject(t *testing.T) {
	t.Parallel()

	data := buildEmailData(EmailMessage{
		From:    "from@example.com",
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "🚨 [bustime.site] 데이터 검증 실패",
		Body:    "body",
	})
	if !strings.Contains(data, "To: a@example.com,b@example.com\r\n") {
		t.Fatalf("unexpected recipients header: %q", data)
	}
	if !strings.Contains(data, "Subject: =?utf-8?b?") {
		t.Fatalf("expected encoded subject, got %q", data)
	}
	if !strings.HasSuffix(data, "\r\n\r\nbody") {
		t.Fatalf("expected body after headers, got %q", data)
	}
}

func TestBuildEmailDataKeepsASCIISubject(t *testing.T) {
	t.Parallel()

	data := buildEmailData(EmailMessage{From: "f@example.com", To: []string{"t@example.com"}, Subject: "plain"})
	if !strings.Contains(data, "Subject: plain\r\n") {
		t.Fatalf("unexpected subject header: %q", data)
	}
}

func TestSMTPClientRejectsEmptyRecipients(t *testing.T) {
	t.Parallel()

	c := NewSMTPClient(EmailConfig{Host: "localhost", From: "from@example.com"})
	if c.addr != "localhost:587" {
		t.Fatalf("unexpected default addr %s", c.addr)
	}
	if err := c.Send(context.Background(), EmailMessage{Subject: "x"}); err == nil {
		t.Fatalf("expected error for empty recipients")
	}
}

// --- stubs ---

type stubSender struct {
	calls   int
	lastMsg EmailMessage
	err     error
}

func (s *stubSender) Send(ctx context.Context, msg EmailMessage) error {
	s.calls++
	s.lastMsg = msg
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}
