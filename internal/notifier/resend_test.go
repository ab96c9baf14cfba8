package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResendClientSend(t *testing.T) {
	t.Parallel()

	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer re_test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	c := NewResendClient(ResendConfig{APIKey: "re_test", Endpoint: srv.URL}, srv.Client())
	err := c.Send(context.Background(), EmailMessage{To: []string{"admin@bustime.site"}, Subject: "s", Body: "b"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got.From != "BusTime <onboarding@resend.dev>" || got.To[0] != "admin@bustime.site" || got.Text != "b" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestResendClientErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid from"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	if err := NewResendClient(ResendConfig{Endpoint: srv.URL}, srv.Client()).Send(context.Background(), EmailMessage{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	err := NewResendClient(ResendConfig{APIKey: "k", Endpoint: srv.URL}, srv.Client()).Send(context.Background(), EmailMessage{To: []string{"x@example.com"}})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 error, got %v", err)
	}
}
