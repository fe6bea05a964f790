package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"autoprice/services"
	"autoprice/utils"
)

func testMessage() Message {
	day := utils.KeyFor(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	return NewMessage(services.Report{Day: day}, "prod", "https://dash.example.com")
}

func TestMessageText(t *testing.T) {
	got := testMessage().Text()
	for _, s := range []string{"2024-01-10", "[prod]", "no changes detected", "https://dash.example.com"} {
		if !strings.Contains(got, s) {
			t.Errorf("text %q lacks %q", got, s)
		}
	}
}

func capture(t *testing.T, status int) (*httptest.Server, *map[string]any) {
	t.Helper()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &body
}

func TestGoogleChat(t *testing.T) {
	srv, body := capture(t, http.StatusOK)
	require.NoError(t, NewGoogleChat(srv.URL).Send(context.Background(), testMessage()))
	text, _ := (*body)["text"].(string)
	if !strings.Contains(text, "no changes detected") {
		t.Errorf("gchat text: got %q", text)
	}
}

func TestTeams(t *testing.T) {
	srv, body := capture(t, http.StatusOK)
	require.NoError(t, NewTeams(srv.URL).Send(context.Background(), testMessage()))
	if got := (*body)["@type"]; got != "MessageCard" {
		t.Errorf("@type: got %v, want MessageCard", got)
	}
	if _, ok := (*body)["potentialAction"]; !ok {
		t.Error("dashboard action missing")
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv, _ := capture(t, http.StatusBadRequest)
	if err := NewGoogleChat(srv.URL).Send(context.Background(), testMessage()); err == nil {
		t.Error("want error for 400 response")
	}
}

type stubNotifier struct {
	name string
	err  error
	sent int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Send(context.Context, Message) error {
	s.sent++
	return s.err
}

func TestMultiSwallowsErrors(t *testing.T) {
	bad := &stubNotifier{name: "bad", err: errors.New("boom")}
	good := &stubNotifier{name: "good"}
	m := NewMulti(utils.NewDiscardLogger(), bad, good)

	if got := m.Send(context.Background(), testMessage()); got != 1 {
		t.Errorf("sent: got %d, want 1", got)
	}
	if bad.sent != 1 || good.sent != 1 {
		t.Errorf("attempts: got %d/%d, want 1/1", bad.sent, good.sent)
	}
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{Subject: "x"}
	c := (*headerCarrier)(msg)
	if got := c.Get("traceparent"); got != "" {
		t.Errorf("empty carrier: got %q", got)
	}
	if keys := c.Keys(); keys != nil {
		t.Errorf("empty keys: got %v", keys)
	}
	c.Set("traceparent", "00-abc-def-01")
	if got := msg.Header.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("header: got %q", got)
	}
	require.Len(t, c.Keys(), 1)
}

func TestNATSConnectFailure(t *testing.T) {
	if _, err := NewNATS("nats://127.0.0.1:1", ""); err == nil {
		t.Error("want connect error")
	}
}
