package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Webhook posts messages to an incoming-webhook URL.
type Webhook struct {
	name    string
	url     string
	client  *resty.Client
	payload func(Message) any
}

func newWebhook(name, url string, payload func(Message) any) *Webhook {
	client := resty.New().
		SetTimeout(30*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("content-type", "application/json; charset=UTF-8")
	return &Webhook{name: name, url: url, client: client, payload: payload}
}

// NewGoogleChat posts to a Google Chat space webhook.
func NewGoogleChat(url string) *Webhook {
	return newWebhook("gchat", url, func(m Message) any {
		return map[string]string{"text": m.Text()}
	})
}

// NewTeams posts a MessageCard to a Microsoft Teams connector.
func NewTeams(url string) *Webhook {
	return newWebhook("teams", url, func(m Message) any {
		card := map[string]any{
			"@type":    "MessageCard",
			"@context": "https://schema.org/extensions",
			"summary":  m.Summary,
			"title":    "Price changes " + m.Day,
			"text":     m.Summary,
		}
		if m.DashboardURL != "" {
			card["potentialAction"] = []map[string]any{{
				"@type":   "OpenUri",
				"name":    "Open dashboard",
				"targets": []map[string]string{{"os": "default", "uri": m.DashboardURL}},
			}}
		}
		return card
	})
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	res, err := w.client.R().
		SetContext(ctx).
		SetBody(w.payload(msg)).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("%s webhook: %w", w.name, err)
	}
	if res.IsError() {
		return fmt.Errorf("%s webhook: status %d: %s", w.name, res.StatusCode(), res.String())
	}
	return nil
}
