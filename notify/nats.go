package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"autoprice/models"
	"autoprice/storage"
	"autoprice/utils"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "autoprice.changelog"

// headerCarrier adapts nats.Msg headers for trace propagation.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

var _ storage.ChangelogSink = (*NATS)(nil)

// NATS publishes messages as JSON on a subject.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS connects to url.
func NewNATS(url, subject string) (*NATS, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("autoprice"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

func (n *NATS) Name() string { return "nats:" + n.subject }

func (n *NATS) Send(ctx context.Context, msg Message) error {
	return n.publish(ctx, n.subject, msg)
}

// changelogPayload is published on <subject>.prices, one row per price
// difference using the snapshot column names.
type changelogPayload struct {
	Day   string        `json:"day"`
	Items []storage.Row `json:"items"`
}

// WritePriceChangelog publishes a day's price changelog on <subject>.prices.
func (n *NATS) WritePriceChangelog(ctx context.Context, key utils.DateKey, items []models.PriceDifferenceItem) error {
	payload := changelogPayload{Day: key.Day(), Items: make([]storage.Row, len(items))}
	for i, item := range items {
		payload.Items[i] = storage.PriceDifferences.Encode(item)
	}
	return n.publish(ctx, n.subject+".prices", payload)
}

func (n *NATS) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(m))
	if err := n.conn.PublishMsg(m); err != nil {
		return err
	}
	return n.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
