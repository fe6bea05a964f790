// Package notify delivers a day's changelog digest to chat channels and the
// message bus. Delivery is best effort.
package notify

import (
	"context"
	"fmt"
	"strings"

	"autoprice/services"
	"autoprice/utils"
)

// Message is the digest sent to every channel.
type Message struct {
	Environment  string                 `json:"environment"`
	Day          string                 `json:"day"`
	Summary      string                 `json:"summary"`
	Reasons      []services.ReasonCount `json:"reasons"`
	DashboardURL string                 `json:"dashboard_url,omitempty"`
}

// NewMessage digests a changelog report.
func NewMessage(r services.Report, environment, dashboardURL string) Message {
	return Message{
		Environment:  environment,
		Day:          r.Day.Day(),
		Summary:      r.Summary(),
		Reasons:      r.ReasonCounts(),
		DashboardURL: dashboardURL,
	}
}

// Text renders the message for chat channels.
func (m Message) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Price changes %s*", m.Day)
	if m.Environment != "" {
		fmt.Fprintf(&b, " [%s]", m.Environment)
	}
	b.WriteString("\n")
	b.WriteString(m.Summary)
	if m.DashboardURL != "" {
		fmt.Fprintf(&b, "\nDashboard: %s", m.DashboardURL)
	}
	return b.String()
}

// Notifier delivers a message to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Multi fans a message out to several notifiers. Failures are logged and
// never returned.
type Multi struct {
	notifiers []Notifier
	logger    *utils.Logger
}

func NewMulti(logger *utils.Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

// Len returns the number of configured channels.
func (m *Multi) Len() int { return len(m.notifiers) }

// Send delivers msg to every channel and reports how many succeeded.
func (m *Multi) Send(ctx context.Context, msg Message) int {
	sent := 0
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			m.logger.Error("[notify] %s: %v", n.Name(), err)
			continue
		}
		m.logger.Info("[notify] Sent to %s", n.Name())
		sent++
	}
	return sent
}
