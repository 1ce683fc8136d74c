package notification

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/guidy/payments/internal/core/events"
)

var completedTemplate = template.Must(template.New("completed").Parse(
	`Payment {{.TransactionID}} via {{.Provider}} completed.

Owner:    {{.OwnerID}}
Amount:   {{.AmountMinor}} {{.Currency}} (minor units)
Credited: {{.TokensCredited}} tokens
`))

var failedTemplate = template.Must(template.New("failed").Parse(
	`Payment {{.TransactionID}} via {{.Provider}} failed.

Owner:  {{.OwnerID}}
Amount: {{.AmountMinor}} {{.Currency}} (minor units)
Reason: {{.FailureReason}}
{{if .ReviewFlag}}
This transaction is flagged for manual review.
{{end}}`))

// EventHandler turns reconciliation events into ops email. Delivery is best
// effort; a full queue or a down SMTP server never propagates back into the
// reconciliation path.
type EventHandler struct {
	mailer   *Mailer
	opsInbox string
	logger   *slog.Logger
}

func NewEventHandler(mailer *Mailer, opsInbox string, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		mailer:   mailer,
		opsInbox: opsInbox,
		logger:   logger,
	}
}

// Subscribe registers the handler on the event bus.
func (h *EventHandler) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeTransactionCompleted, h.HandleTransactionCompleted)
	bus.Subscribe(events.EventTypeTransactionFailed, h.HandleTransactionFailed)
}

func (h *EventHandler) HandleTransactionCompleted(_ context.Context, event events.Event) error {
	completed, ok := event.(*events.TransactionCompletedEvent)
	if !ok {
		h.logger.Warn("unexpected payload on completed event", "event_id", event.EventID())
		return nil
	}

	body, err := render(completedTemplate, completed)
	if err != nil {
		h.logger.Error("failed to render completed email", "error", err)
		return nil
	}

	h.mailer.Enqueue(EmailJob{
		To:      h.opsInbox,
		Subject: fmt.Sprintf("Payment completed: %s", completed.TransactionID),
		Body:    body,
	})
	return nil
}

func (h *EventHandler) HandleTransactionFailed(_ context.Context, event events.Event) error {
	failed, ok := event.(*events.TransactionFailedEvent)
	if !ok {
		h.logger.Warn("unexpected payload on failed event", "event_id", event.EventID())
		return nil
	}

	body, err := render(failedTemplate, failed)
	if err != nil {
		h.logger.Error("failed to render failure email", "error", err)
		return nil
	}

	subject := fmt.Sprintf("Payment failed: %s", failed.TransactionID)
	if failed.ReviewFlag {
		subject = fmt.Sprintf("Payment needs review: %s", failed.TransactionID)
	}

	h.mailer.Enqueue(EmailJob{
		To:      h.opsInbox,
		Subject: subject,
		Body:    body,
	})
	return nil
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
