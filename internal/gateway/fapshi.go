package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
)

// FapshiAdapter handles Fapshi webhooks. Deliveries carry an HMAC-SHA256
// signature of the raw body in x-fapshi-signature; amounts are XAF and
// already in minor units (XAF has no decimals).
type FapshiAdapter struct {
	cfg    internal.GatewayConfig
	logger *slog.Logger
}

func NewFapshiAdapter(cfg internal.GatewayConfig, logger *slog.Logger) *FapshiAdapter {
	return &FapshiAdapter{cfg: cfg, logger: logger}
}

func (a *FapshiAdapter) Provider() transaction.Provider {
	return transaction.ProviderFapshi
}

// Amount is a pointer so an omitted field stays distinguishable from a
// reported zero; the engine only cross-checks amounts the provider sent.
type fapshiWebhook struct {
	TransID    string `json:"transId"`
	Status     string `json:"status"`
	Amount     *int64 `json:"amount"`
	Currency   string `json:"currency"`
	ExternalID string `json:"externalId"`
}

func (a *FapshiAdapter) ParseNotification(ctx context.Context, r *http.Request) (*PaymentEvent, error) {
	if r.Method == http.MethodGet {
		if ref := r.URL.Query().Get("transId"); ref != "" {
			return &PaymentEvent{
				Provider:         transaction.ProviderFapshi,
				GatewayReference: ref,
				ReportedStatus:   StatusPending,
			}, nil
		}
		return nil, nil
	}
	if r.Method != http.MethodPost {
		return nil, internal.ErrMalformedPayload
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, internal.ErrMalformedPayload.WithCause(err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if a.cfg.Secret != "" {
		signature := r.Header.Get("x-fapshi-signature")
		if signature == "" || !verifySignature(a.cfg.Secret, body, signature) {
			a.logger.Warn("fapshi webhook signature mismatch")
			return nil, internal.ErrAuthenticityFailed
		}
	}

	var hook fapshiWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, internal.ErrMalformedPayload.WithCause(err)
	}
	if hook.TransID == "" {
		return nil, internal.ErrMalformedPayload.WithCause(fmt.Errorf("missing transId"))
	}

	var status Status
	switch hook.Status {
	case "SUCCESSFUL":
		status = StatusSuccess
	case "FAILED":
		status = StatusFailed
	case "EXPIRED":
		status = StatusCancelled
	default:
		status = StatusPending
	}

	currency := hook.Currency
	if currency == "" {
		currency = "XAF"
	}

	event := &PaymentEvent{
		Provider:         transaction.ProviderFapshi,
		GatewayReference: hook.TransID,
		TransactionID:    hook.ExternalID,
		ReportedStatus:   status,
		ReportedCurrency: currency,
		RawPayload:       body,
	}
	if hook.Amount != nil {
		event.HasAmount = true
		event.ReportedAmount = *hook.Amount
	}
	return event, nil
}
