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

// NotchPayAdapter handles NotchPay webhooks. NotchPay signs every delivery
// with an HMAC-SHA256 of the raw body in the x-notch-signature header, so the
// verified payload is treated as authoritative and no status re-query is made.
type NotchPayAdapter struct {
	cfg    internal.GatewayConfig
	logger *slog.Logger
}

func NewNotchPayAdapter(cfg internal.GatewayConfig, logger *slog.Logger) *NotchPayAdapter {
	return &NotchPayAdapter{cfg: cfg, logger: logger}
}

func (a *NotchPayAdapter) Provider() transaction.Provider {
	return transaction.ProviderNotchPay
}

type notchpayWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Reference         string      `json:"reference"`
		MerchantReference string      `json:"merchant_reference"`
		Amount            json.Number `json:"amount"`
		Currency          string      `json:"currency"`
		Status            string      `json:"status"`
	} `json:"data"`
}

func (a *NotchPayAdapter) ParseNotification(ctx context.Context, r *http.Request) (*PaymentEvent, error) {
	// notifications are POST only; a GET is the availability probe
	if r.Method == http.MethodGet {
		if ref := r.URL.Query().Get("reference"); ref != "" {
			// browser return: the reference alone is enough, the engine
			// resolves actual state from what the notify path recorded
			return &PaymentEvent{
				Provider:         transaction.ProviderNotchPay,
				GatewayReference: ref,
				TransactionID:    r.URL.Query().Get("trxref"),
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
		signature := r.Header.Get("x-notch-signature")
		if signature == "" || !verifySignature(a.cfg.Secret, body, signature) {
			a.logger.Warn("notchpay webhook signature mismatch")
			return nil, internal.ErrAuthenticityFailed
		}
	}

	var hook notchpayWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, internal.ErrMalformedPayload.WithCause(err)
	}
	if hook.Data.Reference == "" {
		return nil, internal.ErrMalformedPayload.WithCause(fmt.Errorf("missing payment reference"))
	}

	var status Status
	switch hook.Data.Status {
	case "complete", "completed", "success":
		status = StatusSuccess
	case "failed", "rejected":
		status = StatusFailed
	case "canceled", "cancelled", "abandoned":
		status = StatusCancelled
	default:
		status = StatusPending
	}

	amountMinor, amountErr := ParseAmountMinor(hook.Data.Amount.String(), hook.Data.Currency)
	if amountErr != nil && status == StatusSuccess {
		return nil, internal.ErrMalformedPayload.WithCause(amountErr)
	}

	return &PaymentEvent{
		Provider:         transaction.ProviderNotchPay,
		GatewayReference: hook.Data.Reference,
		TransactionID:    hook.Data.MerchantReference,
		ReportedStatus:   status,
		HasAmount:        amountErr == nil,
		ReportedAmount:   amountMinor,
		ReportedCurrency: hook.Data.Currency,
		RawPayload:       body,
	}, nil
}
