package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
)

// PayPalAdapter handles PayPal order webhooks and browser returns. Webhook
// bodies only name the order; status, amount and currency always come from
// the /v2/checkout/orders/{id} query so a forged callback cannot claim a
// capture that never happened.
type PayPalAdapter struct {
	cfg    internal.GatewayConfig
	client *http.Client
	logger *slog.Logger
}

func NewPayPalAdapter(cfg internal.GatewayConfig, logger *slog.Logger) *PayPalAdapter {
	return &PayPalAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (a *PayPalAdapter) Provider() transaction.Provider {
	return transaction.ProviderPayPal
}

type paypalWebhook struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID string `json:"id"`
	} `json:"resource"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Amount   struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
}

func (a *PayPalAdapter) ParseNotification(ctx context.Context, r *http.Request) (*PaymentEvent, error) {
	var orderID string
	var raw json.RawMessage

	switch r.Method {
	case http.MethodGet:
		// browser return: PayPal appends ?token=<orderID> to the return URL
		orderID = r.URL.Query().Get("token")
		if orderID == "" {
			return nil, nil
		}
	case http.MethodPost:
		var hook paypalWebhook
		if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
			return nil, internal.ErrMalformedPayload.WithCause(err)
		}
		if hook.Resource.ID == "" {
			return nil, internal.ErrMalformedPayload.WithCause(fmt.Errorf("missing resource id"))
		}
		orderID = hook.Resource.ID
		raw, _ = json.Marshal(hook)
	default:
		return nil, internal.ErrMalformedPayload
	}

	order, err := a.fetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var status Status
	switch order.Status {
	case "COMPLETED":
		status = StatusSuccess
	case "VOIDED":
		status = StatusCancelled
	default:
		status = StatusPending
	}

	event := &PaymentEvent{
		Provider:         transaction.ProviderPayPal,
		GatewayReference: order.ID,
		ReportedStatus:   status,
		RawPayload:       raw,
	}

	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		event.TransactionID = unit.CustomID
		event.ReportedCurrency = unit.Amount.CurrencyCode
		amountMinor, amountErr := ParseAmountMinor(unit.Amount.Value, unit.Amount.CurrencyCode)
		if amountErr != nil && status == StatusSuccess {
			return nil, internal.ErrMalformedPayload.WithCause(amountErr)
		}
		event.HasAmount = amountErr == nil
		event.ReportedAmount = amountMinor
	}

	return event, nil
}

// fetchOrder is the authoritative status query against the orders API.
func (a *PayPalAdapter) fetchOrder(ctx context.Context, orderID string) (*paypalOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/v2/checkout/orders/"+orderID, nil)
	if err != nil {
		return nil, internal.NewInternalError("build paypal order request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("paypal order query failed", "order_id", orderID, "error", err)
		return nil, internal.ErrGatewayUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, internal.ErrAuthenticityFailed.WithCause(fmt.Errorf("paypal order %s does not exist", orderID))
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, internal.ErrGatewayUnavailable.WithCause(fmt.Errorf("paypal returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, internal.ErrAuthenticityFailed.WithCause(fmt.Errorf("paypal order query rejected with status %d", resp.StatusCode))
	}

	var order paypalOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, internal.ErrGatewayUnavailable.WithCause(fmt.Errorf("decode paypal order: %w", err))
	}

	return &order, nil
}
