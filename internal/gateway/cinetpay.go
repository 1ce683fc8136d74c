package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
)

// CinetPayAdapter handles CinetPay notify/return callbacks. CinetPay posts
// form-encoded notifications whose self-reported status is not trustworthy;
// the adapter always re-queries the /v2/payment/check endpoint and uses that
// response as the only source of status, amount and currency.
type CinetPayAdapter struct {
	cfg    internal.GatewayConfig
	client *http.Client
	logger *slog.Logger
}

func NewCinetPayAdapter(cfg internal.GatewayConfig, logger *slog.Logger) *CinetPayAdapter {
	return &CinetPayAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (a *CinetPayAdapter) Provider() transaction.Provider {
	return transaction.ProviderCinetPay
}

func (a *CinetPayAdapter) ParseNotification(ctx context.Context, r *http.Request) (*PaymentEvent, error) {
	var reference string

	switch r.Method {
	case http.MethodGet:
		// CinetPay probes the notify URL with a bare GET before activating it
		reference = r.URL.Query().Get("cpm_trans_id")
		if reference == "" {
			return nil, nil
		}
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			return nil, internal.ErrMalformedPayload.WithCause(err)
		}
		reference = r.PostForm.Get("cpm_trans_id")
		if reference == "" {
			return nil, internal.ErrMalformedPayload.WithCause(fmt.Errorf("missing cpm_trans_id"))
		}
		if siteID := r.PostForm.Get("cpm_site_id"); siteID != "" && a.cfg.SiteID != "" && siteID != a.cfg.SiteID {
			a.logger.Warn("cinetpay callback for foreign site id", "site_id", siteID)
			return nil, internal.ErrAuthenticityFailed
		}
	default:
		return nil, internal.ErrMalformedPayload
	}

	raw, _ := json.Marshal(flattenValues(r.Form))

	status, amountMinor, hasAmount, currency, err := a.checkPayment(ctx, reference)
	if err != nil {
		return nil, err
	}

	return &PaymentEvent{
		Provider:         transaction.ProviderCinetPay,
		GatewayReference: reference,
		TransactionID:    r.Form.Get("cpm_custom"),
		ReportedStatus:   status,
		HasAmount:        hasAmount,
		ReportedAmount:   amountMinor,
		ReportedCurrency: currency,
		RawPayload:       raw,
	}, nil
}

type cinetpayCheckResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
		Status   string      `json:"status"`
	} `json:"data"`
}

// checkPayment is the authoritative status query; the callback body's own
// cpm_result field is discarded.
func (a *CinetPayAdapter) checkPayment(ctx context.Context, reference string) (Status, int64, bool, string, error) {
	payload := map[string]string{
		"apikey":         a.cfg.APIKey,
		"site_id":        a.cfg.SiteID,
		"transaction_id": reference,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, false, "", internal.NewInternalError("marshal cinetpay check request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v2/payment/check", bytes.NewReader(body))
	if err != nil {
		return "", 0, false, "", internal.NewInternalError("build cinetpay check request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("cinetpay status query failed", "reference", reference, "error", err)
		return "", 0, false, "", internal.ErrGatewayUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", 0, false, "", internal.ErrGatewayUnavailable.WithCause(fmt.Errorf("cinetpay returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, false, "", internal.ErrAuthenticityFailed.WithCause(fmt.Errorf("cinetpay check rejected with status %d", resp.StatusCode))
	}

	var checkResp cinetpayCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&checkResp); err != nil {
		return "", 0, false, "", internal.ErrGatewayUnavailable.WithCause(fmt.Errorf("decode cinetpay check response: %w", err))
	}

	var status Status
	switch checkResp.Data.Status {
	case "ACCEPTED":
		status = StatusSuccess
	case "REFUSED":
		status = StatusFailed
	case "CANCELLED":
		status = StatusCancelled
	default:
		status = StatusPending
	}

	amountMinor, amountErr := ParseAmountMinor(checkResp.Data.Amount.String(), checkResp.Data.Currency)
	if amountErr != nil && status == StatusSuccess {
		return "", 0, false, "", internal.ErrMalformedPayload.WithCause(amountErr)
	}

	a.logger.Info("cinetpay status query",
		"reference", reference,
		"code", checkResp.Code,
		"status", checkResp.Data.Status,
		"amount_minor", amountMinor,
		"currency", checkResp.Data.Currency)

	return status, amountMinor, amountErr == nil, checkResp.Data.Currency, nil
}

func flattenValues(values map[string][]string) map[string]string {
	flat := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	return flat
}
