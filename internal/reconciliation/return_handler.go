package reconciliation

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/guidy/payments/internal/core/datamodel/transaction"
	"github.com/guidy/payments/internal/gateway"
	"github.com/guidy/payments/internal/transport"
)

// ReturnHandler terminates the browser leg of a checkout. The payer lands
// here after the gateway's hosted page; whatever happens, they get a 302 to
// a frontend page. The webhook leg stays authoritative, this endpoint just
// reconciles opportunistically so the payer usually sees the final state
// without waiting for it.
type ReturnHandler struct {
	*transport.BaseHandler
	registry   *gateway.Registry
	service    *Service
	successURL string
	failureURL string
}

func NewReturnHandler(logger *slog.Logger, registry *gateway.Registry, service *Service, successURL, failureURL string) *ReturnHandler {
	return &ReturnHandler{
		BaseHandler: transport.NewBaseHandler(logger),
		registry:    registry,
		service:     service,
		successURL:  successURL,
		failureURL:  failureURL,
	}
}

func (h *ReturnHandler) RegisterRoutes(r chi.Router) {
	// CinetPay sends the browser back with a POST, the others use GET.
	r.HandleFunc("/payments/return/{provider}", h.HandleReturn)
}

func (h *ReturnHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	adapter, ok := h.registry.For(providerName)
	if !ok {
		h.redirectFailure(w, r, "", "unknown payment provider")
		return
	}

	event, err := adapter.ParseNotification(r.Context(), r)
	if err != nil {
		h.Logger.Warn("return leg could not be parsed", "provider", providerName, "error", err)
		h.redirectFailure(w, r, "", "payment could not be verified")
		return
	}
	if event == nil {
		h.redirectFailure(w, r, "", "missing payment reference")
		return
	}

	result, err := h.service.Reconcile(r.Context(), event)
	if err != nil {
		h.Logger.Error("return leg reconciliation failed", "provider", providerName, "error", err)
		h.redirectFailure(w, r, event.TransactionID, "payment could not be verified")
		return
	}

	// The outcome says what this delivery did; where the payer lands depends
	// on where the transaction ended up. A cleanly recorded failure is still
	// an Applied outcome but must never land on the success page.
	tx := result.Transaction
	switch {
	case tx != nil && (tx.Status == transaction.StatusCompleted || tx.Status == transaction.StatusPending):
		h.redirectSuccess(w, r, result)
	default:
		txID := ""
		if tx != nil {
			txID = tx.ID
		}
		h.redirectFailure(w, r, txID, failureReason(result))
	}
}

// failureReason picks a human-readable reason for the failure page.
func failureReason(result *Result) string {
	if result.Reason != "" {
		return result.Reason
	}
	if tx := result.Transaction; tx != nil {
		if tx.FailureReason != nil && *tx.FailureReason != "" {
			return *tx.FailureReason
		}
		if tx.Status == transaction.StatusExpired {
			return "payment window expired"
		}
	}
	switch result.Outcome {
	case OutcomeUnknownTransaction:
		return "unknown payment reference"
	case OutcomeTransientFailure:
		return "payment could not be verified"
	}
	return "payment was not completed"
}

func (h *ReturnHandler) redirectSuccess(w http.ResponseWriter, r *http.Request, result *Result) {
	q := url.Values{}
	if result.Transaction != nil {
		q.Set("transaction_id", result.Transaction.ID)
		q.Set("amount_minor", strconv.FormatInt(result.Transaction.AmountMinor, 10))
		q.Set("currency", result.Transaction.Currency)
		q.Set("status", string(result.Transaction.Status))
	}
	http.Redirect(w, r, h.successURL+"?"+q.Encode(), http.StatusFound)
}

func (h *ReturnHandler) redirectFailure(w http.ResponseWriter, r *http.Request, transactionID, reason string) {
	q := url.Values{}
	if transactionID != "" {
		q.Set("transaction_id", transactionID)
	}
	q.Set("reason", reason)
	http.Redirect(w, r, h.failureURL+"?"+q.Encode(), http.StatusFound)
}
