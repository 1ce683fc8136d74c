package reconciliation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	internal "github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/gateway"
	"github.com/guidy/payments/internal/transport"
)

// WebhookHandler receives server-to-server payment notifications. Response
// codes drive gateway retry behavior: 2xx acknowledges, 4xx tells the
// gateway the delivery is hopeless, 503 asks it to try again.
type WebhookHandler struct {
	*transport.BaseHandler
	registry *gateway.Registry
	service  *Service
}

func NewWebhookHandler(logger *slog.Logger, registry *gateway.Registry, service *Service) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: transport.NewBaseHandler(logger),
		registry:    registry,
		service:     service,
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/webhooks/{provider}", h.HandleNotification)
}

func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	adapter, ok := h.registry.For(providerName)
	if !ok {
		h.HandleError(w, internal.NewNotFoundError("unknown payment provider", internal.ErrCodeInvalidProvider))
		return
	}

	event, err := adapter.ParseNotification(r.Context(), r)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if event == nil {
		// liveness probe from the gateway, nothing to reconcile
		h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	result, err := h.service.Reconcile(r.Context(), event)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, statusForOutcome(result.Outcome), responseFor(result))
}

// statusForOutcome maps engine outcomes onto the codes gateways react to.
// Rejected gets 422 rather than 2xx so the mismatch is visible in provider
// dashboards, and 410 marks a window the gateway should stop retrying into.
func statusForOutcome(outcome Outcome) int {
	switch outcome {
	case OutcomeApplied, OutcomeAlreadyReconciled, OutcomePending:
		return http.StatusOK
	case OutcomeUnknownTransaction:
		return http.StatusNotFound
	case OutcomeExpired:
		return http.StatusGone
	case OutcomeRejected:
		return http.StatusUnprocessableEntity
	case OutcomeTransientFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func responseFor(result *Result) reconcileResponse {
	resp := reconcileResponse{
		Outcome: result.Outcome,
		Reason:  result.Reason,
	}
	if result.Transaction != nil {
		resp.TransactionID = result.Transaction.ID
		resp.Status = string(result.Transaction.Status)
	}
	return resp
}
