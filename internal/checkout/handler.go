package checkout

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	internal "github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		service:     service,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/payments/initiate", h.Initiate)
	r.Get("/payments/{transactionID}", h.GetTransaction)
}

func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}

	resp, err := h.service.Initiate(r.Context(), &req)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		h.HandleError(w, internal.NewValidationError("owner_id query parameter is required", internal.ErrCodeValidationFailed))
		return
	}

	tx, err := h.service.Get(r.Context(), ownerID, chi.URLParam(r, "transactionID"))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": tx.ID,
		"provider":       tx.Provider,
		"amount_minor":   tx.AmountMinor,
		"currency":       tx.Currency,
		"purpose":        tx.Purpose,
		"status":         tx.Status,
		"created_at":     tx.CreatedAt,
		"completed_at":   tx.CompletedAt,
	})
}
