package wallet

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

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
	r.Get("/wallets/{ownerID}", h.GetBalance)
	r.Get("/wallets/{ownerID}/entries", h.GetHistory)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.Balance(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id":      wallet.OwnerID,
		"token_balance": wallet.TokenBalance,
	})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.History(r.Context(), chi.URLParam(r, "ownerID"), limit, offset)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	items := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]interface{}{
			"transaction_id": e.TransactionID,
			"delta":          e.Delta,
			"balance_after":  e.BalanceAfter,
			"applied_at":     e.AppliedAt,
		})
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id": chi.URLParam(r, "ownerID"),
		"entries":  items,
	})
}
