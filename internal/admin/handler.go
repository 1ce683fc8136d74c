package admin

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	ledgermodel "github.com/guidy/payments/internal/core/datamodel/ledger"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
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

// RegisterRoutes expects r to already carry the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/transactions", h.ListTransactions)
	r.Get("/admin/transactions/{transactionID}", h.GetTransaction)
	r.Get("/admin/review-queue", h.ReviewQueue)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	txs, err := h.service.TransactionsByStatus(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactionViews(txs),
	})
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, entry, err := h.service.TransactionDetail(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	body := map[string]interface{}{"transaction": transactionView(tx)}
	if entry != nil {
		body["ledger_entry"] = entryView(entry)
	}
	h.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	txs, err := h.service.ReviewQueue(r.Context(), limit, offset)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactionViews(txs),
	})
}

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func transactionView(tx *transaction.Transaction) map[string]interface{} {
	view := map[string]interface{}{
		"transaction_id": tx.ID,
		"provider":       tx.Provider,
		"amount_minor":   tx.AmountMinor,
		"currency":       tx.Currency,
		"purpose":        tx.Purpose,
		"status":         tx.Status,
		"owner_id":       tx.OwnerID,
		"review_flag":    tx.ReviewFlag,
		"created_at":     tx.CreatedAt,
		"completed_at":   tx.CompletedAt,
	}
	if tx.GatewayReference != nil {
		view["gateway_reference"] = *tx.GatewayReference
	}
	if tx.FailureReason != nil {
		view["failure_reason"] = *tx.FailureReason
	}
	return view
}

func transactionViews(txs []*transaction.Transaction) []map[string]interface{} {
	views := make([]map[string]interface{}, 0, len(txs))
	for _, tx := range txs {
		views = append(views, transactionView(tx))
	}
	return views
}

func entryView(e *ledgermodel.Entry) map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": e.TransactionID,
		"owner_id":       e.OwnerID,
		"delta":          e.Delta,
		"balance_after":  e.BalanceAfter,
		"applied_at":     e.AppliedAt,
	}
}
