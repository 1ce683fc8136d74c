package admin

import (
	"context"
	"errors"
	"log/slog"

	internal "github.com/guidy/payments/internal"
	ledgermodel "github.com/guidy/payments/internal/core/datamodel/ledger"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
	"github.com/guidy/payments/internal/ledger"
)

const defaultPageSize = 50

// Service serves the back-office views operators use to audit
// reconciliation: transactions by state, a single transaction with its
// ledger entry, and the queue of rejected notifications awaiting review.
type Service struct {
	store  ledger.Store
	logger *slog.Logger
}

func NewService(store ledger.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) TransactionsByStatus(ctx context.Context, status string, limit, offset int) ([]*transaction.Transaction, error) {
	parsed := transaction.Status(status)
	switch parsed {
	case transaction.StatusPending, transaction.StatusCompleted, transaction.StatusFailed, transaction.StatusExpired:
	default:
		return nil, internal.NewValidationFieldError("status", "must be one of pending, completed, failed, expired", internal.ErrCodeValidationFailed)
	}

	txs, err := s.store.TransactionsByStatus(ctx, parsed, clampLimit(limit), clampOffset(offset))
	if err != nil {
		return nil, mapStoreError(err)
	}
	return txs, nil
}

// TransactionDetail returns the transaction together with its ledger entry,
// nil entry when nothing was credited.
func (s *Service) TransactionDetail(ctx context.Context, id string) (*transaction.Transaction, *ledgermodel.Entry, error) {
	tx, err := s.store.FindTransactionByID(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil, nil, internal.ErrUnknownTransaction
		}
		return nil, nil, mapStoreError(err)
	}

	entry, err := s.store.EntryForTransaction(ctx, id)
	if err != nil {
		return nil, nil, mapStoreError(err)
	}
	return tx, entry, nil
}

func (s *Service) ReviewQueue(ctx context.Context, limit, offset int) ([]*transaction.Transaction, error) {
	txs, err := s.store.TransactionsForReview(ctx, clampLimit(limit), clampOffset(offset))
	if err != nil {
		return nil, mapStoreError(err)
	}
	return txs, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return defaultPageSize
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func mapStoreError(err error) error {
	if errors.Is(err, ledger.ErrUnavailable) {
		return internal.ErrStorageUnavailable
	}
	return internal.NewInternalError("storage query failed", err)
}
