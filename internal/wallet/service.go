package wallet

import (
	"context"
	"errors"
	"log/slog"

	internal "github.com/guidy/payments/internal"
	ledgermodel "github.com/guidy/payments/internal/core/datamodel/ledger"
	"github.com/guidy/payments/internal/ledger"
)

const defaultHistoryLimit = 50

// Service answers balance and ledger history queries. It never mutates the
// wallet; credits happen inside reconciliation and debits live elsewhere.
type Service struct {
	store  ledger.Store
	logger *slog.Logger
}

func NewService(store ledger.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) Balance(ctx context.Context, ownerID string) (*ledgermodel.WalletBalance, error) {
	wallet, err := s.store.WalletFor(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return nil, internal.ErrStorageUnavailable
		}
		return nil, internal.NewInternalError("failed to load wallet", err)
	}
	return wallet, nil
}

func (s *Service) History(ctx context.Context, ownerID string, limit, offset int) ([]*ledgermodel.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.store.EntriesFor(ctx, ownerID, limit, offset)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return nil, internal.ErrStorageUnavailable
		}
		return nil, internal.NewInternalError("failed to load ledger history", err)
	}
	return entries, nil
}
