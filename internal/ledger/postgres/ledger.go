package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ledgermodel "github.com/guidy/payments/internal/core/datamodel/ledger"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
	ledgerpkg "github.com/guidy/payments/internal/ledger"
)

// LedgerStore implements ledger.Store on GORM. Open the *gorm.DB with
// TranslateError enabled so unique-key violations surface as
// gorm.ErrDuplicatedKey on both postgres and the sqlite used in tests.
type LedgerStore struct {
	db *gorm.DB
}

func NewLedgerStore(db *gorm.DB) ledgerpkg.Store {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) CreateTransaction(ctx context.Context, tx *transaction.Transaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledgerpkg.ErrReferenceConflict
		}
		return wrapStorage(err)
	}
	return nil
}

func (s *LedgerStore) FindTransactionByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	var t transaction.Transaction
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerpkg.ErrTransactionNotFound
		}
		return nil, wrapStorage(err)
	}
	return &t, nil
}

func (s *LedgerStore) FindTransactionByReference(ctx context.Context, provider transaction.Provider, reference string) (*transaction.Transaction, error) {
	var t transaction.Transaction
	err := s.db.WithContext(ctx).
		Where("provider = ? AND gateway_reference = ?", provider, reference).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerpkg.ErrTransactionNotFound
		}
		return nil, wrapStorage(err)
	}
	return &t, nil
}

func (s *LedgerStore) AttachReference(ctx context.Context, id, reference string) error {
	res := s.db.WithContext(ctx).Model(&transaction.Transaction{}).
		Where("id = ? AND gateway_reference IS NULL", id).
		Updates(map[string]interface{}{
			"gateway_reference": reference,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ledgerpkg.ErrReferenceConflict
		}
		return wrapStorage(res.Error)
	}
	if res.RowsAffected == 0 {
		// either unknown id or a reference is already attached; the caller
		// re-reads to distinguish
		var t transaction.Transaction
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledgerpkg.ErrTransactionNotFound
			}
			return wrapStorage(err)
		}
		if t.GatewayReference != nil && *t.GatewayReference != reference {
			return ledgerpkg.ErrReferenceConflict
		}
	}
	return nil
}

// ApplyCompletion is the crux: status CAS, ledger insert and wallet credit
// happen inside one database transaction, serialized on the transaction row.
// The unique index on ledger_entries.transaction_id backs the row lock up:
// even if two workers slip past the status check on separate connections,
// the second insert degrades into a key conflict instead of a double credit.
func (s *LedgerStore) ApplyCompletion(ctx context.Context, transactionID string, creditTokens int64) (*ledgermodel.Entry, error) {
	var entry *ledgermodel.Entry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t transaction.Transaction
		if err := s.lockForUpdate(tx).Where("id = ?", transactionID).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledgerpkg.ErrTransactionNotFound
			}
			return wrapStorage(err)
		}

		if t.Status != transaction.StatusPending {
			return ledgerpkg.ErrAlreadyReconciled
		}

		now := time.Now().UTC()
		res := tx.Model(&transaction.Transaction{}).
			Where("id = ? AND status = ?", transactionID, transaction.StatusPending).
			Updates(map[string]interface{}{
				"status":       transaction.StatusCompleted,
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return wrapStorage(res.Error)
		}
		if res.RowsAffected == 0 {
			return ledgerpkg.ErrAlreadyReconciled
		}

		var wallet ledgermodel.WalletBalance
		err := s.lockForUpdate(tx).Where("owner_id = ?", t.OwnerID).First(&wallet).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			wallet = ledgermodel.WalletBalance{OwnerID: t.OwnerID}
			if err := tx.Create(&wallet).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
				return wrapStorage(err)
			}
		case err != nil:
			return wrapStorage(err)
		}

		wallet.TokenBalance += creditTokens
		wallet.UpdatedAt = now
		if err := tx.Model(&ledgermodel.WalletBalance{}).
			Where("owner_id = ?", t.OwnerID).
			Updates(map[string]interface{}{
				"token_balance": wallet.TokenBalance,
				"updated_at":    now,
			}).Error; err != nil {
			return wrapStorage(err)
		}

		entry = &ledgermodel.Entry{
			TransactionID: transactionID,
			OwnerID:       t.OwnerID,
			Delta:         creditTokens,
			BalanceAfter:  wallet.TokenBalance,
			AppliedAt:     now,
		}
		if err := tx.Create(entry).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ledgerpkg.ErrAlreadyReconciled
			}
			return wrapStorage(err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerStore) MarkFailed(ctx context.Context, transactionID, reason string, flagForReview bool) (bool, error) {
	return s.terminate(ctx, transactionID, map[string]interface{}{
		"status":         transaction.StatusFailed,
		"failure_reason": reason,
		"review_flag":    flagForReview,
		"updated_at":     time.Now().UTC(),
	})
}

func (s *LedgerStore) MarkExpired(ctx context.Context, transactionID string) (bool, error) {
	return s.terminate(ctx, transactionID, map[string]interface{}{
		"status":     transaction.StatusExpired,
		"updated_at": time.Now().UTC(),
	})
}

// terminate is the guarded check-and-set shared by MarkFailed and
// MarkExpired: only pending rows transition, terminal rows stay untouched.
func (s *LedgerStore) terminate(ctx context.Context, transactionID string, updates map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).Model(&transaction.Transaction{}).
		Where("id = ? AND status = ?", transactionID, transaction.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, wrapStorage(res.Error)
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&transaction.Transaction{}).
			Where("id = ?", transactionID).Count(&exists).Error; err != nil {
			return false, wrapStorage(err)
		}
		if exists == 0 {
			return false, ledgerpkg.ErrTransactionNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *LedgerStore) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&transaction.Transaction{}).
		Where("status = ? AND created_at < ?", transaction.StatusPending, cutoff).
		Updates(map[string]interface{}{
			"status":     transaction.StatusExpired,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, wrapStorage(res.Error)
	}
	return res.RowsAffected, nil
}

func (s *LedgerStore) WalletFor(ctx context.Context, ownerID string) (*ledgermodel.WalletBalance, error) {
	var wallet ledgermodel.WalletBalance
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// an owner with no ledger history has an empty wallet, not an error
			return &ledgermodel.WalletBalance{OwnerID: ownerID}, nil
		}
		return nil, wrapStorage(err)
	}
	return &wallet, nil
}

func (s *LedgerStore) EntriesFor(ctx context.Context, ownerID string, limit, offset int) ([]*ledgermodel.Entry, error) {
	var entries []*ledgermodel.Entry
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("applied_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, wrapStorage(err)
	}
	return entries, nil
}

func (s *LedgerStore) EntryForTransaction(ctx context.Context, transactionID string) (*ledgermodel.Entry, error) {
	var entry ledgermodel.Entry
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStorage(err)
	}
	return &entry, nil
}

func (s *LedgerStore) TransactionsByStatus(ctx context.Context, status transaction.Status, limit, offset int) ([]*transaction.Transaction, error) {
	var txs []*transaction.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, wrapStorage(err)
	}
	return txs, nil
}

func (s *LedgerStore) TransactionsForReview(ctx context.Context, limit, offset int) ([]*transaction.Transaction, error) {
	var txs []*transaction.Transaction
	err := s.db.WithContext(ctx).
		Where("review_flag = ?", true).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, wrapStorage(err)
	}
	return txs, nil
}

// lockForUpdate adds FOR UPDATE on postgres. The sqlite driver used in tests
// rejects the clause and serializes writers on its own, so it is skipped.
func (s *LedgerStore) lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func wrapStorage(err error) error {
	return errors.Join(ledgerpkg.ErrUnavailable, err)
}
