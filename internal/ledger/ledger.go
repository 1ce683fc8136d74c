package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/guidy/payments/internal/core/datamodel/ledger"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
)

var (
	// ErrTransactionNotFound means no transaction matches the lookup key.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyReconciled means the transaction already left pending. It is
	// the expected result of a duplicate delivery, not a failure.
	ErrAlreadyReconciled = errors.New("transaction already reconciled")

	// ErrReferenceConflict means the (provider, reference) pair is already
	// attached to a different transaction.
	ErrReferenceConflict = errors.New("gateway reference already attached to another transaction")

	// ErrUnavailable wraps storage-level failures the caller should retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// Store is the single durable authority for transactions, ledger entries and
// wallet balances. ApplyCompletion must be safe to race against itself for
// the same transaction: exactly one caller wins, every other caller gets
// ErrAlreadyReconciled.
type Store interface {
	CreateTransaction(ctx context.Context, tx *transaction.Transaction) error
	FindTransactionByID(ctx context.Context, id string) (*transaction.Transaction, error)
	FindTransactionByReference(ctx context.Context, provider transaction.Provider, reference string) (*transaction.Transaction, error)

	// AttachReference records the provider-assigned reference on a pending
	// transaction. Returns ErrReferenceConflict if the pair is taken.
	AttachReference(ctx context.Context, id, reference string) error

	// ApplyCompletion atomically transitions pending -> completed, inserts
	// the single ledger entry and credits the wallet. All or nothing.
	ApplyCompletion(ctx context.Context, transactionID string, creditTokens int64) (*ledger.Entry, error)

	// MarkFailed transitions pending -> failed. Returns false if the
	// transaction was already terminal.
	MarkFailed(ctx context.Context, transactionID, reason string, flagForReview bool) (bool, error)

	// MarkExpired transitions pending -> expired. Returns false if the
	// transaction was already terminal.
	MarkExpired(ctx context.Context, transactionID string) (bool, error)

	// ExpirePending sweeps every pending transaction created before the
	// cutoff into expired, returning how many rows changed.
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)

	WalletFor(ctx context.Context, ownerID string) (*ledger.WalletBalance, error)
	EntriesFor(ctx context.Context, ownerID string, limit, offset int) ([]*ledger.Entry, error)
	EntryForTransaction(ctx context.Context, transactionID string) (*ledger.Entry, error)

	TransactionsByStatus(ctx context.Context, status transaction.Status, limit, offset int) ([]*transaction.Transaction, error)
	TransactionsForReview(ctx context.Context, limit, offset int) ([]*transaction.Transaction, error)
}
