package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internal "github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
	"github.com/guidy/payments/internal/core/events"
	"github.com/guidy/payments/internal/gateway"
	"github.com/guidy/payments/internal/ledger"
)

// EventPublisher is the slice of the event bus the engine needs.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Service is the reconciliation engine. It owns every transaction state
// transition: adapters hand it normalized events, the ledger store gives it
// atomicity, and it decides what the event means against stored state.
type Service struct {
	store      ledger.Store
	eventBus   EventPublisher
	pendingTTL time.Duration
	logger     *slog.Logger
}

func NewService(store ledger.Store, eventBus EventPublisher, pendingTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		eventBus:   eventBus,
		pendingTTL: pendingTTL,
		logger:     logger,
	}
}

// Reconcile applies one provider event to the ledger. It is safe to call
// concurrently with itself for the same transaction: the store's apply path
// guarantees at most one delivery wins, and every loser is reported as
// already reconciled rather than as an error.
func (s *Service) Reconcile(ctx context.Context, event *gateway.PaymentEvent) (*Result, error) {
	tx, err := s.lookup(ctx, event)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			s.logger.Warn("notification for unknown transaction",
				"provider", event.Provider,
				"gateway_reference", event.GatewayReference,
				"transaction_id", event.TransactionID)
			return &Result{Outcome: OutcomeUnknownTransaction}, nil
		}
		if errors.Is(err, ledger.ErrUnavailable) {
			return &Result{Outcome: OutcomeTransientFailure}, nil
		}
		return nil, err
	}

	if tx.Status.Terminal() {
		return s.resolveTerminal(tx), nil
	}

	if s.pendingTTL > 0 && time.Since(tx.CreatedAt) > s.pendingTTL {
		return s.expire(ctx, tx)
	}

	switch event.ReportedStatus {
	case gateway.StatusSuccess:
		return s.applySuccess(ctx, tx, event)
	case gateway.StatusFailed, gateway.StatusCancelled:
		return s.applyFailure(ctx, tx, event)
	case gateway.StatusPending:
		return &Result{Outcome: OutcomePending, Transaction: tx}, nil
	default:
		return nil, internal.NewValidationError(
			fmt.Sprintf("unrecognized payment status %q", event.ReportedStatus),
			internal.ErrCodeMalformedPayload)
	}
}

// lookup resolves the stored transaction, preferring the provider-assigned
// reference and falling back to our own id when the provider echoes it back.
func (s *Service) lookup(ctx context.Context, event *gateway.PaymentEvent) (*transaction.Transaction, error) {
	if event.GatewayReference != "" {
		tx, err := s.store.FindTransactionByReference(ctx, event.Provider, event.GatewayReference)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ledger.ErrTransactionNotFound) || event.TransactionID == "" {
			return nil, err
		}
	}
	if event.TransactionID == "" {
		return nil, ledger.ErrTransactionNotFound
	}
	return s.store.FindTransactionByID(ctx, event.TransactionID)
}

func (s *Service) resolveTerminal(tx *transaction.Transaction) *Result {
	if tx.Status == transaction.StatusExpired {
		return &Result{Outcome: OutcomeExpired, Transaction: tx}
	}
	return &Result{Outcome: OutcomeAlreadyReconciled, Transaction: tx}
}

func (s *Service) expire(ctx context.Context, tx *transaction.Transaction) (*Result, error) {
	changed, err := s.store.MarkExpired(ctx, tx.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return &Result{Outcome: OutcomeTransientFailure}, nil
		}
		return nil, err
	}
	if changed {
		s.logger.Info("transaction expired before conclusive notification",
			"transaction_id", tx.ID, "provider", tx.Provider)
		s.publish(ctx, events.NewTransactionExpiredEvent(tx.ID, tx.OwnerID))
	}
	tx.Status = transaction.StatusExpired
	return &Result{Outcome: OutcomeExpired, Transaction: tx}, nil
}

func (s *Service) applySuccess(ctx context.Context, tx *transaction.Transaction, event *gateway.PaymentEvent) (*Result, error) {
	if reason, ok := s.consistencyCheck(tx, event); !ok {
		return s.reject(ctx, tx, reason)
	}

	if tx.GatewayReference == nil && event.GatewayReference != "" {
		if err := s.store.AttachReference(ctx, tx.ID, event.GatewayReference); err != nil {
			if errors.Is(err, ledger.ErrReferenceConflict) {
				return s.reject(ctx, tx, fmt.Sprintf(
					"gateway reference %s already belongs to another transaction", event.GatewayReference))
			}
			if errors.Is(err, ledger.ErrUnavailable) {
				return &Result{Outcome: OutcomeTransientFailure}, nil
			}
			return nil, err
		}
	}

	credit, err := tx.CreditTokens()
	if err != nil {
		return s.reject(ctx, tx, fmt.Sprintf("unusable purpose payload: %v", err))
	}

	entry, err := s.store.ApplyCompletion(ctx, tx.ID, credit)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAlreadyReconciled):
			return &Result{Outcome: OutcomeAlreadyReconciled, Transaction: tx}, nil
		case errors.Is(err, ledger.ErrUnavailable):
			return &Result{Outcome: OutcomeTransientFailure}, nil
		default:
			return nil, err
		}
	}

	s.logger.Info("payment reconciled",
		"transaction_id", tx.ID,
		"provider", tx.Provider,
		"amount_minor", tx.AmountMinor,
		"currency", tx.Currency,
		"tokens_credited", credit)

	s.publish(ctx, events.NewTransactionCompletedEvent(
		tx.ID, string(tx.Provider), event.GatewayReference, tx.OwnerID,
		tx.AmountMinor, tx.Currency, credit))

	tx.Status = transaction.StatusCompleted
	return &Result{Outcome: OutcomeApplied, Transaction: tx, Entry: entry}, nil
}

func (s *Service) applyFailure(ctx context.Context, tx *transaction.Transaction, event *gateway.PaymentEvent) (*Result, error) {
	reason := "payment failed at gateway"
	if event.ReportedStatus == gateway.StatusCancelled {
		reason = "payment cancelled by payer"
	}

	changed, err := s.store.MarkFailed(ctx, tx.ID, reason, false)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return &Result{Outcome: OutcomeTransientFailure}, nil
		}
		return nil, err
	}
	if !changed {
		return &Result{Outcome: OutcomeAlreadyReconciled, Transaction: tx}, nil
	}

	s.logger.Info("payment failure recorded",
		"transaction_id", tx.ID, "provider", tx.Provider, "reason", reason)

	s.publish(ctx, events.NewTransactionFailedEvent(
		tx.ID, string(tx.Provider), tx.OwnerID, tx.AmountMinor, tx.Currency, reason, false))

	tx.Status = transaction.StatusFailed
	return &Result{Outcome: OutcomeApplied, Transaction: tx, Reason: reason}, nil
}

// consistencyCheck compares what the provider reports against what we
// recorded at checkout. Only amounts the provider actually sent are checked;
// a reported zero is a mismatch like any other.
func (s *Service) consistencyCheck(tx *transaction.Transaction, event *gateway.PaymentEvent) (string, bool) {
	if event.HasAmount && event.ReportedAmount != tx.AmountMinor {
		return fmt.Sprintf("reported amount %d does not match expected %d %s",
			event.ReportedAmount, tx.AmountMinor, tx.Currency), false
	}
	if event.ReportedCurrency != "" && event.ReportedCurrency != tx.Currency {
		return fmt.Sprintf("reported currency %s does not match expected %s",
			event.ReportedCurrency, tx.Currency), false
	}
	return "", true
}

// reject fails the transaction and flags it for manual review. If another
// delivery already moved the row, it reports that instead of masking it.
func (s *Service) reject(ctx context.Context, tx *transaction.Transaction, reason string) (*Result, error) {
	changed, err := s.store.MarkFailed(ctx, tx.ID, reason, true)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return &Result{Outcome: OutcomeTransientFailure}, nil
		}
		return nil, err
	}
	if !changed {
		return &Result{Outcome: OutcomeAlreadyReconciled, Transaction: tx}, nil
	}

	s.logger.Warn("notification rejected, transaction flagged for review",
		"transaction_id", tx.ID, "provider", tx.Provider, "reason", reason)

	s.publish(ctx, events.NewTransactionFailedEvent(
		tx.ID, string(tx.Provider), tx.OwnerID, tx.AmountMinor, tx.Currency, reason, true))

	tx.Status = transaction.StatusFailed
	return &Result{Outcome: OutcomeRejected, Transaction: tx, Reason: reason}, nil
}

// SweepExpired moves every pending transaction older than the TTL to
// expired. Run periodically by the worker so abandoned checkouts do not stay
// pending forever.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.pendingTTL)
	swept, err := s.store.ExpirePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.logger.Info("expired stale pending transactions", "count", swept, "cutoff", cutoff)
	}
	return swept, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
