package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	internal "github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
	"github.com/guidy/payments/internal/ledger"
)

// Service creates pending transactions and hands back the hosted-page URL.
// The transaction id we mint here travels through the gateway as merchant
// metadata and comes back in webhooks, which is what lets reconciliation
// find the record even before a gateway reference is attached.
type Service struct {
	store    ledger.Store
	gateways internal.GatewaysConfig
	logger   *slog.Logger
}

func NewService(store ledger.Store, gateways internal.GatewaysConfig, logger *slog.Logger) *Service {
	return &Service{store: store, gateways: gateways, logger: logger}
}

func (s *Service) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	provider, _ := transaction.ParseProvider(req.Provider)
	purpose, _ := transaction.ParsePurpose(req.Purpose)

	tx := &transaction.Transaction{
		ID:             uuid.NewString(),
		Provider:       provider,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Purpose:        purpose,
		PurposePayload: req.PurposePayload,
		Status:         transaction.StatusPending,
		OwnerID:        req.OwnerID,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return nil, internal.ErrStorageUnavailable
		}
		return nil, internal.NewInternalError("failed to create transaction", err)
	}

	checkoutURL, err := s.checkoutURL(tx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("checkout initiated",
		"transaction_id", tx.ID,
		"provider", tx.Provider,
		"amount_minor", tx.AmountMinor,
		"currency", tx.Currency,
		"purpose", tx.Purpose)

	return &InitiateResponse{
		TransactionID: tx.ID,
		Provider:      string(tx.Provider),
		AmountMinor:   tx.AmountMinor,
		Currency:      tx.Currency,
		Status:        string(tx.Status),
		CheckoutURL:   checkoutURL,
	}, nil
}

// checkoutURL builds the hosted-page URL for the provider. Real checkout
// sessions are created server side by the gateways; the query parameters
// here are the common denominator each hosted page accepts for prefill,
// with our transaction id passed as the merchant reference.
func (s *Service) checkoutURL(tx *transaction.Transaction) (string, error) {
	var cfg internal.GatewayConfig
	switch tx.Provider {
	case transaction.ProviderCinetPay:
		cfg = s.gateways.CinetPay
	case transaction.ProviderNotchPay:
		cfg = s.gateways.NotchPay
	case transaction.ProviderPayPal:
		cfg = s.gateways.PayPal
	case transaction.ProviderFapshi:
		cfg = s.gateways.Fapshi
	}
	if cfg.CheckoutURL == "" {
		return "", internal.NewInternalError(
			fmt.Sprintf("no checkout url configured for provider %s", tx.Provider), nil)
	}

	q := url.Values{}
	q.Set("reference", tx.ID)
	q.Set("amount", strconv.FormatInt(tx.AmountMinor, 10))
	q.Set("currency", tx.Currency)
	return cfg.CheckoutURL + "?" + q.Encode(), nil
}

// Get returns a transaction the owner initiated, for polling from the
// frontend while the webhook leg is in flight.
func (s *Service) Get(ctx context.Context, ownerID, transactionID string) (*transaction.Transaction, error) {
	tx, err := s.store.FindTransactionByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil, internal.ErrUnknownTransaction
		}
		if errors.Is(err, ledger.ErrUnavailable) {
			return nil, internal.ErrStorageUnavailable
		}
		return nil, internal.NewInternalError("failed to load transaction", err)
	}
	if tx.OwnerID != ownerID {
		// do not leak other owners' transactions, report as unknown
		return nil, internal.ErrUnknownTransaction
	}
	return tx, nil
}
