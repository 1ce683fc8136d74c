package reconciliation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	ledgermodel "github.com/guidy/payments/internal/core/datamodel/ledger"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
	"github.com/guidy/payments/internal/core/events"
	"github.com/guidy/payments/internal/gateway"
	"github.com/guidy/payments/internal/ledger"
)

func TestReconciliationService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ReconciliationService Suite")
}

// memoryStore implements ledger.Store with the same transition rules as the
// real store so the engine can be exercised without a database.
type memoryStore struct {
	mu           sync.Mutex
	transactions map[string]*transaction.Transaction
	entries      map[string]*ledgermodel.Entry
	wallets      map[string]int64
	failWith     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transactions: make(map[string]*transaction.Transaction),
		entries:      make(map[string]*ledgermodel.Entry),
		wallets:      make(map[string]int64),
	}
}

func (m *memoryStore) CreateTransaction(_ context.Context, tx *transaction.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tx
	m.transactions[tx.ID] = &cp
	return nil
}

func (m *memoryStore) FindTransactionByID(_ context.Context, id string) (*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	tx, ok := m.transactions[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *memoryStore) FindTransactionByReference(_ context.Context, provider transaction.Provider, reference string) (*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, tx := range m.transactions {
		if tx.Provider == provider && tx.GatewayReference != nil && *tx.GatewayReference == reference {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, ledger.ErrTransactionNotFound
}

func (m *memoryStore) AttachReference(_ context.Context, id, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	for _, other := range m.transactions {
		if other.ID != id && other.Provider == tx.Provider &&
			other.GatewayReference != nil && *other.GatewayReference == reference {
			return ledger.ErrReferenceConflict
		}
	}
	if tx.GatewayReference != nil && *tx.GatewayReference != reference {
		return ledger.ErrReferenceConflict
	}
	tx.GatewayReference = &reference
	return nil
}

func (m *memoryStore) ApplyCompletion(_ context.Context, transactionID string, creditTokens int64) (*ledgermodel.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	tx, ok := m.transactions[transactionID]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	if tx.Status != transaction.StatusPending {
		return nil, ledger.ErrAlreadyReconciled
	}
	if _, exists := m.entries[transactionID]; exists {
		return nil, ledger.ErrAlreadyReconciled
	}
	now := time.Now().UTC()
	tx.Status = transaction.StatusCompleted
	tx.CompletedAt = &now
	m.wallets[tx.OwnerID] += creditTokens
	entry := &ledgermodel.Entry{
		TransactionID: transactionID,
		OwnerID:       tx.OwnerID,
		Delta:         creditTokens,
		BalanceAfter:  m.wallets[tx.OwnerID],
		AppliedAt:     now,
	}
	m.entries[transactionID] = entry
	cp := *entry
	return &cp, nil
}

func (m *memoryStore) MarkFailed(_ context.Context, transactionID, reason string, flagForReview bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		return false, ledger.ErrTransactionNotFound
	}
	if tx.Status != transaction.StatusPending {
		return false, nil
	}
	tx.Status = transaction.StatusFailed
	tx.FailureReason = &reason
	tx.ReviewFlag = flagForReview
	return true, nil
}

func (m *memoryStore) MarkExpired(_ context.Context, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		return false, ledger.ErrTransactionNotFound
	}
	if tx.Status != transaction.StatusPending {
		return false, nil
	}
	tx.Status = transaction.StatusExpired
	return true, nil
}

func (m *memoryStore) ExpirePending(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var swept int64
	for _, tx := range m.transactions {
		if tx.Status == transaction.StatusPending && tx.CreatedAt.Before(cutoff) {
			tx.Status = transaction.StatusExpired
			swept++
		}
	}
	return swept, nil
}

func (m *memoryStore) WalletFor(_ context.Context, ownerID string) (*ledgermodel.WalletBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &ledgermodel.WalletBalance{OwnerID: ownerID, TokenBalance: m.wallets[ownerID]}, nil
}

func (m *memoryStore) EntriesFor(_ context.Context, ownerID string, _, _ int) ([]*ledgermodel.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledgermodel.Entry
	for _, e := range m.entries {
		if e.OwnerID == ownerID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryStore) EntryForTransaction(_ context.Context, transactionID string) (*ledgermodel.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[transactionID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *memoryStore) TransactionsByStatus(_ context.Context, status transaction.Status, _, _ int) ([]*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transaction.Transaction
	for _, tx := range m.transactions {
		if tx.Status == status {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryStore) TransactionsForReview(_ context.Context, _, _ int) ([]*transaction.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transaction.Transaction
	for _, tx := range m.transactions {
		if tx.ReviewFlag {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturedEvents) Publish(_ context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturedEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType())
	}
	return out
}

var _ = Describe("ReconciliationService", func() {
	var (
		store   *memoryStore
		bus     *capturedEvents
		service *Service
		ctx     context.Context
	)

	newStoredTransaction := func(tokens int64, reference string) *transaction.Transaction {
		payload, err := json.Marshal(transaction.TokenPurchasePayload{Tokens: tokens})
		Expect(err).NotTo(HaveOccurred())

		tx := &transaction.Transaction{
			ID:             uuid.NewString(),
			Provider:       transaction.ProviderCinetPay,
			AmountMinor:    500,
			Currency:       "XAF",
			Purpose:        transaction.PurposeTokenPurchase,
			PurposePayload: payload,
			Status:         transaction.StatusPending,
			OwnerID:        uuid.NewString(),
			CreatedAt:      time.Now().UTC(),
		}
		if reference != "" {
			tx.GatewayReference = &reference
		}
		Expect(store.CreateTransaction(ctx, tx)).To(Succeed())
		return tx
	}

	successEvent := func(tx *transaction.Transaction, reference string) *gateway.PaymentEvent {
		return &gateway.PaymentEvent{
			Provider:         tx.Provider,
			GatewayReference: reference,
			TransactionID:    tx.ID,
			ReportedStatus:   gateway.StatusSuccess,
			HasAmount:        true,
			ReportedAmount:   tx.AmountMinor,
			ReportedCurrency: tx.Currency,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = newMemoryStore()
		bus = &capturedEvents{}
		service = NewService(store, bus, 24*time.Hour, slog.Default())
	})

	Describe("successful notifications", func() {
		It("should complete the transaction and credit the wallet once", func() {
			tx := newStoredTransaction(60, "CP-REF-1")

			result, err := service.Reconcile(ctx, successEvent(tx, "CP-REF-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeApplied))
			Expect(result.Entry).NotTo(BeNil())
			Expect(result.Entry.Delta).To(Equal(int64(60)))

			wallet, err := store.WalletFor(ctx, tx.OwnerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(wallet.TokenBalance).To(Equal(int64(60)))
			Expect(bus.types()).To(ConsistOf(events.EventTypeTransactionCompleted))
		})

		It("should report a duplicate delivery as already reconciled without a second credit", func() {
			tx := newStoredTransaction(60, "CP-REF-2")
			event := successEvent(tx, "CP-REF-2")

			first, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Outcome).To(Equal(OutcomeApplied))

			second, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Outcome).To(Equal(OutcomeAlreadyReconciled))

			wallet, err := store.WalletFor(ctx, tx.OwnerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(wallet.TokenBalance).To(Equal(int64(60)))
			Expect(bus.types()).To(ConsistOf(events.EventTypeTransactionCompleted))
		})

		It("should attach the gateway reference when the checkout never recorded one", func() {
			tx := newStoredTransaction(60, "")

			result, err := service.Reconcile(ctx, successEvent(tx, "NP-LATE-REF"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeApplied))

			stored, err := store.FindTransactionByReference(ctx, tx.Provider, "NP-LATE-REF")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ID).To(Equal(tx.ID))
		})

		It("should complete a non-token purpose without crediting the wallet", func() {
			payload, err := json.Marshal(transaction.CompanySubscriptionPayload{Plan: "pro", Months: 1})
			Expect(err).NotTo(HaveOccurred())
			ref := "CP-SUB-1"
			tx := &transaction.Transaction{
				ID:               uuid.NewString(),
				Provider:         transaction.ProviderCinetPay,
				GatewayReference: &ref,
				AmountMinor:      1500,
				Currency:         "XAF",
				Purpose:          transaction.PurposeCompanySubscription,
				PurposePayload:   payload,
				Status:           transaction.StatusPending,
				OwnerID:          uuid.NewString(),
				CreatedAt:        time.Now().UTC(),
			}
			Expect(store.CreateTransaction(ctx, tx)).To(Succeed())

			result, err := service.Reconcile(ctx, &gateway.PaymentEvent{
				Provider:         tx.Provider,
				GatewayReference: ref,
				ReportedStatus:   gateway.StatusSuccess,
				HasAmount:        true,
				ReportedAmount:   1500,
				ReportedCurrency: "XAF",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeApplied))
			Expect(result.Entry.Delta).To(BeZero())

			wallet, err := store.WalletFor(ctx, tx.OwnerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(wallet.TokenBalance).To(BeZero())
		})

		It("should credit exactly once under concurrent duplicate deliveries", func() {
			tx := newStoredTransaction(60, "CP-RACE-1")
			event := successEvent(tx, "CP-RACE-1")

			const deliveries = 10
			var wg sync.WaitGroup
			outcomes := make(chan Outcome, deliveries)
			for i := 0; i < deliveries; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					result, err := service.Reconcile(ctx, event)
					Expect(err).NotTo(HaveOccurred())
					outcomes <- result.Outcome
				}()
			}
			wg.Wait()
			close(outcomes)

			var applied int
			for outcome := range outcomes {
				if outcome == OutcomeApplied {
					applied++
				} else {
					Expect(outcome).To(Equal(OutcomeAlreadyReconciled))
				}
			}
			Expect(applied).To(Equal(1))

			wallet, err := store.WalletFor(ctx, tx.OwnerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(wallet.TokenBalance).To(Equal(int64(60)))
		})
	})

	Describe("inconsistent notifications", func() {
		It("should reject an amount mismatch, fail the transaction and flag it for review", func() {
			tx := newStoredTransaction(60, "CP-REF-3")
			event := successEvent(tx, "CP-REF-3")
			event.ReportedAmount = 50

			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeRejected))
			Expect(result.Reason).To(ContainSubstring("does not match"))

			stored, err := store.FindTransactionByID(ctx, tx.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(transaction.StatusFailed))
			Expect(stored.ReviewFlag).To(BeTrue())

			wallet, err := store.WalletFor(ctx, tx.OwnerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(wallet.TokenBalance).To(BeZero())
			Expect(bus.types()).To(ConsistOf(events.EventTypeTransactionFailed))
		})

		It("should reject a reported amount of zero", func() {
			tx := newStoredTransaction(60, "CP-REF-5")
			event := successEvent(tx, "CP-REF-5")
			event.ReportedAmount = 0

			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeRejected))

			wallet, err := store.WalletFor(ctx, tx.OwnerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(wallet.TokenBalance).To(BeZero())
		})

		It("should not cross-check an amount the provider never sent", func() {
			tx := newStoredTransaction(60, "CP-REF-6")
			event := successEvent(tx, "CP-REF-6")
			event.HasAmount = false
			event.ReportedAmount = 0

			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeApplied))
		})

		It("should reject a currency mismatch", func() {
			tx := newStoredTransaction(60, "CP-REF-4")
			event := successEvent(tx, "CP-REF-4")
			event.ReportedCurrency = "USD"

			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeRejected))
		})

		It("should report an unknown reference without touching anything", func() {
			result, err := service.Reconcile(ctx, &gateway.PaymentEvent{
				Provider:         transaction.ProviderCinetPay,
				GatewayReference: "XYZ999",
				ReportedStatus:   gateway.StatusSuccess,
				HasAmount:        true,
				ReportedAmount:   500,
				ReportedCurrency: "XAF",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeUnknownTransaction))
			Expect(bus.types()).To(BeEmpty())
		})
	})

	Describe("failure and cancellation notifications", func() {
		It("should record a gateway failure and publish the failed event", func() {
			tx := newStoredTransaction(60, "CP-REF-5")
			event := successEvent(tx, "CP-REF-5")
			event.ReportedStatus = gateway.StatusFailed

			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeApplied))

			stored, err := store.FindTransactionByID(ctx, tx.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(transaction.StatusFailed))
			Expect(stored.ReviewFlag).To(BeFalse())
			Expect(bus.types()).To(ConsistOf(events.EventTypeTransactionFailed))
		})

		It("should record a cancellation with its own reason", func() {
			tx := newStoredTransaction(60, "CP-REF-6")
			event := successEvent(tx, "CP-REF-6")
			event.ReportedStatus = gateway.StatusCancelled

			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeApplied))
			Expect(result.Reason).To(ContainSubstring("cancelled"))
		})
	})

	Describe("pending notifications", func() {
		It("should change nothing for a pending status", func() {
			tx := newStoredTransaction(60, "NP-REF-7")
			event := successEvent(tx, "NP-REF-7")
			event.ReportedStatus = gateway.StatusPending

			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomePending))

			stored, err := store.FindTransactionByID(ctx, tx.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(transaction.StatusPending))
		})

		It("should report the stored state when a pending notification follows completion", func() {
			tx := newStoredTransaction(60, "NP-REF-8")
			_, err := service.Reconcile(ctx, successEvent(tx, "NP-REF-8"))
			Expect(err).NotTo(HaveOccurred())

			event := successEvent(tx, "NP-REF-8")
			event.ReportedStatus = gateway.StatusPending
			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeAlreadyReconciled))
		})
	})

	Describe("expiry", func() {
		It("should refuse a success arriving after the completion window", func() {
			tx := newStoredTransaction(60, "CP-REF-9")
			store.mu.Lock()
			store.transactions[tx.ID].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
			store.mu.Unlock()

			result, err := service.Reconcile(ctx, successEvent(tx, "CP-REF-9"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeExpired))

			stored, err := store.FindTransactionByID(ctx, tx.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(transaction.StatusExpired))

			wallet, err := store.WalletFor(ctx, tx.OwnerID)
			Expect(err).NotTo(HaveOccurred())
			Expect(wallet.TokenBalance).To(BeZero())
			Expect(bus.types()).To(ConsistOf(events.EventTypeTransactionExpired))
		})

		It("should report expired for notifications on an already expired transaction", func() {
			tx := newStoredTransaction(60, "CP-REF-10")
			_, err := store.MarkExpired(ctx, tx.ID)
			Expect(err).NotTo(HaveOccurred())

			result, err := service.Reconcile(ctx, successEvent(tx, "CP-REF-10"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeExpired))
		})

		It("should sweep stale pending transactions", func() {
			tx := newStoredTransaction(60, "CP-REF-11")
			store.mu.Lock()
			store.transactions[tx.ID].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
			store.mu.Unlock()
			newStoredTransaction(60, "CP-REF-12")

			swept, err := service.SweepExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(swept).To(Equal(int64(1)))
		})
	})

	Describe("storage failures", func() {
		It("should report a transient failure when storage is unavailable", func() {
			tx := newStoredTransaction(60, "CP-REF-13")
			event := successEvent(tx, "CP-REF-13")

			store.mu.Lock()
			store.failWith = ledger.ErrUnavailable
			store.mu.Unlock()

			result, err := service.Reconcile(ctx, event)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(OutcomeTransientFailure))
		})
	})
})
