package reconciliation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
	"github.com/guidy/payments/internal/gateway"
)

// stubAdapter returns a canned event or error so handler behavior can be
// tested without real provider payloads.
type stubAdapter struct {
	provider transaction.Provider
	event    *gateway.PaymentEvent
	err      error
}

func (a *stubAdapter) Provider() transaction.Provider {
	return a.provider
}

func (a *stubAdapter) ParseNotification(_ context.Context, _ *http.Request) (*gateway.PaymentEvent, error) {
	return a.event, a.err
}

var _ = Describe("WebhookHandler", func() {
	var (
		store   *memoryStore
		service *Service
		adapter *stubAdapter
		router  chi.Router
	)

	postWebhook := func(provider string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		store = newMemoryStore()
		service = NewService(store, &capturedEvents{}, 24*time.Hour, slog.Default())
		adapter = &stubAdapter{provider: transaction.ProviderCinetPay}

		handler := NewWebhookHandler(slog.Default(), gateway.NewRegistry(adapter), service)
		router = chi.NewRouter()
		handler.RegisterRoutes(router)
	})

	It("should return 404 for an unknown provider segment", func() {
		rec := postWebhook("stripe")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should return 400 when the adapter reports a malformed payload", func() {
		adapter.err = internal.ErrMalformedPayload

		rec := postWebhook("cinetpay")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should return 403 when the adapter reports an authenticity failure", func() {
		adapter.err = internal.ErrAuthenticityFailed

		rec := postWebhook("cinetpay")
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	It("should return 503 when the gateway status query is unavailable", func() {
		adapter.err = internal.ErrGatewayUnavailable

		rec := postWebhook("cinetpay")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should acknowledge a liveness probe with 200", func() {
		adapter.event = nil
		adapter.err = nil

		rec := postWebhook("cinetpay")
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("should return 404 for a notification about an unknown transaction", func() {
		adapter.event = &gateway.PaymentEvent{
			Provider:         transaction.ProviderCinetPay,
			GatewayReference: "XYZ999",
			ReportedStatus:   gateway.StatusSuccess,
		}

		rec := postWebhook("cinetpay")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	Context("with a stored pending transaction", func() {
		var tx *transaction.Transaction

		BeforeEach(func() {
			payload, err := json.Marshal(transaction.TokenPurchasePayload{Tokens: 60})
			Expect(err).NotTo(HaveOccurred())
			ref := "CP-HTTP-1"
			tx = &transaction.Transaction{
				ID:               "11111111-1111-1111-1111-111111111111",
				Provider:         transaction.ProviderCinetPay,
				GatewayReference: &ref,
				AmountMinor:      500,
				Currency:         "XAF",
				Purpose:          transaction.PurposeTokenPurchase,
				PurposePayload:   payload,
				Status:           transaction.StatusPending,
				OwnerID:          "owner-1",
				CreatedAt:        time.Now().UTC(),
			}
			Expect(store.CreateTransaction(context.Background(), tx)).To(Succeed())

			adapter.event = &gateway.PaymentEvent{
				Provider:         transaction.ProviderCinetPay,
				GatewayReference: ref,
				ReportedStatus:   gateway.StatusSuccess,
				HasAmount:        true,
				ReportedAmount:   500,
				ReportedCurrency: "XAF",
			}
		})

		It("should return 200 with the applied outcome", func() {
			rec := postWebhook("cinetpay")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body reconcileResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Outcome).To(Equal(OutcomeApplied))
			Expect(body.TransactionID).To(Equal(tx.ID))
			Expect(body.Status).To(Equal(string(transaction.StatusCompleted)))
		})

		It("should return 200 with already_reconciled on redelivery", func() {
			Expect(postWebhook("cinetpay").Code).To(Equal(http.StatusOK))

			rec := postWebhook("cinetpay")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body reconcileResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Outcome).To(Equal(OutcomeAlreadyReconciled))
		})

		It("should return 422 for an amount mismatch", func() {
			adapter.event.ReportedAmount = 50000

			rec := postWebhook("cinetpay")
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))

			var body reconcileResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Outcome).To(Equal(OutcomeRejected))
		})

		It("should return 410 after the completion window elapsed", func() {
			store.mu.Lock()
			store.transactions[tx.ID].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
			store.mu.Unlock()

			rec := postWebhook("cinetpay")
			Expect(rec.Code).To(Equal(http.StatusGone))
		})
	})
})

var _ = Describe("ReturnHandler", func() {
	var (
		store   *memoryStore
		adapter *stubAdapter
		router  chi.Router
	)

	getReturn := func(provider string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/payments/return/"+provider, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		store = newMemoryStore()
		service := NewService(store, &capturedEvents{}, 24*time.Hour, slog.Default())
		adapter = &stubAdapter{provider: transaction.ProviderFapshi}

		handler := NewReturnHandler(slog.Default(), gateway.NewRegistry(adapter), service,
			"https://app.example.test/payment/success", "https://app.example.test/payment/failure")
		router = chi.NewRouter()
		handler.RegisterRoutes(router)
	})

	It("should redirect to the failure page when the reference is missing", func() {
		adapter.event = nil

		rec := getReturn("fapshi")
		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(HavePrefix("https://app.example.test/payment/failure"))
	})

	It("should redirect to the success page after a completed payment", func() {
		payload, err := json.Marshal(transaction.TokenPurchasePayload{Tokens: 25})
		Expect(err).NotTo(HaveOccurred())
		ref := "FP-RET-1"
		tx := &transaction.Transaction{
			ID:               "22222222-2222-2222-2222-222222222222",
			Provider:         transaction.ProviderFapshi,
			GatewayReference: &ref,
			AmountMinor:      2500,
			Currency:         "XAF",
			Purpose:          transaction.PurposeTokenPurchase,
			PurposePayload:   payload,
			Status:           transaction.StatusPending,
			OwnerID:          "owner-2",
			CreatedAt:        time.Now().UTC(),
		}
		Expect(store.CreateTransaction(context.Background(), tx)).To(Succeed())

		adapter.event = &gateway.PaymentEvent{
			Provider:         transaction.ProviderFapshi,
			GatewayReference: ref,
			ReportedStatus:   gateway.StatusSuccess,
			HasAmount:        true,
			ReportedAmount:   2500,
			ReportedCurrency: "XAF",
		}

		rec := getReturn("fapshi")
		Expect(rec.Code).To(Equal(http.StatusFound))

		location := rec.Header().Get("Location")
		Expect(location).To(HavePrefix("https://app.example.test/payment/success"))
		Expect(location).To(ContainSubstring("transaction_id=" + tx.ID))
		Expect(location).To(ContainSubstring("amount_minor=2500"))
	})

	It("should redirect to the failure page for an unknown reference", func() {
		adapter.event = &gateway.PaymentEvent{
			Provider:         transaction.ProviderFapshi,
			GatewayReference: "XYZ999",
			ReportedStatus:   gateway.StatusSuccess,
		}

		rec := getReturn("fapshi")
		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(HavePrefix("https://app.example.test/payment/failure"))
	})

	It("should redirect a cancelled payment to the failure page, on the first and repeated return", func() {
		payload, err := json.Marshal(transaction.TokenPurchasePayload{Tokens: 25})
		Expect(err).NotTo(HaveOccurred())
		ref := "FP-RET-2"
		tx := &transaction.Transaction{
			ID:               "33333333-3333-3333-3333-333333333333",
			Provider:         transaction.ProviderFapshi,
			GatewayReference: &ref,
			AmountMinor:      2500,
			Currency:         "XAF",
			Purpose:          transaction.PurposeTokenPurchase,
			PurposePayload:   payload,
			Status:           transaction.StatusPending,
			OwnerID:          "owner-3",
			CreatedAt:        time.Now().UTC(),
		}
		Expect(store.CreateTransaction(context.Background(), tx)).To(Succeed())

		adapter.event = &gateway.PaymentEvent{
			Provider:         transaction.ProviderFapshi,
			GatewayReference: ref,
			ReportedStatus:   gateway.StatusCancelled,
		}

		rec := getReturn("fapshi")
		Expect(rec.Code).To(Equal(http.StatusFound))
		location := rec.Header().Get("Location")
		Expect(location).To(HavePrefix("https://app.example.test/payment/failure"))
		Expect(location).To(ContainSubstring("reason=payment+cancelled+by+payer"))

		// the payer refreshing the return page lands on failure again
		rec = getReturn("fapshi")
		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(HavePrefix("https://app.example.test/payment/failure"))
	})

	It("should redirect an expired checkout to the failure page", func() {
		payload, err := json.Marshal(transaction.TokenPurchasePayload{Tokens: 25})
		Expect(err).NotTo(HaveOccurred())
		ref := "FP-RET-3"
		tx := &transaction.Transaction{
			ID:               "44444444-4444-4444-4444-444444444444",
			Provider:         transaction.ProviderFapshi,
			GatewayReference: &ref,
			AmountMinor:      2500,
			Currency:         "XAF",
			Purpose:          transaction.PurposeTokenPurchase,
			PurposePayload:   payload,
			Status:           transaction.StatusPending,
			OwnerID:          "owner-4",
			CreatedAt:        time.Now().UTC().Add(-48 * time.Hour),
		}
		Expect(store.CreateTransaction(context.Background(), tx)).To(Succeed())

		adapter.event = &gateway.PaymentEvent{
			Provider:         transaction.ProviderFapshi,
			GatewayReference: ref,
			ReportedStatus:   gateway.StatusSuccess,
			HasAmount:        true,
			ReportedAmount:   2500,
			ReportedCurrency: "XAF",
		}

		rec := getReturn("fapshi")
		Expect(rec.Code).To(Equal(http.StatusFound))
		location := rec.Header().Get("Location")
		Expect(location).To(HavePrefix("https://app.example.test/payment/failure"))
		Expect(location).To(ContainSubstring("reason=payment+window+expired"))
	})
})
