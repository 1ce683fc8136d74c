package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
	"github.com/guidy/payments/internal/ledger"
)

func TestCheckoutService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CheckoutService Suite")
}

// fakeStore implements the two store methods checkout touches; the embedded
// interface satisfies the rest and panics if anything else gets called.
type fakeStore struct {
	ledger.Store
	created   []*transaction.Transaction
	createErr error
	byID      map[string]*transaction.Transaction
}

func (f *fakeStore) CreateTransaction(_ context.Context, tx *transaction.Transaction) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, tx)
	if f.byID == nil {
		f.byID = make(map[string]*transaction.Transaction)
	}
	f.byID[tx.ID] = tx
	return nil
}

func (f *fakeStore) FindTransactionByID(_ context.Context, id string) (*transaction.Transaction, error) {
	tx, ok := f.byID[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

var _ = Describe("CheckoutService", func() {
	var (
		store   *fakeStore
		service *Service
		ctx     context.Context
	)

	gateways := internal.GatewaysConfig{
		CinetPay: internal.GatewayConfig{CheckoutURL: "https://checkout.cinetpay.test/pay"},
		NotchPay: internal.GatewayConfig{CheckoutURL: "https://pay.notchpay.test/checkout"},
		PayPal:   internal.GatewayConfig{CheckoutURL: "https://paypal.test/checkoutnow"},
		Fapshi:   internal.GatewayConfig{CheckoutURL: "https://checkout.fapshi.test"},
	}

	validRequest := func() *InitiateRequest {
		payload, err := json.Marshal(transaction.TokenPurchasePayload{Tokens: 60})
		Expect(err).NotTo(HaveOccurred())
		return &InitiateRequest{
			OwnerID:        "owner-1",
			Provider:       "cinetpay",
			AmountMinor:    500,
			Currency:       "XAF",
			Purpose:        "token_purchase",
			PurposePayload: payload,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = &fakeStore{}
		service = NewService(store, gateways, slog.Default())
	})

	Describe("Initiate", func() {
		It("should create a pending transaction and return the checkout url", func() {
			resp, err := service.Initiate(ctx, validRequest())
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.TransactionID).NotTo(BeEmpty())
			Expect(resp.Status).To(Equal("pending"))
			Expect(resp.CheckoutURL).To(HavePrefix("https://checkout.cinetpay.test/pay?"))
			Expect(resp.CheckoutURL).To(ContainSubstring("reference=" + resp.TransactionID))
			Expect(resp.CheckoutURL).To(ContainSubstring("amount=500"))

			Expect(store.created).To(HaveLen(1))
			Expect(store.created[0].Status).To(Equal(transaction.StatusPending))
			Expect(store.created[0].OwnerID).To(Equal("owner-1"))
			Expect(store.created[0].GatewayReference).To(BeNil())
		})

		It("should reject an unknown provider", func() {
			req := validRequest()
			req.Provider = "stripe"

			_, err := service.Initiate(ctx, req)
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(400))
			Expect(store.created).To(BeEmpty())
		})

		It("should reject a non-positive amount", func() {
			req := validRequest()
			req.AmountMinor = 0

			_, err := service.Initiate(ctx, req)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a token purchase with zero tokens", func() {
			req := validRequest()
			payload, err := json.Marshal(transaction.TokenPurchasePayload{Tokens: 0})
			Expect(err).NotTo(HaveOccurred())
			req.PurposePayload = payload

			_, err = service.Initiate(ctx, req)
			Expect(err).To(HaveOccurred())
		})

		It("should reject an undecodable purpose payload", func() {
			req := validRequest()
			req.PurposePayload = json.RawMessage(`"not an object"`)

			_, err := service.Initiate(ctx, req)
			Expect(err).To(HaveOccurred())
		})

		It("should accept a company subscription payload", func() {
			payload, err := json.Marshal(transaction.CompanySubscriptionPayload{Plan: "pro", Months: 3})
			Expect(err).NotTo(HaveOccurred())
			req := validRequest()
			req.Purpose = "company_subscription"
			req.PurposePayload = payload

			resp, err := service.Initiate(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal("pending"))
		})

		It("should surface storage unavailability", func() {
			store.createErr = ledger.ErrUnavailable

			_, err := service.Initiate(ctx, validRequest())
			Expect(err).To(MatchError(internal.ErrStorageUnavailable))
		})
	})

	Describe("Get", func() {
		It("should return the owner's transaction", func() {
			resp, err := service.Initiate(ctx, validRequest())
			Expect(err).NotTo(HaveOccurred())

			tx, err := service.Get(ctx, "owner-1", resp.TransactionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.ID).To(Equal(resp.TransactionID))
		})

		It("should report another owner's transaction as unknown", func() {
			resp, err := service.Initiate(ctx, validRequest())
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Get(ctx, "someone-else", resp.TransactionID)
			Expect(err).To(MatchError(internal.ErrUnknownTransaction))
		})

		It("should report a missing transaction as unknown", func() {
			_, err := service.Get(ctx, "owner-1", "no-such-id")
			Expect(err).To(MatchError(internal.ErrUnknownTransaction))
		})
	})
})

var _ = Describe("InitiateRequest validation", func() {
	It("should require owner_id, provider, currency and purpose", func() {
		err := (&InitiateRequest{}).Validate()
		Expect(err).NotTo(BeNil())
		Expect(err.Code).To(Equal(internal.ErrCodeValidationFailed))
	})

	It("should require a cv download payload to carry a document token", func() {
		payload, merr := json.Marshal(transaction.CvDownloadPayload{})
		Expect(merr).NotTo(HaveOccurred())
		req := &InitiateRequest{
			OwnerID:        "owner-1",
			Provider:       "fapshi",
			AmountMinor:    100,
			Currency:       "XAF",
			Purpose:        "cv_download",
			PurposePayload: payload,
		}
		Expect(req.Validate()).NotTo(BeNil())
	})
})
