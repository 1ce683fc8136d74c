package checkout

import (
	"encoding/json"

	errors "github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/core/common/validation"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
)

var (
	knownProviders = []string{
		string(transaction.ProviderCinetPay),
		string(transaction.ProviderNotchPay),
		string(transaction.ProviderPayPal),
		string(transaction.ProviderFapshi),
	}
	knownPurposes = []string{
		string(transaction.PurposeTokenPurchase),
		string(transaction.PurposeCompanySubscription),
		string(transaction.PurposeCvDownload),
	}
)

// InitiateRequest starts a checkout. The purpose payload is validated here
// so a transaction can never be stored with an undecodable one.
type InitiateRequest struct {
	OwnerID        string          `json:"owner_id"`
	Provider       string          `json:"provider"`
	AmountMinor    int64           `json:"amount_minor"`
	Currency       string          `json:"currency"`
	Purpose        string          `json:"purpose"`
	PurposePayload json.RawMessage `json:"purpose_payload"`
}

func (r *InitiateRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("owner_id", r.OwnerID).Required()
	v.Field("provider", r.Provider).Required().OneOf(knownProviders, errors.ErrCodeInvalidProvider)
	v.Field("amount_minor", r.AmountMinor).Required().MinInt(1, errors.ErrCodeInvalidAmount)
	v.Field("currency", r.Currency).Required().MinLength(3).MaxLength(3)
	v.Field("purpose", r.Purpose).Required().OneOf(knownPurposes, errors.ErrCodeInvalidPurpose)
	if err := v.Validate(); err != nil {
		return err
	}
	return r.validatePayload()
}

func (r *InitiateRequest) validatePayload() *errors.AppError {
	switch transaction.Purpose(r.Purpose) {
	case transaction.PurposeTokenPurchase:
		var p transaction.TokenPurchasePayload
		if err := json.Unmarshal(r.PurposePayload, &p); err != nil {
			return errors.NewValidationError("purpose_payload is not a valid token purchase payload", errors.ErrCodeInvalidPurpose)
		}
		if p.Tokens <= 0 {
			return errors.NewValidationFieldError("purpose_payload.tokens", "must be greater than zero", errors.ErrCodeInvalidPurpose)
		}
	case transaction.PurposeCompanySubscription:
		var p transaction.CompanySubscriptionPayload
		if err := json.Unmarshal(r.PurposePayload, &p); err != nil {
			return errors.NewValidationError("purpose_payload is not a valid subscription payload", errors.ErrCodeInvalidPurpose)
		}
		if p.Plan == "" || p.Months <= 0 {
			return errors.NewValidationFieldError("purpose_payload", "plan and months are required", errors.ErrCodeInvalidPurpose)
		}
	case transaction.PurposeCvDownload:
		var p transaction.CvDownloadPayload
		if err := json.Unmarshal(r.PurposePayload, &p); err != nil {
			return errors.NewValidationError("purpose_payload is not a valid document payload", errors.ErrCodeInvalidPurpose)
		}
		if p.DocumentToken == "" {
			return errors.NewValidationFieldError("purpose_payload.document_token", "is required", errors.ErrCodeInvalidPurpose)
		}
	}
	return nil
}

// InitiateResponse carries everything the frontend needs to send the payer
// to the gateway's hosted page.
type InitiateResponse struct {
	TransactionID string `json:"transaction_id"`
	Provider      string `json:"provider"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkout_url"`
}
