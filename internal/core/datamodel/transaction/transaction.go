package transaction

import (
	"encoding/json"
	"fmt"
	"time"
)

type Provider string

const (
	ProviderCinetPay Provider = "cinetpay"
	ProviderNotchPay Provider = "notchpay"
	ProviderPayPal   Provider = "paypal"
	ProviderFapshi   Provider = "fapshi"
)

func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderCinetPay, ProviderNotchPay, ProviderPayPal, ProviderFapshi:
		return Provider(s), true
	}
	return "", false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status permits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

type Purpose string

const (
	PurposeTokenPurchase       Purpose = "token_purchase"
	PurposeCompanySubscription Purpose = "company_subscription"
	PurposeCvDownload          Purpose = "cv_download"
)

func ParsePurpose(s string) (Purpose, bool) {
	switch Purpose(s) {
	case PurposeTokenPurchase, PurposeCompanySubscription, PurposeCvDownload:
		return Purpose(s), true
	}
	return "", false
}

type TokenPurchasePayload struct {
	Tokens int64 `json:"tokens"`
}

type CompanySubscriptionPayload struct {
	Plan   string `json:"plan"`
	Months int    `json:"months"`
}

type CvDownloadPayload struct {
	DocumentToken string `json:"document_token"`
}

// Transaction is created pending at checkout time, before the user is
// redirected to the gateway. ID is assigned on our side; GatewayReference is
// attached once the provider responds. The (provider, gateway_reference) pair
// is unique so a replayed webhook can never resolve to a second record.
type Transaction struct {
	ID               string          `gorm:"primaryKey"`
	Provider         Provider        `gorm:"column:provider;not null;uniqueIndex:idx_provider_reference"`
	GatewayReference *string         `gorm:"column:gateway_reference;uniqueIndex:idx_provider_reference"`
	AmountMinor      int64           `gorm:"column:amount_minor;not null"`
	Currency         string          `gorm:"column:currency;not null"`
	Purpose          Purpose         `gorm:"column:purpose;not null"`
	PurposePayload   json.RawMessage `gorm:"column:purpose_payload;type:jsonb"`
	Status           Status          `gorm:"column:status;default:pending;index"`
	OwnerID          string          `gorm:"column:owner_id;not null;index"`
	FailureReason    *string         `gorm:"column:failure_reason"`
	ReviewFlag       bool            `gorm:"column:review_flag;default:false;index"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
	CompletedAt      *time.Time      `gorm:"column:completed_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// CreditTokens derives the wallet credit from the stored purpose payload.
// The gateway payload is deliberately not an input here: the amount a
// provider reports must never decide how many tokens get credited.
func (t *Transaction) CreditTokens() (int64, error) {
	switch t.Purpose {
	case PurposeTokenPurchase:
		var p TokenPurchasePayload
		if err := json.Unmarshal(t.PurposePayload, &p); err != nil {
			return 0, fmt.Errorf("decode token purchase payload: %w", err)
		}
		if p.Tokens < 0 {
			return 0, fmt.Errorf("negative token count %d in purchase payload", p.Tokens)
		}
		return p.Tokens, nil
	case PurposeCompanySubscription, PurposeCvDownload:
		// non-token purposes complete without a wallet credit
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown purpose %q", t.Purpose)
	}
}
