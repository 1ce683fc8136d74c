package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeTransactionCompleted = "transaction.completed"
	EventTypeTransactionFailed    = "transaction.failed"
	EventTypeTransactionExpired   = "transaction.expired"
)

type TransactionCompletedEvent struct {
	BaseEvent
	TransactionID    string `json:"transaction_id"`
	Provider         string `json:"provider"`
	GatewayReference string `json:"gateway_reference"`
	OwnerID          string `json:"owner_id"`
	AmountMinor      int64  `json:"amount_minor"`
	Currency         string `json:"currency"`
	TokensCredited   int64  `json:"tokens_credited"`
}

func NewTransactionCompletedEvent(transactionID, provider, gatewayReference, ownerID string, amountMinor int64, currency string, tokensCredited int64) *TransactionCompletedEvent {
	return &TransactionCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeTransactionCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id":    transactionID,
				"provider":          provider,
				"gateway_reference": gatewayReference,
				"owner_id":          ownerID,
				"amount_minor":      amountMinor,
				"currency":          currency,
				"tokens_credited":   tokensCredited,
			},
		},
		TransactionID:    transactionID,
		Provider:         provider,
		GatewayReference: gatewayReference,
		OwnerID:          ownerID,
		AmountMinor:      amountMinor,
		Currency:         currency,
		TokensCredited:   tokensCredited,
	}
}

type TransactionFailedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	Provider      string `json:"provider"`
	OwnerID       string `json:"owner_id"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failure_reason"`
	ReviewFlag    bool   `json:"review_flag"`
}

func NewTransactionFailedEvent(transactionID, provider, ownerID string, amountMinor int64, currency, failureReason string, reviewFlag bool) *TransactionFailedEvent {
	return &TransactionFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeTransactionFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"provider":       provider,
				"owner_id":       ownerID,
				"amount_minor":   amountMinor,
				"currency":       currency,
				"failure_reason": failureReason,
				"review_flag":    reviewFlag,
			},
		},
		TransactionID: transactionID,
		Provider:      provider,
		OwnerID:       ownerID,
		AmountMinor:   amountMinor,
		Currency:      currency,
		FailureReason: failureReason,
		ReviewFlag:    reviewFlag,
	}
}

type TransactionExpiredEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	OwnerID       string `json:"owner_id"`
}

func NewTransactionExpiredEvent(transactionID, ownerID string) *TransactionExpiredEvent {
	return &TransactionExpiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeTransactionExpired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"owner_id":       ownerID,
			},
		},
		TransactionID: transactionID,
		OwnerID:       ownerID,
	}
}
