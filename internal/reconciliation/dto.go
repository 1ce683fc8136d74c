package reconciliation

import (
	ledgermodel "github.com/guidy/payments/internal/core/datamodel/ledger"
	"github.com/guidy/payments/internal/core/datamodel/transaction"
)

// Outcome classifies what a single notification delivery did to the ledger.
type Outcome string

const (
	// OutcomeApplied means this delivery caused a state transition, either
	// completing the transaction or recording its failure.
	OutcomeApplied Outcome = "applied"

	// OutcomeAlreadyReconciled means the transaction was already terminal.
	// Duplicate deliveries land here and are answered with success so the
	// gateway stops retrying.
	OutcomeAlreadyReconciled Outcome = "already_reconciled"

	// OutcomeRejected means the notification was authentic but inconsistent
	// with the stored transaction, typically an amount mismatch. The
	// transaction is failed and flagged for review.
	OutcomeRejected Outcome = "rejected"

	// OutcomeUnknownTransaction means no stored transaction matches the
	// reported reference.
	OutcomeUnknownTransaction Outcome = "unknown_transaction"

	// OutcomeExpired means the transaction's completion window elapsed
	// before a conclusive notification arrived.
	OutcomeExpired Outcome = "expired"

	// OutcomePending means the notification carried no conclusive status and
	// nothing changed. Browser return legs land here while the server side
	// webhook is still in flight.
	OutcomePending Outcome = "pending"

	// OutcomeTransientFailure means storage or a gateway status query was
	// unavailable. The delivery is answered with an error so it gets retried.
	OutcomeTransientFailure Outcome = "transient_failure"
)

// Result is the full account of one reconciliation attempt.
type Result struct {
	Outcome     Outcome
	Transaction *transaction.Transaction
	Entry       *ledgermodel.Entry
	Reason      string
}

type reconcileResponse struct {
	Outcome       Outcome `json:"outcome"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}
