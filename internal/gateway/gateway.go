package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/guidy/payments/internal/core/datamodel/transaction"
)

// Status is the normalized outcome a provider reports for a payment.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
)

// PaymentEvent is the normalized form of a provider callback. ReportedAmount
// and ReportedCurrency come from the authoritative source for the provider
// (status-query response where one exists, verified payload otherwise) and
// are cross-checked against the stored transaction by the engine; they never
// drive the credit amount.
type PaymentEvent struct {
	Provider         transaction.Provider
	GatewayReference string
	TransactionID    string
	ReportedStatus   Status
	// HasAmount says the provider actually supplied a figure. Zero with
	// HasAmount set is a reported amount of zero, not an absent one.
	HasAmount        bool
	ReportedAmount   int64
	ReportedCurrency string
	RawPayload       json.RawMessage
}

// Adapter translates one provider's inbound webhook/return request into a
// PaymentEvent. A (nil, nil) return means the request was a liveness probe:
// respond success, reconcile nothing. Adapters perform no persistence.
type Adapter interface {
	Provider() transaction.Provider
	ParseNotification(ctx context.Context, r *http.Request) (*PaymentEvent, error)
}

// Registry resolves the adapter for a provider path segment.
type Registry struct {
	adapters map[transaction.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[transaction.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) For(provider string) (Adapter, bool) {
	p, ok := transaction.ParseProvider(provider)
	if !ok {
		return nil, false
	}
	a, ok := r.adapters[p]
	return a, ok
}

// zeroDecimalCurrencies have no minor unit; everything else is assumed to
// carry two decimals.
var zeroDecimalCurrencies = map[string]bool{
	"XOF": true,
	"XAF": true,
	"KMF": true,
	"JPY": true,
}

// ParseAmountMinor converts a provider-reported amount string ("10.00",
// "1000") into minor units for the given currency.
func ParseAmountMinor(value, currency string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}

	exponent := 2
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		exponent = 0
	}

	whole, frac := value, ""
	if i := strings.IndexByte(value, '.'); i >= 0 {
		whole, frac = value[:i], value[i+1:]
	}

	if len(frac) > exponent {
		return 0, fmt.Errorf("amount %q has more decimals than %s allows", value, currency)
	}
	for len(frac) < exponent {
		frac += "0"
	}

	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return n, nil
}

// signPayload computes the hex HMAC-SHA256 the signing providers put in
// their signature header.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret string, body []byte, signature string) bool {
	expected := signPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
