package billing

import (
	"context"
)

// ChargeRequest describes one charge attempt against the payment
// processor.
type ChargeRequest struct {
	CustomerID      string            `json:"customer_id"`
	PaymentMethodID string            `json:"payment_method_id"`
	Amount          int64             `json:"amount"` // minor units
	Currency        string            `json:"currency"`
	IdempotencyKey  string            `json:"idempotency_key"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ChargeResult is the processor's answer. A declined charge is a
// result, not an error; errors are reserved for transport faults.
type ChargeResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Processor defines the payment processor collaborator.
type Processor interface {
	// ChargePayment executes a single charge attempt
	ChargePayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	// Close closes the processor connection
	Close() error
}
