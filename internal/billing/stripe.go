package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"
)

// StripeProcessor implements Processor using Stripe PaymentIntents.
// Retried charges are confirmed off-session against the stored payment
// method.
type StripeProcessor struct {
	logger *zap.Logger
}

// NewStripeProcessor creates a new Stripe processor
func NewStripeProcessor(secretKey string, logger *zap.Logger) (*StripeProcessor, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	stripe.Key = secretKey

	return &StripeProcessor{logger: logger}, nil
}

// ChargePayment executes a single charge attempt
func (s *StripeProcessor) ChargePayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.PaymentMethodID == "" {
		return nil, fmt.Errorf("payment method is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	s.logger.Info("Executing charge attempt",
		zap.String("customer_id", req.CustomerID),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency))

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if len(req.Metadata) > 0 {
		params.Metadata = req.Metadata
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	intent, err := paymentintent.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			// Card declines are an outcome, not a transport fault.
			result := &ChargeResult{
				Success:      false,
				ErrorCode:    string(stripeErr.Code),
				ErrorMessage: stripeErr.Msg,
			}
			if stripeErr.PaymentIntent != nil {
				result.TransactionID = stripeErr.PaymentIntent.ID
			}
			return result, nil
		}
		return nil, fmt.Errorf("stripe charge failed: %w", err)
	}

	result := &ChargeResult{
		TransactionID: intent.ID,
		Success:       intent.Status == stripe.PaymentIntentStatusSucceeded,
	}
	if !result.Success {
		result.ErrorCode = string(intent.Status)
	}
	return result, nil
}

// Close closes the processor connection
func (s *StripeProcessor) Close() error {
	return nil
}
