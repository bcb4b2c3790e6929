// Package facilitator wraps the external payment-verification facilitator.
//
// The facilitator is a trusted collaborator that checks a signed payment
// against a quoted requirement (/verify) and executes it on-chain (/settle).
// This package defines the interface the rest of the service depends on and
// the HTTP implementation of it.
package facilitator

import (
	"context"
	"time"

	"github.com/friends4payments/dory-x402-gemini/internal/x402"
)

// Interface defines the facilitator contract for payment verification and
// settlement.
type Interface interface {
	// Verify verifies a payment authorization without executing the transaction.
	Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error)

	// Settle executes a verified payment on the blockchain.
	// This should only be called after successful verification.
	Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error)

	// Supported queries the facilitator for supported payment types.
	Supported(ctx context.Context) (*x402.SupportedResponse, error)
}

// VerifyRequest is the request payload sent to POST /verify.
type VerifyRequest struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// PaymentPayload contains the signed payment data from the client.
	PaymentPayload x402.PaymentPayload `json:"paymentPayload"`

	// PaymentRequirements contains the payment option that was accepted.
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the request payload sent to POST /settle.
type SettleRequest struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// PaymentPayload contains the signed payment data from the client.
	PaymentPayload x402.PaymentPayload `json:"paymentPayload"`

	// PaymentRequirements contains the payment option that was accepted.
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// TimeoutConfig holds timeout configuration for payment operations.
type TimeoutConfig struct {
	// VerifyTimeout is the maximum time to wait for payment verification.
	VerifyTimeout time.Duration

	// SettleTimeout is the maximum time to wait for payment settlement.
	SettleTimeout time.Duration

	// RequestTimeout is the overall timeout for HTTP requests.
	RequestTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for payment operations.
// Settlement waits on a blockchain transaction and gets a longer budget.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
	RequestTimeout: 120 * time.Second,
}
