package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// PaymentHeader is the request header carrying the client's signed payment.
const PaymentHeader = "X-PAYMENT"

// PaymentResponseHeader is the response header carrying settlement confirmation.
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for the X-PAYMENT header.
func EncodePayment(payment PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
func DecodePayment(encoded string) (PaymentPayload, error) {
	var payment PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return payment, nil
}

// EncodeSettlement converts a SettleResponse to a base64-encoded JSON string
// suitable for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement SettleResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a SettleResponse.
func DecodeSettlement(encoded string) (SettleResponse, error) {
	var settlement SettleResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}

// ParsePaymentHeader extracts and decodes a PaymentPayload from the X-PAYMENT
// header of a request. Returns ErrMalformedHeader if the header is absent or
// undecodable, ErrUnsupportedVersion for a protocol version mismatch.
func ParsePaymentHeader(r *http.Request) (*PaymentPayload, error) {
	paymentHeader := r.Header.Get(PaymentHeader)
	if paymentHeader == "" {
		return nil, ErrMalformedHeader
	}

	payment, err := DecodePayment(paymentHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	if payment.X402Version != Version {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, payment.X402Version)
	}

	return &payment, nil
}
