// Package x402 implements the server side of the x402 payment protocol:
// the wire types exchanged with clients and facilitators, the header
// encoding, and CAIP-2 network helpers.
//
// The protocol flow is a 402 challenge/response: a resource server answers
// an unpaid request with PaymentRequired, the client retries with a signed
// PaymentPayload in the X-PAYMENT header, and the server has a facilitator
// verify and settle the payment before releasing the resource.
package x402

// Protocol version constant
const Version = 2

// ResourceInfo describes the protected resource.
type ResourceInfo struct {
	// URL is the URL of the protected resource.
	URL string `json:"url"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`
}

// PaymentRequirements defines a single acceptable payment option.
// This is an element in the "accepts" array of PaymentRequired.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network in CAIP-2 format (e.g., "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1").
	Network string `json:"network"`

	// Amount is the payment amount in atomic units (e.g., wei, lamports).
	Amount string `json:"amount"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra contains scheme-specific additional data.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is the 402 response body sent to unpaid callers.
// Its shape is a stable external contract: a compliant client reads the
// accepted requirements from it and retries with proof of payment.
type PaymentRequired struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error,omitempty"`

	// Resource describes the protected resource.
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is sent by clients to pay for resources.
type PaymentPayload struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// Resource optionally describes the resource being accessed.
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepted contains the payment requirements that were accepted.
	Accepted PaymentRequirements `json:"accepted"`

	// Payload contains the blockchain-specific signed payment data.
	Payload interface{} `json:"payload"`
}

// VerifyResponse is returned by the facilitator /verify endpoint.
type VerifyResponse struct {
	// IsValid indicates whether the payment is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason provides a short error code if the payment is invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// InvalidMessage provides a human-readable error message if the payment is invalid.
	InvalidMessage string `json:"invalidMessage,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// SettleResponse is returned by the facilitator /settle endpoint.
type SettleResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides a short error code if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// ErrorMessage provides a human-readable error message if the payment failed.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction"`

	// Network is the blockchain network where the payment was settled (CAIP-2 format).
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// SupportedKind describes a payment type supported by a facilitator.
type SupportedKind struct {
	// X402Version is the protocol version supported.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network in CAIP-2 format.
	Network string `json:"network"`

	// Extra contains scheme-specific additional data.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is returned by the facilitator /supported endpoint.
type SupportedResponse struct {
	// Kinds lists the payment types supported by the facilitator.
	Kinds []SupportedKind `json:"kinds"`

	// Extensions lists the extension identifiers supported.
	Extensions []string `json:"extensions"`

	// Signers maps CAIP-2 network patterns to signer addresses.
	Signers map[string][]string `json:"signers"`
}
