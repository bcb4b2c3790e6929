// Package verifier gates request handling on proof of payment.
//
// The Verifier is called synchronously with a payment requirement and the
// inbound request, before the handler body runs. It returns one of three
// outcomes: Unpaid (no proof attached, respond with a 402 challenge),
// Verified (proof checked and settled, run the handler), or Failed (proof
// rejected, no side effects). The wrapped handler runs at most once, only
// on Verified; there is no hidden middleware chaining.
package verifier

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/friends4payments/dory-x402-gemini/internal/facilitator"
	"github.com/friends4payments/dory-x402-gemini/internal/x402"
)

// Outcome classifies the result of a payment check.
type Outcome int

const (
	// OutcomeUnpaid means no proof of payment was attached. The caller is
	// owed a 402 challenge it can retry against.
	OutcomeUnpaid Outcome = iota

	// OutcomeVerified means the proof was validated (and settled, unless
	// verify-only mode is on). The handler may run.
	OutcomeVerified

	// OutcomeFailed means proof was attached but rejected. No side effects
	// may occur.
	OutcomeFailed
)

// Result carries the outcome of a payment check plus everything the handler
// needs to respond.
type Result struct {
	Outcome Outcome

	// Status is the HTTP status to respond with for non-Verified outcomes.
	Status int

	// Message is a short caller-facing error message for non-Verified
	// outcomes without a challenge body.
	Message string

	// Challenge is the 402 Payment Required body. Set for OutcomeUnpaid and
	// for failures a compliant client can retry.
	Challenge *x402.PaymentRequired

	// Verification is the facilitator's verify result. Set on OutcomeVerified.
	Verification *x402.VerifyResponse

	// Settlement is the payment confirmation artifact, attached to the
	// response for the caller to inspect. Nil in verify-only mode.
	Settlement *x402.SettleResponse
}

// Verifier checks inbound payments against a requirement using the
// configured facilitator.
type Verifier struct {
	facilitator facilitator.Interface
	resource    x402.ResourceInfo
	verifyOnly  bool
	logger      *zap.Logger
}

// New returns a Verifier backed by the given facilitator. If verifyOnly is
// true, payments are verified but never settled.
func New(f facilitator.Interface, resource x402.ResourceInfo, verifyOnly bool, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		facilitator: f,
		resource:    resource,
		verifyOnly:  verifyOnly,
		logger:      logger,
	}
}

// Verify checks the request for proof of payment satisfying the requirement.
// It never writes to the response; the handler decides how to render the
// Result.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, requirement x402.PaymentRequirements) Result {
	resource := v.resource
	if resource.URL == "" {
		resource.URL = resourceURL(r)
	}
	if resource.Description == "" {
		resource.Description = "Payment required for " + r.URL.Path
	}
	accepts := []x402.PaymentRequirements{requirement}

	if r.Header.Get(x402.PaymentHeader) == "" {
		v.logger.Info("no payment header provided", zap.String("path", r.URL.Path))
		return Result{
			Outcome:   OutcomeUnpaid,
			Status:    http.StatusPaymentRequired,
			Challenge: challenge(resource, accepts, "Payment required"),
		}
	}

	payment, err := x402.ParsePaymentHeader(r)
	if err != nil {
		v.logger.Warn("invalid payment header", zap.Error(err))
		return Result{
			Outcome: OutcomeFailed,
			Status:  http.StatusBadRequest,
			Message: "Invalid payment header",
		}
	}

	v.logger.Info("verifying payment",
		zap.String("scheme", payment.Accepted.Scheme),
		zap.String("network", payment.Accepted.Network),
		zap.String("amount", requirement.Amount))
	verifyResp, err := v.facilitator.Verify(ctx, *payment, requirement)
	if err != nil {
		v.logger.Error("facilitator verification failed", zap.Error(err))
		return Result{
			Outcome: OutcomeFailed,
			Status:  http.StatusServiceUnavailable,
			Message: "Payment verification failed",
		}
	}

	if !verifyResp.IsValid {
		v.logger.Warn("payment verification failed", zap.String("reason", verifyResp.InvalidReason))
		return Result{
			Outcome:   OutcomeFailed,
			Status:    http.StatusPaymentRequired,
			Challenge: challenge(resource, accepts, verifyResp.InvalidReason),
		}
	}

	v.logger.Info("payment verified", zap.String("payer", verifyResp.Payer))

	result := Result{
		Outcome:      OutcomeVerified,
		Verification: verifyResp,
	}

	if v.verifyOnly {
		return result
	}

	settleResp, err := v.facilitator.Settle(ctx, *payment, requirement)
	if err != nil {
		v.logger.Error("settlement failed", zap.Error(err))
		return Result{
			Outcome: OutcomeFailed,
			Status:  http.StatusServiceUnavailable,
			Message: "Payment settlement failed",
		}
	}
	if !settleResp.Success {
		v.logger.Warn("settlement unsuccessful", zap.String("reason", settleResp.ErrorReason))
		return Result{
			Outcome:   OutcomeFailed,
			Status:    http.StatusPaymentRequired,
			Challenge: challenge(resource, accepts, settleResp.ErrorReason),
		}
	}

	v.logger.Info("payment settled",
		zap.String("transaction", settleResp.Transaction),
		zap.String("payer", settleResp.Payer))
	result.Settlement = settleResp
	return result
}

func challenge(resource x402.ResourceInfo, accepts []x402.PaymentRequirements, errMsg string) *x402.PaymentRequired {
	return &x402.PaymentRequired{
		X402Version: x402.Version,
		Error:       errMsg,
		Resource:    &resource,
		Accepts:     accepts,
	}
}

// resourceURL reconstructs the full URL of the protected resource.
func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}
