package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/friends4payments/dory-x402-gemini/internal/pricing"
	"github.com/friends4payments/dory-x402-gemini/internal/verifier"
	"github.com/friends4payments/dory-x402-gemini/internal/voucher"
	"github.com/friends4payments/dory-x402-gemini/internal/x402"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "Welcome to the Dory X402 API")
}

// handlePay is the fixed-price route. The body is an arbitrary JSON order
// object, stored verbatim once the flat price has been paid.
func (s *Server) handlePay(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	// Unmarshal into a map is a no-op for the JSON literal null, so a nil
	// map must be rejected alongside decode failures.
	var order map[string]json.RawMessage
	if err := json.Unmarshal(body, &order); err != nil || order == nil {
		respondError(c, http.StatusBadRequest, "Order must be a JSON object")
		return
	}

	requirement, err := s.resolver.Requirement(s.flatPrice)
	if err != nil {
		s.logger.Error("flat price requirement derivation failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal error")
		return
	}

	s.gateAndMint(c, requirement, body)
}

// handleDynamicPay is the variable-price route. The body carries the price
// specification ({price, asset, payload?}); the requirement is derived from
// it before the payment gate runs.
func (s *Server) handleDynamicPay(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	price, err := pricing.ParsePrice(body)
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrMalformedBody):
			respondError(c, http.StatusBadRequest, "Order must be a JSON object")
		default:
			respondError(c, http.StatusBadRequest, "Invalid price format")
		}
		return
	}

	requirement, err := s.resolver.Requirement(price)
	if err != nil {
		// The only client-side cause is an asset outside the registry.
		respondError(c, http.StatusBadRequest, "Invalid price format")
		return
	}

	s.logger.Info("dynamic price quoted",
		zap.String("amount", requirement.Amount),
		zap.String("asset", requirement.Asset),
		zap.String("payTo", requirement.PayTo),
		zap.String("network", requirement.Network))

	s.gateAndMint(c, requirement, body)
}

// gateAndMint runs the payment gate for the requirement and, on a verified
// payment, mints a voucher for the order body. The voucher is stored before
// the token is revealed, so a token in flight is always redeemable.
func (s *Server) gateAndMint(c *gin.Context, requirement x402.PaymentRequirements, order []byte) {
	result := s.verifier.Verify(c.Request.Context(), c.Request, requirement)
	switch result.Outcome {
	case verifier.OutcomeUnpaid:
		s.metrics.PaymentChallenges.Inc()
		c.JSON(result.Status, result.Challenge)
		return

	case verifier.OutcomeFailed:
		s.metrics.PaymentFailures.Inc()
		if result.Challenge != nil {
			c.JSON(result.Status, result.Challenge)
			return
		}
		respondError(c, result.Status, result.Message)
		return
	}

	token := voucher.NewToken()
	if err := s.store.Put(c.Request.Context(), token, order); err != nil {
		s.logger.Error("voucher store put failed", zap.String("token", token), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to store order")
		return
	}
	s.metrics.VouchersIssued.Inc()
	s.logger.Info("voucher issued", zap.String("token", token))

	if result.Settlement != nil {
		if encoded, err := x402.EncodeSettlement(*result.Settlement); err == nil {
			c.Header(x402.PaymentResponseHeader, encoded)
		} else {
			s.logger.Warn("failed to encode settlement header", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"payment": token})
}

// handleRedeem atomically retrieves and invalidates a voucher. Unknown and
// already-consumed tokens are indistinguishable to callers.
func (s *Server) handleRedeem(c *gin.Context) {
	token := c.Param("token")

	order, err := s.store.TakeOnce(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, voucher.ErrNotFound) {
			s.metrics.RedeemMisses.Inc()
			respondError(c, http.StatusNotFound, "Invalid payment")
			return
		}
		s.logger.Error("voucher store take failed", zap.String("token", token), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to redeem order")
		return
	}

	s.metrics.VouchersRedeemed.Inc()
	s.logger.Info("voucher redeemed", zap.String("token", token))
	c.JSON(http.StatusOK, gin.H{"order": json.RawMessage(order)})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
