// Package server exposes the paywall's HTTP surface: the payment-gated
// order routes, the voucher redemption route, and the liveness and metrics
// endpoints.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/friends4payments/dory-x402-gemini/internal/metrics"
	"github.com/friends4payments/dory-x402-gemini/internal/pricing"
	"github.com/friends4payments/dory-x402-gemini/internal/verifier"
	"github.com/friends4payments/dory-x402-gemini/internal/voucher"
)

// Server wires the pricing, verification, and voucher components behind the
// HTTP routes.
type Server struct {
	resolver  *pricing.Resolver
	verifier  *verifier.Verifier
	store     voucher.Store
	flatPrice pricing.Price
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// New builds a Server. flatPrice is the fixed price quoted on /pay.
func New(resolver *pricing.Resolver, v *verifier.Verifier, store voucher.Store, flatPrice pricing.Price, collector *metrics.Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		resolver:  resolver,
		verifier:  v,
		store:     store,
		flatPrice: flatPrice,
		metrics:   collector,
		logger:    logger,
	}
}

// Router returns the Gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.observe())

	r.GET("/", s.handleRoot)
	r.POST("/pay", s.handlePay)
	r.POST("/dynamic-pay", s.handleDynamicPay)
	r.GET("/redeem/:token", s.handleRedeem)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
