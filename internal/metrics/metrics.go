// Package metrics defines the Prometheus collectors for the paywall.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	PaymentChallenges prometheus.Counter
	PaymentFailures   prometheus.Counter
	VouchersIssued    prometheus.Counter
	VouchersRedeemed  prometheus.Counter
	RedeemMisses      prometheus.Counter
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		PaymentChallenges: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "payments",
			Name:      "challenges_total",
			Help:      "Total number of 402 challenges issued to unpaid callers.",
		}),

		PaymentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "payments",
			Name:      "failures_total",
			Help:      "Total number of payments rejected during verification or settlement.",
		}),

		VouchersIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "vouchers",
			Name:      "issued_total",
			Help:      "Total number of vouchers minted for verified payments.",
		}),

		VouchersRedeemed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "vouchers",
			Name:      "redeemed_total",
			Help:      "Total number of vouchers redeemed.",
		}),

		RedeemMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "vouchers",
			Name:      "redeem_misses_total",
			Help:      "Total number of redemption attempts for unknown or consumed tokens.",
		}),
	}
}
