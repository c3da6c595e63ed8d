package treasury

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treasury_deposits_total",
		Help: "Funding deposits booked into the treasury.",
	})
	distributionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treasury_distributions_total",
		Help: "Token distributions paid out of the reserve.",
	})
	distributionRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treasury_distribution_rejections_total",
		Help: "Distributions rejected for insufficient reserve or funding.",
	})

	tokenReserveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_token_reserve",
		Help: "Tokens held in the treasury reserve.",
	})
	availableFundingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_available_funding_usd",
		Help: "USD funding not yet distributed.",
	})
	liabilityRatioGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_liability_ratio",
		Help: "totalDistributed / totalFunding at the last health snapshot.",
	})
	healthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "treasury_health",
		Help: "1 for the current treasury health status, 0 for the others.",
	}, []string{"status"})
)

func observeBalances(a TreasuryAccount) {
	reserve, _ := a.TokenReserve.Float64()
	available, _ := a.AvailableFunding.Float64()
	tokenReserveGauge.Set(reserve)
	availableFundingGauge.Set(available)
}

func observeHealth(h Health) {
	ratio, _ := h.LiabilityRatio.Float64()
	liabilityRatioGauge.Set(ratio)
	for _, s := range []HealthStatus{HealthHealthy, HealthWarning, HealthCritical} {
		v := 0.0
		if s == h.Status {
			v = 1
		}
		healthGauge.WithLabelValues(string(s)).Set(v)
	}
}
