package mining

import (
	"time"

	"bizops-incentives/pkg/money"

	"github.com/shopspring/decimal"
)

// Projection is a display estimate of a running session. Claims never read it.
type Projection struct {
	Estimated        decimal.Decimal `json:"estimated"`
	Cap              decimal.Decimal `json:"cap"`
	Progress         float64         `json:"progress"`
	RatePerSecond    decimal.Decimal `json:"rate_per_second"`
	SecondsUntilFull int64           `json:"seconds_until_full"`
	FullAt           time.Time       `json:"full_at"`
	AsOf             time.Time       `json:"as_of"`
}

// Project interpolates what a session would show at now. Clients can keep
// counting from Estimated at RatePerSecond until Cap.
func Project(s MiningSession, now time.Time, r Rates) Projection {
	p := Projection{AsOf: now, Cap: r.Cap(s.MiningSpeed)}
	if !s.IsActive || !s.MiningSpeed.IsPositive() {
		p.Estimated = decimal.Zero
		p.RatePerSecond = decimal.Zero
		return p
	}

	rate := r.RatePerSecond.Mul(s.MiningSpeed).Mul(decimal.NewFromInt(1).Add(r.bonus(s.Streak)))
	p.RatePerSecond = money.Tokens(rate)

	anchor := s.anchor()
	elapsed := now.Sub(anchor)
	if elapsed < 0 {
		elapsed = 0
	}

	est := decimal.New(elapsed.Microseconds(), -6).Mul(rate)
	if est.GreaterThan(p.Cap) {
		est = p.Cap
	}
	p.Estimated = money.Tokens(est)

	if p.Cap.IsPositive() {
		p.Progress, _ = p.Estimated.DivRound(p.Cap, 4).Float64()
	}

	fullAfter := p.Cap.Div(rate).Ceil().IntPart()
	p.FullAt = anchor.Add(time.Duration(fullAfter) * time.Second)
	if left := p.FullAt.Sub(now); left > 0 {
		p.SecondsUntilFull = int64(left.Seconds())
	}
	return p
}
