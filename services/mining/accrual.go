package mining

import (
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/money"

	"github.com/shopspring/decimal"
)

type Rates struct {
	RatePerSecond  decimal.Decimal
	MaxPerCycle    decimal.Decimal
	Cycle          time.Duration
	StreakBonus    decimal.Decimal
	MaxBonusStreak int
}

func RatesFrom(cfg config.Mining) Rates {
	r := Rates{
		RatePerSecond:  decimal.NewFromFloat(cfg.RatePerSecond),
		MaxPerCycle:    decimal.NewFromFloat(cfg.MaxPerCycle),
		Cycle:          cfg.Cycle,
		StreakBonus:    decimal.NewFromFloat(cfg.StreakBonus),
		MaxBonusStreak: cfg.MaxBonusStreak,
	}
	if !r.RatePerSecond.IsPositive() {
		r.RatePerSecond = decimal.RequireFromString("0.02")
	}
	if !r.MaxPerCycle.IsPositive() {
		r.MaxPerCycle = decimal.NewFromInt(1728)
	}
	if r.Cycle <= 0 {
		r.Cycle = 24 * time.Hour
	}
	return r
}

func (r Rates) bonus(streak int) decimal.Decimal {
	if streak > r.MaxBonusStreak {
		streak = r.MaxBonusStreak
	}
	if streak < 0 {
		streak = 0
	}
	return r.StreakBonus.Mul(decimal.NewFromInt(int64(streak)))
}

// Cap is the most a single claim can credit at speed.
func (r Rates) Cap(speed decimal.Decimal) decimal.Decimal {
	return money.Tokens(r.MaxPerCycle.Mul(speed))
}

// Accrue is the credited amount for elapsed time since the last claim:
// min(seconds*rate*speed*(1+bonus(streak)), maxPerCycle*speed). streak is the
// streak before this claim.
func Accrue(elapsed time.Duration, speed decimal.Decimal, streak int, r Rates) decimal.Decimal {
	if elapsed <= 0 || !speed.IsPositive() {
		return decimal.Zero
	}

	seconds := decimal.New(elapsed.Microseconds(), -6)
	base := seconds.Mul(r.RatePerSecond).Mul(speed)
	credited := base.Mul(decimal.NewFromInt(1).Add(r.bonus(streak)))

	return money.Tokens(decimal.Min(credited, r.Cap(speed)))
}

// NextStreak continues the streak when now is within two cycles of the
// previous claim and restarts it otherwise.
func NextStreak(prev int, lastClaim *time.Time, now time.Time, r Rates) int {
	if lastClaim == nil || now.Sub(*lastClaim) > 2*r.Cycle {
		return 1
	}
	return prev + 1
}
