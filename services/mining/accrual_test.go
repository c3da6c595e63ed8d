package mining

import (
	"testing"
	"time"

	"bizops-incentives/pkg/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testRates = RatesFrom(config.Mining{
	RatePerSecond:  0.02,
	MaxPerCycle:    1728,
	Cycle:          24 * time.Hour,
	StreakBonus:    0.05,
	MaxBonusStreak: 10,
})

func TestAccrue(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		speed   string
		streak  int
		want    string
	}{
		{"two hours", 7200 * time.Second, "1", 0, "144"},
		{"streak bonus", 7200 * time.Second, "1", 3, "165.6"},
		{"bonus capped at max streak", 1000 * time.Second, "1", 40, "30"},
		{"full cycle", 24 * time.Hour, "1", 0, "1728"},
		{"capped after a week", 7 * 24 * time.Hour, "1", 5, "1728"},
		{"speed raises cap", 7 * 24 * time.Hour, "2", 0, "3456"},
		{"fractional seconds", 1500 * time.Millisecond, "1", 0, "0.03"},
		{"nothing elapsed", 0, "1", 0, "0"},
		{"clock skew", -time.Minute, "1", 0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Accrue(tt.elapsed, d(tt.speed), tt.streak, testRates)
			require.True(t, d(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestAccrueNeverExceedsCap(t *testing.T) {
	for _, speed := range []string{"0.5", "1", "1.25", "3"} {
		limit := d("1728").Mul(d(speed))
		for h := 1; h <= 24*10; h += 7 {
			got := Accrue(time.Duration(h)*time.Hour, d(speed), 10, testRates)
			require.False(t, got.GreaterThan(limit), "speed %s after %dh: %s", speed, h, got)
		}
	}
}

func TestNextStreak(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ago := func(dur time.Duration) *time.Time {
		at := now.Add(-dur)
		return &at
	}

	require.Equal(t, 1, NextStreak(0, nil, now, testRates))
	require.Equal(t, 4, NextStreak(3, ago(26*time.Hour), now, testRates))
	require.Equal(t, 4, NextStreak(3, ago(48*time.Hour), now, testRates))
	require.Equal(t, 1, NextStreak(3, ago(49*time.Hour), now, testRates))
}

func TestProject(t *testing.T) {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	sess := MiningSession{StartedAt: start, MiningSpeed: d("1"), IsActive: true}

	p := Project(sess, start.Add(7200*time.Second), testRates)
	require.True(t, d("144").Equal(p.Estimated))
	require.True(t, d("0.02").Equal(p.RatePerSecond))
	require.InDelta(t, 0.0833, p.Progress, 0.0001)
	require.Equal(t, start.Add(86400*time.Second), p.FullAt)
	require.EqualValues(t, 86400-7200, p.SecondsUntilFull)

	p = Project(sess, start.Add(72*time.Hour), testRates)
	require.True(t, d("1728").Equal(p.Estimated))
	require.Zero(t, p.SecondsUntilFull)

	sess.IsActive = false
	p = Project(sess, start.Add(time.Hour), testRates)
	require.True(t, p.Estimated.IsZero())
}
