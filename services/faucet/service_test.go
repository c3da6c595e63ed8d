package faucet

import (
	"context"
	"errors"
	"testing"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/featureflags"
	"bizops-incentives/pkg/webhook"
	"bizops-incentives/services/advertising"
	"bizops-incentives/services/risk"
	"bizops-incentives/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const adSecret = "0123456789abcdef0123456789abcdef"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	ads   *advertising.Service
	clock *testutil.Clock
}

func newFixture(t *testing.T, requireAd bool, flags featureflags.FeatureFlag) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	testutil.Migrate(t, db, risk.Migrate, advertising.Migrate, Migrate)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Webhook = config.Webhook{AdNetworkSecret: adSecret, MaxSkew: 5 * time.Minute}
	cfg.Faucet = config.Faucet{
		RequireVerifiedAd: requireAd,
		Currencies: map[string]config.FaucetCurrency{
			"btc":  {Enabled: true, Amount: 0.00000150, Interval: time.Hour},
			"doge": {Enabled: true, Amount: 0.5, Interval: 30 * time.Minute},
			"eth":  {Enabled: false, Amount: 0.00001, Interval: time.Hour},
		},
	}

	rs, err := risk.NewService(risk.ServiceParams{DB: db, Node: node, Config: cfg})
	require.NoError(t, err)
	ads := advertising.NewService(advertising.ServiceParams{DB: db, Node: node, Config: cfg})

	svc := NewService(ServiceParams{DB: db, Node: node, Config: cfg, Risk: rs, Ads: ads, Flags: flags})
	clock := testutil.NewClock(time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC))
	svc.now = clock.Now

	return &fixture{svc: svc, db: db, ads: ads, clock: clock}
}

func (f *fixture) verifiedCompletion(t *testing.T, userID string) snowflake.ID {
	t.Helper()
	ctx := context.Background()

	imp, err := f.ads.RecordImpression(ctx, advertising.ImpressionParams{UserID: userID, Network: "bitmedia"})
	require.NoError(t, err)

	signed, err := webhook.Sign(adSecret, advertising.CompletionCallback{
		IssuedAt:        time.Now().Unix(),
		EventID:         "evt-" + imp.Token,
		Network:         "bitmedia",
		ImpressionToken: imp.Token,
	})
	require.NoError(t, err)

	c, err := f.ads.VerifyCompletion(ctx, signed)
	require.NoError(t, err)
	return c.ID
}

func claim(f *fixture, user, currency string, completion snowflake.ID) (*FaucetClaim, error) {
	return f.svc.Claim(context.Background(), ClaimParams{
		UserID:            user,
		Currency:          currency,
		WalletAddress:     "addr-" + user,
		DeviceFingerprint: "device-" + user,
		IPAddress:         "10.0.0.1",
		AdCompletionID:    completion,
	})
}

func TestClaimWindow(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 59, 59, 0, time.UTC)
	require.Equal(t, ClaimWindow(at, time.Hour), ClaimWindow(at.Add(-59*time.Minute), time.Hour))
	require.NotEqual(t, ClaimWindow(at, time.Hour), ClaimWindow(at.Add(time.Second), time.Hour))
}

func TestClaimCooldown(t *testing.T) {
	f := newFixture(t, false, nil)

	c, err := claim(f, "u-1", "btc", 0)
	require.NoError(t, err)
	require.Equal(t, CurrencyBTC, c.Currency)
	require.Equal(t, ClaimPending, c.Status)
	require.True(t, decimal.RequireFromString("0.0000015").Equal(c.Amount))

	f.clock.Advance(20 * time.Minute)
	_, err = claim(f, "u-1", "BTC", 0)
	require.Equal(t, errutil.StatusTooManyRequests, errutil.StatusOf(err))

	// cooldowns are per currency
	_, err = claim(f, "u-1", "doge", 0)
	require.NoError(t, err)

	f.clock.Advance(41 * time.Minute)
	_, err = claim(f, "u-1", "btc", 0)
	require.NoError(t, err)
}

func TestClaimWindowIndexBlocksDuplicates(t *testing.T) {
	f := newFixture(t, false, nil)

	c, err := claim(f, "u-1", "btc", 0)
	require.NoError(t, err)

	// a row that slipped past the cooldown check still hits the index
	require.NoError(t, f.db.Model(&FaucetClaim{}).Where("id = ?", c.ID).
		Update("next_claim_at", f.clock.Now().Add(-time.Minute)).Error)

	_, err = claim(f, "u-1", "btc", 0)
	require.Equal(t, errutil.StatusTooManyRequests, errutil.StatusOf(err))
}

func TestClaimRejectsUnavailableCurrencies(t *testing.T) {
	f := newFixture(t, false, featureflags.Static{"faucet_doge": false})

	_, err := claim(f, "u-1", "xrp", 0)
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = claim(f, "u-1", "eth", 0)
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	_, err = claim(f, "u-1", "ltc", 0)
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	_, err = claim(f, "u-1", "doge", 0)
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))
}

func TestClaimBlockedByRisk(t *testing.T) {
	f := newFixture(t, false, nil)

	// a second account on the same device and address scores 40 + 0
	_, err := claim(f, "u-1", "btc", 0)
	require.NoError(t, err)

	f.svc.risk, _ = risk.NewService(risk.ServiceParams{DB: f.db, Node: f.svc.node, Config: &config.Config{
		Risk: config.Risk{FlagThreshold: 20, BlockThreshold: 40},
	}})
	_, err = f.svc.Claim(context.Background(), ClaimParams{
		UserID:            "u-2",
		Currency:          "btc",
		WalletAddress:     "addr-u-2",
		DeviceFingerprint: "device-u-1",
		IPAddress:         "10.0.0.1",
	})
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	var n int64
	require.NoError(t, f.db.Model(&FaucetClaim{}).Where("user_id = ?", "u-2").Count(&n).Error)
	require.Zero(t, n)
}

func TestAdGating(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	_, err := claim(f, "u-1", "btc", 0)
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	// client-reported completions are never verified
	imp, err := f.ads.RecordImpression(ctx, advertising.ImpressionParams{UserID: "u-1", Network: "bitmedia"})
	require.NoError(t, err)
	unverified, err := f.ads.RecordCompletion(ctx, imp.Token, "u-1")
	require.NoError(t, err)
	_, err = claim(f, "u-1", "btc", unverified.ID)
	require.True(t, errors.Is(err, advertising.ErrNotEligible))

	// someone else's verified completion does not count
	other := f.verifiedCompletion(t, "u-2")
	_, err = claim(f, "u-1", "btc", other)
	require.True(t, errors.Is(err, advertising.ErrNotEligible))

	own := f.verifiedCompletion(t, "u-1")
	c, err := claim(f, "u-1", "btc", own)
	require.NoError(t, err)
	require.Equal(t, own, c.AdCompletionID)

	// spent completions cannot gate a second claim
	_, err = claim(f, "u-1", "doge", own)
	require.True(t, errors.Is(err, advertising.ErrNotEligible))
}

func TestUngatedClaimIgnoresAdCompletion(t *testing.T) {
	f := newFixture(t, false, nil)

	own := f.verifiedCompletion(t, "u-1")
	c, err := claim(f, "u-1", "btc", own)
	require.NoError(t, err)
	require.Zero(t, c.AdCompletionID)

	var stored FaucetClaim
	require.NoError(t, f.db.First(&stored, "id = ?", c.ID).Error)
	require.Zero(t, stored.AdCompletionID)

	// the completion was not spent and still gates a later claim
	var completion advertising.AdCompletion
	require.NoError(t, f.db.First(&completion, "id = ?", own).Error)
	require.Empty(t, completion.ConsumedBy)
}

func TestSettleClaims(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	c, err := claim(f, "u-1", "btc", 0)
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(ctx, c.ID, "")
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	paid, err := f.svc.MarkPaid(ctx, c.ID, "0xabc")
	require.NoError(t, err)
	require.Equal(t, ClaimPaid, paid.Status)
	require.Equal(t, "0xabc", paid.TxHash)

	_, err = f.svc.MarkFailed(ctx, c.ID, "double spend")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	_, err = f.svc.MarkFailed(ctx, snowflake.ID(1), "missing")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	pending, err := claim(f, "u-2", "btc", 0)
	require.NoError(t, err)
	_, err = f.svc.MarkFailed(ctx, 0, "missing")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
	_, err = f.svc.MarkPaid(ctx, 0, "0xdef")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
	var untouched FaucetClaim
	require.NoError(t, f.db.First(&untouched, "id = ?", pending.ID).Error)
	require.Equal(t, ClaimPending, untouched.Status)

	page, err := f.svc.ListClaims(ctx, ListFilter{Status: ClaimPaid})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	_, err := claim(f, "u-1", "doge", 0)
	require.NoError(t, err)

	st, err := f.svc.Status(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, st, len(Currencies))

	byCur := map[Currency]CurrencyStatus{}
	for _, s := range st {
		byCur[s.Currency] = s
	}
	require.True(t, byCur[CurrencyBTC].Available)
	require.False(t, byCur[CurrencyETH].Enabled)
	require.False(t, byCur[CurrencyDOGE].Available)
	require.NotNil(t, byCur[CurrencyDOGE].NextClaimAt)
	require.True(t, f.clock.Now().Add(30*time.Minute).Equal(*byCur[CurrencyDOGE].NextClaimAt))
}
