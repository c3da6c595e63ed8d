package advertising

import (
	"context"
	"errors"
	"testing"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/webhook"
	"bizops-incentives/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "0123456789abcdef0123456789abcdef"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t)
	testutil.Migrate(t, db, Migrate)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Webhook.AdNetworkSecret = secret
	cfg.Webhook.MaxSkew = 5 * time.Minute

	return NewService(ServiceParams{DB: db, Node: node, Config: cfg})
}

func sign(t *testing.T, network, token string) string {
	t.Helper()
	s, err := webhook.Sign(secret, CompletionCallback{
		IssuedAt:        time.Now().Unix(),
		EventID:         uuid.NewString(),
		Network:         network,
		ImpressionToken: token,
	})
	require.NoError(t, err)
	return s
}

func TestParseNetwork(t *testing.T) {
	require.Equal(t, NetworkBitmedia, ParseNetwork(" Bitmedia "))
	require.Equal(t, NetworkCointraffic, ParseNetwork("cointraffic"))
	require.Equal(t, NetworkFallback, ParseNetwork("house-ads"))
	require.Equal(t, NetworkFallback, ParseNetwork(""))
}

func TestFallbackImpressionIsLowTrust(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	imp, err := svc.RecordImpression(ctx, ImpressionParams{UserID: "u-1", Network: "unknown"})
	require.NoError(t, err)
	require.True(t, imp.IsFallback)
	require.Equal(t, TrustLow, imp.TrustLevel)

	_, err = uuid.Parse(imp.Token)
	require.NoError(t, err)

	c, err := svc.RecordCompletion(ctx, imp.Token, "u-1")
	require.NoError(t, err)
	require.False(t, c.Verified)

	_, err = svc.VerifyCompletion(ctx, sign(t, "fallback", imp.Token))
	require.True(t, errors.Is(err, ErrNotEligible))

	err = svc.Consume(ctx, nil, c.ID, "u-1", "claim-1")
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))
}

func TestClientCompletionNeverVerifies(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	imp, err := svc.RecordImpression(ctx, ImpressionParams{UserID: "u-1", Network: "bitmedia"})
	require.NoError(t, err)
	require.Equal(t, TrustStandard, imp.TrustLevel)

	_, err = svc.RecordClick(ctx, imp.Token, "u-1")
	require.NoError(t, err)

	first, err := svc.RecordCompletion(ctx, imp.Token, "u-1")
	require.NoError(t, err)
	again, err := svc.RecordCompletion(ctx, imp.Token, "u-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.False(t, again.Verified)

	_, err = svc.RecordCompletion(ctx, imp.Token, "u-2")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	err = svc.Consume(ctx, nil, first.ID, "u-1", "claim-1")
	require.True(t, errors.Is(err, ErrNotEligible))
}

func TestVerifiedCompletionConsumedOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	imp, err := svc.RecordImpression(ctx, ImpressionParams{UserID: "u-1", Network: "cointraffic"})
	require.NoError(t, err)

	c, err := svc.VerifyCompletion(ctx, sign(t, "cointraffic", imp.Token))
	require.NoError(t, err)
	require.True(t, c.Verified)
	require.NotNil(t, c.VerifiedAt)

	dup, err := svc.VerifyCompletion(ctx, sign(t, "cointraffic", imp.Token))
	require.NoError(t, err)
	require.Equal(t, c.ID, dup.ID)

	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(svc.Consume(ctx, nil, c.ID, "u-2", "claim-x")))
	require.NoError(t, svc.Consume(ctx, nil, c.ID, "u-1", "claim-1"))
	require.True(t, errors.Is(svc.Consume(ctx, nil, c.ID, "u-1", "claim-2"), ErrNotEligible))
}

func TestVerifyRejectsBadCallbacks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	imp, err := svc.RecordImpression(ctx, ImpressionParams{UserID: "u-1", Network: "bitmedia"})
	require.NoError(t, err)

	forged, err := webhook.Sign("ffffffffffffffffffffffffffffffff", CompletionCallback{IssuedAt: time.Now().Unix(), Network: "bitmedia", ImpressionToken: imp.Token})
	require.NoError(t, err)
	_, err = svc.VerifyCompletion(ctx, forged)
	require.Equal(t, errutil.StatusUnauthorized, errutil.StatusOf(err))

	_, err = svc.VerifyCompletion(ctx, sign(t, "cointraffic", imp.Token))
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	_, err = svc.VerifyCompletion(ctx, sign(t, "bitmedia", uuid.NewString()))
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	// a signed callback without a token must not match the first impression
	_, err = svc.VerifyCompletion(ctx, sign(t, "bitmedia", ""))
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	var completions int64
	require.NoError(t, svc.db.Model(&AdCompletion{}).Count(&completions).Error)
	require.Zero(t, completions)
}
