package bootstrap

import (
	"context"
	"testing"

	"bizops-incentives/pkg/config"
	"bizops-incentives/services/pricing"
	"bizops-incentives/services/testutil"
	"bizops-incentives/services/treasury"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRunIsRepeatable(t *testing.T) {
	db := testutil.NewTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Treasury.Key = "primary"

	svc := NewService(ServiceParams{
		DB: db,
		Treasury: treasury.NewService(treasury.ServiceParams{
			DB:     db,
			Node:   node,
			Config: cfg,
			Quoter: pricing.Static(decimal.RequireFromString("0.5")),
		}),
	})

	ctx := context.Background()
	require.NoError(t, svc.Run(ctx))
	require.NoError(t, svc.Run(ctx))

	for _, table := range []string{
		"treasury_accounts", "wallet_accounts", "fraud_logs", "ad_completions",
		"rewards", "daily_checkins", "mining_sessions", "cashout_requests", "faucet_claims",
	} {
		require.True(t, db.Migrator().HasTable(table), table)
	}

	var n int64
	require.NoError(t, db.Model(&treasury.TreasuryAccount{}).Count(&n).Error)
	require.Equal(t, int64(1), n)
}
