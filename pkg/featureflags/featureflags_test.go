package featureflags

import (
	"context"
	"testing"

	"bizops-incentives/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestProvideWithoutKeyIsStatic(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})
	_, ok := ff.(Static)
	require.True(t, ok)
	require.True(t, ff.Enabled(context.Background(), "mining", "u1", true))
}

func TestStatic(t *testing.T) {
	ff := Static{"faucet_btc": false}
	require.False(t, ff.Enabled(context.Background(), "faucet_btc", "u1", true))
	require.True(t, ff.Enabled(context.Background(), "faucet_eth", "u1", true))
}
