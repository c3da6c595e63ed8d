package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRounding(t *testing.T) {
	require.Equal(t, "0.33333333", TokenString(Tokens(decimal.NewFromInt(1).Div(decimal.NewFromInt(3)))))
	require.Equal(t, "10.01", USDString(USD(decimal.RequireFromString("10.005"))))
	require.Equal(t, "144.00000000", TokenString(TokensFloat(144)))
}

func TestCashValue(t *testing.T) {
	v := CashValue(decimal.RequireFromString("144"), decimal.RequireFromString("0.0125"))
	require.Equal(t, "1.80", USDString(v))
}

func TestParsePositive(t *testing.T) {
	d, err := ParsePositive("12.3456789", USDScale)
	require.NoError(t, err)
	require.Equal(t, "12.35", USDString(d))

	_, err = ParsePositive("0", TokenScale)
	require.Error(t, err)

	_, err = ParsePositive("-1", TokenScale)
	require.Error(t, err)

	_, err = ParsePositive("abc", TokenScale)
	require.Error(t, err)
}
