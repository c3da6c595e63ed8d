// Package money holds the rounding contract for persisted amounts: token
// quantities are decimal(18,8) and USD values decimal(10,2).
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	TokenScale int32 = 8
	USDScale   int32 = 2
)

func Tokens(d decimal.Decimal) decimal.Decimal {
	return d.Round(TokenScale)
}

func USD(d decimal.Decimal) decimal.Decimal {
	return d.Round(USDScale)
}

// TokensFloat converts a configured float to a token amount.
func TokensFloat(f float64) decimal.Decimal {
	return Tokens(decimal.NewFromFloat(f))
}

// CashValue is the USD value of tokens at price.
func CashValue(tokens, price decimal.Decimal) decimal.Decimal {
	return USD(tokens.Mul(price))
}

// TokenString and USDString are the canonical text forms used in hashes and exports.
func TokenString(d decimal.Decimal) string {
	return d.StringFixed(TokenScale)
}

func USDString(d decimal.Decimal) string {
	return d.StringFixed(USDScale)
}

// ParsePositive parses a request amount that must be strictly positive.
func ParsePositive(s string, scale int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", s)
	}
	return d.Round(scale), nil
}
