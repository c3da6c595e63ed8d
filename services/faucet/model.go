package faucet

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyBTC  Currency = "BTC"
	CurrencyETH  Currency = "ETH"
	CurrencyLTC  Currency = "LTC"
	CurrencyDOGE Currency = "DOGE"
)

var Currencies = []Currency{CurrencyBTC, CurrencyETH, CurrencyLTC, CurrencyDOGE}

func ParseCurrency(s string) (Currency, bool) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Currencies {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// feature is the flag that switches a currency on or off at runtime.
func (c Currency) feature() string {
	return "faucet_" + strings.ToLower(string(c))
}

type ClaimStatus string

const (
	ClaimPending ClaimStatus = "pending"
	ClaimPaid    ClaimStatus = "paid"
	ClaimFailed  ClaimStatus = "failed"
)

// FaucetClaim is one payout of an external currency. (user_id, currency,
// claim_window) is unique, so one user gets at most one claim per currency
// per interval even under concurrent requests.
type FaucetClaim struct {
	ID                snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID            string          `gorm:"type:varchar(64);uniqueIndex:idx_faucet_window;index:idx_faucet_user_currency;not null" json:"user_id"`
	Currency          Currency        `gorm:"type:varchar(8);uniqueIndex:idx_faucet_window;index:idx_faucet_user_currency;not null" json:"currency"`
	ClaimWindow       int64           `gorm:"uniqueIndex:idx_faucet_window;not null" json:"claim_window"`
	Amount            decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"amount"`
	Status            ClaimStatus     `gorm:"type:varchar(10);index;not null" json:"status"`
	WalletAddress     string          `gorm:"type:varchar(128);not null" json:"wallet_address"`
	NextClaimAt       time.Time       `gorm:"not null" json:"next_claim_at"`
	RiskScore         int             `gorm:"not null;default:0" json:"risk_score"`
	DeviceFingerprint string          `gorm:"type:varchar(128)" json:"-"`
	IPAddress         string          `gorm:"type:varchar(64)" json:"-"`
	AdCompletionID    snowflake.ID    `json:"ad_completion_id,omitempty"`
	TxHash            string          `gorm:"type:varchar(128)" json:"tx_hash,omitempty"`
	FailureReason     string          `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ClaimWindow buckets t into fixed intervals since the epoch.
func ClaimWindow(t time.Time, interval time.Duration) int64 {
	return t.Unix() / int64(interval/time.Second)
}
