package wallet

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var ErrInsufficientBalance = errors.New("insufficient wallet balance")

// WalletAccount is created on a user's first credit. TokenBalance only moves
// through arithmetic updates so concurrent writers never overwrite each other.
type WalletAccount struct {
	ID             snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	TokenBalance   decimal.Decimal `gorm:"type:decimal(18,8);not null;default:0" json:"token_balance"`
	CashBalance    decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"cash_balance"`
	TotalEarned    decimal.Decimal `gorm:"type:decimal(18,8);not null;default:0" json:"total_earned"`
	TotalRedeemed  decimal.Decimal `gorm:"type:decimal(18,8);not null;default:0" json:"total_redeemed"`
	TotalCashedOut decimal.Decimal `gorm:"type:decimal(18,8);not null;default:0" json:"total_cashed_out"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Counter names the lifetime total a debit is booked against.
type Counter string

const (
	CounterNone     Counter = ""
	CounterRedeemed Counter = "total_redeemed"
)
