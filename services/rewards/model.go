package rewards

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type RewardType string

const (
	RewardDailyCheckin  RewardType = "daily_checkin"
	RewardReferral      RewardType = "referral"
	RewardSignupBonus   RewardType = "signup_bonus"
	RewardJobCompletion RewardType = "job_completion"
	RewardMiningClaim   RewardType = "mining_claim"
	RewardFaucetClaim   RewardType = "faucet_claim"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRedeemed  Status = "redeemed"
	StatusReversed  Status = "reversed"
)

// Reward is one grant of tokens. (reward_type, reference_id) is unique so a
// source event can only pay out once.
type Reward struct {
	ID          snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID      string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	RewardType  RewardType      `gorm:"type:varchar(20);uniqueIndex:idx_reward_source;not null" json:"reward_type"`
	ReferenceID string          `gorm:"type:varchar(64);uniqueIndex:idx_reward_source;not null" json:"reference_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"amount"`
	CashValue   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"cash_value"`
	Status      Status          `gorm:"type:varchar(10);index;not null" json:"status"`
	Description string          `gorm:"type:varchar(255)" json:"description,omitempty"`
	ReserveTxID snowflake.ID    `json:"reserve_transaction_id,omitempty"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	RedeemedAt  *time.Time      `json:"redeemed_at,omitempty"`
	ReversedAt  *time.Time      `json:"reversed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type DailyCheckin struct {
	ID                snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID            string          `gorm:"type:varchar(64);uniqueIndex:idx_checkin_user_date;not null" json:"user_id"`
	CheckinDate       string          `gorm:"type:char(10);uniqueIndex:idx_checkin_user_date;not null" json:"checkin_date"`
	Streak            int             `gorm:"not null" json:"streak"`
	RewardAmount      decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"reward_amount"`
	RiskScore         int             `gorm:"not null;default:0" json:"risk_score"`
	DeviceFingerprint string          `gorm:"type:varchar(128)" json:"-"`
	IPAddress         string          `gorm:"type:varchar(64)" json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
}
