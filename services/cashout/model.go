package cashout

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal statuses never change again.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CashoutRequest converts wallet tokens to fiat at ConversionRate, frozen when
// the request is made. Tokens leave the wallet at request time and return to
// it if the request fails or is cancelled.
type CashoutRequest struct {
	ID             snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Code           string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	UserID         string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	TokenAmount    decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"token_amount"`
	CashAmount     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"cash_amount"`
	ConversionRate decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"conversion_rate"`
	Status         Status          `gorm:"type:varchar(12);index;not null" json:"status"`
	Method         string          `gorm:"type:varchar(32);not null" json:"method"`
	Destination    string          `gorm:"type:varchar(255);not null" json:"destination"`
	FailureReason  string          `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	ExternalRef    string          `gorm:"type:varchar(128)" json:"external_reference,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ProcessPayload is the body of the cashout:process task.
type ProcessPayload struct {
	CashoutID snowflake.ID `json:"cashout_id"`
}

// PaymentCallback is the signed payout processor notification.
type PaymentCallback struct {
	IssuedAt  int64  `json:"iat"`
	EventID   string `json:"event_id"`
	Code      string `json:"code"`
	Status    Status `json:"status"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
