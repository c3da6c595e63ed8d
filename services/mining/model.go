package mining

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// MiningSession holds the authoritative accrual anchor for one user. Version
// guards claim writes.
type MiningSession struct {
	ID            snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	StartedAt     time.Time       `gorm:"not null" json:"started_at"`
	LastClaimTime *time.Time      `json:"last_claim_time,omitempty"`
	NextClaimAt   time.Time       `gorm:"not null" json:"next_claim_at"`
	MiningSpeed   decimal.Decimal `gorm:"type:decimal(18,8);not null;default:1" json:"mining_speed"`
	Streak        int             `gorm:"not null;default:0" json:"streak"`
	TotalMined    decimal.Decimal `gorm:"type:decimal(18,8);not null;default:0" json:"total_mined"`
	IsActive      bool            `gorm:"not null;default:true" json:"is_active"`
	Version       int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// anchor is where the current accrual period began.
func (m *MiningSession) anchor() time.Time {
	if m.LastClaimTime != nil && m.LastClaimTime.After(m.StartedAt) {
		return *m.LastClaimTime
	}
	return m.StartedAt
}
