package risk

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActionTaken string

const (
	ActionAllow ActionTaken = "allow"
	ActionFlag  ActionTaken = "flag"
	ActionBlock ActionTaken = "block"
)

// FraudLog is written for every assessment that was not allowed outright.
type FraudLog struct {
	ID                snowflake.ID   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID            string         `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Action            string         `gorm:"type:varchar(32);not null" json:"action"`
	RiskScore         int            `gorm:"not null" json:"risk_score"`
	ActionTaken       ActionTaken    `gorm:"type:varchar(10);index;not null" json:"action_taken"`
	Reasons           datatypes.JSON `json:"reasons"`
	IPAddress         string         `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	DeviceFingerprint string         `gorm:"type:varchar(128)" json:"device_fingerprint,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Observation remembers which user acted from which device and address.
// Both are stored as blake2b digests; only equality matters for scoring.
type Observation struct {
	ID         snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	UserID     string       `gorm:"type:varchar(64);index:idx_observation_user_time;not null"`
	Action     string       `gorm:"type:varchar(32);not null"`
	DeviceHash string       `gorm:"type:char(64);index"`
	IPHash     string       `gorm:"type:char(64);index"`
	CreatedAt  time.Time    `gorm:"index:idx_observation_user_time"`
}

type Signals struct {
	UserID            string
	Action            string
	DeviceFingerprint string
	IPAddress         string
}

type Assessment struct {
	Score   int         `json:"score"`
	Action  ActionTaken `json:"action"`
	Reasons []string    `json:"reasons,omitempty"`
}

func (a *Assessment) Blocked() bool {
	return a.Action == ActionBlock
}
