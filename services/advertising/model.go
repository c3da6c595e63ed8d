package advertising

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrNotEligible = errors.New("ad completion not eligible")

type Network string

const (
	NetworkBitmedia    Network = "bitmedia"
	NetworkCointraffic Network = "cointraffic"
	NetworkFallback    Network = "fallback"
)

// ParseNetwork maps anything that is not a contracted network to fallback.
func ParseNetwork(s string) Network {
	switch n := Network(strings.ToLower(strings.TrimSpace(s))); n {
	case NetworkBitmedia, NetworkCointraffic:
		return n
	default:
		return NetworkFallback
	}
}

type TrustLevel string

const (
	TrustStandard TrustLevel = "standard"
	TrustLow      TrustLevel = "low"
)

type AdImpression struct {
	ID                snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Token             string       `gorm:"type:char(36);uniqueIndex;not null" json:"token"`
	UserID            string       `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Network           Network      `gorm:"type:varchar(20);not null" json:"network"`
	Placement         string       `gorm:"type:varchar(64)" json:"placement,omitempty"`
	IsFallback        bool         `gorm:"not null;default:false" json:"is_fallback"`
	TrustLevel        TrustLevel   `gorm:"type:varchar(10);not null" json:"trust_level"`
	IPAddress         string       `gorm:"type:varchar(64)" json:"-"`
	DeviceFingerprint string       `gorm:"type:varchar(128)" json:"-"`
	CreatedAt         time.Time    `json:"created_at"`
}

type AdClick struct {
	ID           snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ImpressionID snowflake.ID `gorm:"index;not null" json:"impression_id"`
	UserID       string       `gorm:"type:varchar(64);not null" json:"user_id"`
	CreatedAt    time.Time    `json:"created_at"`
}

// AdCompletion starts unverified when the client reports it. Only a signed
// network callback sets Verified, and only verified completions can be
// consumed by reward gating.
type AdCompletion struct {
	ID                 snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ImpressionID       snowflake.ID `gorm:"uniqueIndex;not null" json:"impression_id"`
	UserID             string       `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Network            Network      `gorm:"type:varchar(20);not null" json:"network"`
	Verified           bool         `gorm:"not null;default:false" json:"verified"`
	VerifiedAt         *time.Time   `json:"verified_at,omitempty"`
	VerificationSource string       `gorm:"type:varchar(128)" json:"verification_source,omitempty"`
	ConsumedBy         string       `gorm:"type:varchar(64);not null;default:''" json:"consumed_by,omitempty"`
	ConsumedAt         *time.Time   `json:"consumed_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// CompletionCallback is the payload ad networks sign.
type CompletionCallback struct {
	IssuedAt        int64  `json:"iat"`
	EventID         string `json:"event_id"`
	Network         string `json:"network"`
	ImpressionToken string `json:"impression_token"`
}
