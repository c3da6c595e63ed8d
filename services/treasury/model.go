package treasury

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"bizops-incentives/pkg/money"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const GenesisHash = "GENESIS"

var (
	ErrInsufficientFunds = errors.New("insufficient treasury funds")
	ErrConcurrentUpdate  = errors.New("treasury account changed concurrently")
)

type TransactionType string

const (
	TransactionDeposit      TransactionType = "deposit"
	TransactionDistribution TransactionType = "distribution"
	TransactionRefund       TransactionType = "refund"
	TransactionAdjustment   TransactionType = "adjustment"
)

// TreasuryAccount is the ledger header. Balances only change through a
// *Ledger bound to the row inside a transaction; Version guards the write.
type TreasuryAccount struct {
	ID               snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Key              string          `gorm:"column:account_key;type:varchar(64);uniqueIndex;not null" json:"key"`
	TotalFunding     decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"total_funding"`
	TotalDistributed decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"total_distributed"`
	AvailableFunding decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"available_funding"`
	TokenReserve     decimal.Decimal `gorm:"type:decimal(18,8);not null;default:0" json:"token_reserve"`
	WarningRatio     float64         `gorm:"not null;default:0" json:"warning_ratio"`
	CriticalRatio    float64         `gorm:"not null;default:0" json:"critical_ratio"`
	Version          int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type FundingDeposit struct {
	ID                snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Code              string          `gorm:"type:varchar(32);index" json:"code"`
	TreasuryAccountID snowflake.ID    `gorm:"index;not null" json:"treasury_account_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	TokenPrice        decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"token_price"`
	TokensPurchased   decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"tokens_purchased"`
	Method            string          `gorm:"type:varchar(32);not null" json:"method"`
	Reference         string          `gorm:"type:varchar(128)" json:"reference,omitempty"`
	DepositedBy       string          `gorm:"type:varchar(64)" json:"deposited_by,omitempty"`
	ReserveTxID       snowflake.ID    `gorm:"not null" json:"reserve_transaction_id"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ReserveTransaction is the append-only audit row written with every header
// mutation. Amount and TokenAmount are signed deltas; the *After columns
// snapshot the header once the delta is applied. Sequence is the header
// version the entry produced and orders the chain; snowflake ids from
// different nodes do not.
type ReserveTransaction struct {
	ID                snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TreasuryAccountID snowflake.ID    `gorm:"index;uniqueIndex:idx_reserve_sequence,priority:1;not null" json:"treasury_account_id"`
	Sequence          int64           `gorm:"uniqueIndex:idx_reserve_sequence,priority:2;not null" json:"sequence"`
	TransactionType   TransactionType `gorm:"type:varchar(20);not null" json:"transaction_type"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	TokenAmount       decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"token_amount"`
	BalanceAfter      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"balance_after"`
	TokenReserveAfter decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"token_reserve_after"`
	RelatedEntityType string          `gorm:"type:varchar(32);index:idx_reserve_related" json:"related_entity_type,omitempty"`
	RelatedEntityID   string          `gorm:"type:varchar(64);index:idx_reserve_related" json:"related_entity_id,omitempty"`
	Description       string          `gorm:"type:varchar(255)" json:"description,omitempty"`
	Metadata          datatypes.JSON  `json:"metadata,omitempty"`
	PreviousHash      string          `gorm:"type:varchar(64);not null" json:"previous_hash"`
	Hash              string          `gorm:"type:varchar(64);not null" json:"hash"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (m *ReserveTransaction) HashFields() map[string]string {
	return map[string]string{
		"id":                  m.ID.String(),
		"treasury_account_id": m.TreasuryAccountID.String(),
		"sequence":            strconv.FormatInt(m.Sequence, 10),
		"transaction_type":    string(m.TransactionType),
		"amount":              money.USDString(m.Amount),
		"token_amount":        money.TokenString(m.TokenAmount),
		"balance_after":       money.USDString(m.BalanceAfter),
		"token_reserve_after": money.TokenString(m.TokenReserveAfter),
		"related_entity_type": m.RelatedEntityType,
		"related_entity_id":   m.RelatedEntityID,
		"description":         m.Description,
		"created_at":          m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":       m.PreviousHash,
	}
}

func (m *ReserveTransaction) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

type Health struct {
	Status         HealthStatus    `json:"status"`
	LiabilityRatio decimal.Decimal `json:"liability_ratio"`
	Thresholds     Thresholds      `json:"thresholds"`
}

// EvaluateHealth classifies the header. Per-account thresholds win over
// defaults when set.
func EvaluateHealth(a TreasuryAccount, defaults Thresholds) Health {
	th := defaults
	if a.WarningRatio > 0 {
		th.Warning = a.WarningRatio
	}
	if a.CriticalRatio > 0 {
		th.Critical = a.CriticalRatio
	}

	ratio := decimal.Zero
	if a.TotalFunding.IsPositive() {
		ratio = a.TotalDistributed.DivRound(a.TotalFunding, 4)
	}

	h := Health{Status: HealthHealthy, LiabilityRatio: ratio, Thresholds: th}
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(th.Critical)),
		a.TotalFunding.IsPositive() && !a.TokenReserve.IsPositive():
		h.Status = HealthCritical
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(th.Warning)):
		h.Status = HealthWarning
	}

	return h
}
