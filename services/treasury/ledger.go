package treasury

import (
	"context"
	"encoding/json"
	"time"

	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/money"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ledger is the treasury header bound to one database transaction. It is
// only obtained from Service.Within or Service.Attach, which lock the header
// row first, and must not outlive that transaction.
type Ledger struct {
	tx       *gorm.DB
	node     *snowflake.Node
	now      func() time.Time
	account  *TreasuryAccount
	lastHash string
}

// Account returns a copy of the header as of the last applied mutation.
func (l *Ledger) Account() TreasuryAccount {
	return *l.account
}

type DepositParams struct {
	Code        string
	Amount      decimal.Decimal
	TokenPrice  decimal.Decimal
	Method      string
	Reference   string
	DepositedBy string
}

type DistributeParams struct {
	TokenAmount       decimal.Decimal
	CashValue         decimal.Decimal
	RelatedEntityType string
	RelatedEntityID   string
	Description       string
}

type AdjustParams struct {
	AmountDelta decimal.Decimal
	TokenDelta  decimal.Decimal
	Reason      string
	AdjustedBy  string
}

// Deposit adds USD funding and the tokens it buys at TokenPrice.
func (l *Ledger) Deposit(ctx context.Context, p DepositParams) (*FundingDeposit, error) {
	amount := money.USD(p.Amount)
	if !amount.IsPositive() {
		return nil, errutil.BadRequest("deposit amount must be positive", nil, errutil.WithDetail("amount", p.Amount.String()))
	}
	if !p.TokenPrice.IsPositive() {
		return nil, errutil.BadRequest("token price must be positive", nil, errutil.WithDetail("token_price", p.TokenPrice.String()))
	}
	if p.Method == "" {
		return nil, errutil.BadRequest("deposit method is required", nil)
	}

	price := money.Tokens(p.TokenPrice)
	tokens := money.Tokens(amount.Div(price))
	if !tokens.IsPositive() {
		return nil, errutil.BadRequest("deposit buys no tokens at this price", nil)
	}

	next := *l.account
	next.TotalFunding = money.USD(next.TotalFunding.Add(amount))
	next.AvailableFunding = money.USD(next.AvailableFunding.Add(amount))
	next.TokenReserve = money.Tokens(next.TokenReserve.Add(tokens))

	meta, _ := json.Marshal(map[string]string{"code": p.Code, "method": p.Method, "reference": p.Reference})
	entry := &ReserveTransaction{
		TransactionType:   TransactionDeposit,
		Amount:            amount,
		TokenAmount:       tokens,
		RelatedEntityType: "funding_deposit",
		Description:       "funding deposit via " + p.Method,
		Metadata:          datatypes.JSON(meta),
	}

	depositID := l.node.Generate()
	entry.RelatedEntityID = depositID.String()
	if err := l.apply(ctx, entry, next); err != nil {
		return nil, err
	}

	deposit := &FundingDeposit{
		ID:                depositID,
		Code:              p.Code,
		TreasuryAccountID: l.account.ID,
		Amount:            amount,
		TokenPrice:        price,
		TokensPurchased:   tokens,
		Method:            p.Method,
		Reference:         p.Reference,
		DepositedBy:       p.DepositedBy,
		ReserveTxID:       entry.ID,
		CreatedAt:         entry.CreatedAt,
	}
	if err := l.tx.WithContext(ctx).Create(deposit).Error; err != nil {
		return nil, err
	}

	depositsTotal.Inc()
	return deposit, nil
}

// Distribute pays tokens out of the reserve. It fails with
// ErrInsufficientFunds, writing nothing, when the reserve or the available
// funding cannot cover the request.
func (l *Ledger) Distribute(ctx context.Context, p DistributeParams) (*ReserveTransaction, error) {
	tokens := money.Tokens(p.TokenAmount)
	cash := money.USD(p.CashValue)
	if !tokens.IsPositive() {
		return nil, errutil.BadRequest("distribution token amount must be positive", nil)
	}
	if cash.IsNegative() {
		return nil, errutil.BadRequest("distribution cash value must not be negative", nil)
	}

	a := l.account
	if a.TokenReserve.LessThan(tokens) || a.AvailableFunding.LessThan(cash) {
		distributionRejections.Inc()
		logger.FromContext(ctx).Warn("treasury distribution rejected",
			zap.String("token_amount", tokens.String()),
			zap.String("token_reserve", a.TokenReserve.String()),
			zap.String("cash_value", cash.String()),
			zap.String("available_funding", a.AvailableFunding.String()),
		)
		return nil, errutil.UnprocessableEntity("treasury cannot cover this distribution", ErrInsufficientFunds)
	}

	next := *a
	next.TotalDistributed = money.USD(next.TotalDistributed.Add(cash))
	next.AvailableFunding = money.USD(next.AvailableFunding.Sub(cash))
	next.TokenReserve = money.Tokens(next.TokenReserve.Sub(tokens))

	entry := &ReserveTransaction{
		TransactionType:   TransactionDistribution,
		Amount:            cash.Neg(),
		TokenAmount:       tokens.Neg(),
		RelatedEntityType: p.RelatedEntityType,
		RelatedEntityID:   p.RelatedEntityID,
		Description:       p.Description,
	}
	if err := l.apply(ctx, entry, next); err != nil {
		return nil, err
	}

	distributionsTotal.Inc()
	return entry, nil
}

// Refund returns a distribution to the treasury.
func (l *Ledger) Refund(ctx context.Context, p DistributeParams) (*ReserveTransaction, error) {
	tokens := money.Tokens(p.TokenAmount)
	cash := money.USD(p.CashValue)
	if !tokens.IsPositive() {
		return nil, errutil.BadRequest("refund token amount must be positive", nil)
	}
	if cash.IsNegative() {
		return nil, errutil.BadRequest("refund cash value must not be negative", nil)
	}
	if l.account.TotalDistributed.LessThan(cash) {
		return nil, errutil.UnprocessableEntity("refund exceeds total distributed", nil)
	}

	next := *l.account
	next.TotalDistributed = money.USD(next.TotalDistributed.Sub(cash))
	next.AvailableFunding = money.USD(next.AvailableFunding.Add(cash))
	next.TokenReserve = money.Tokens(next.TokenReserve.Add(tokens))

	entry := &ReserveTransaction{
		TransactionType:   TransactionRefund,
		Amount:            cash,
		TokenAmount:       tokens,
		RelatedEntityType: p.RelatedEntityType,
		RelatedEntityID:   p.RelatedEntityID,
		Description:       p.Description,
	}
	if err := l.apply(ctx, entry, next); err != nil {
		return nil, err
	}
	return entry, nil
}

// Adjust applies an operator correction. Funding moves with AmountDelta so
// availableFunding = totalFunding - totalDistributed keeps holding.
func (l *Ledger) Adjust(ctx context.Context, p AdjustParams) (*ReserveTransaction, error) {
	amount := money.USD(p.AmountDelta)
	tokens := money.Tokens(p.TokenDelta)
	if p.Reason == "" {
		return nil, errutil.BadRequest("adjustment reason is required", nil)
	}
	if amount.IsZero() && tokens.IsZero() {
		return nil, errutil.BadRequest("adjustment must change a balance", nil)
	}

	next := *l.account
	next.TotalFunding = money.USD(next.TotalFunding.Add(amount))
	next.AvailableFunding = money.USD(next.AvailableFunding.Add(amount))
	next.TokenReserve = money.Tokens(next.TokenReserve.Add(tokens))
	if next.TotalFunding.IsNegative() || next.AvailableFunding.IsNegative() || next.TokenReserve.IsNegative() {
		return nil, errutil.UnprocessableEntity("adjustment would make a treasury balance negative", ErrInsufficientFunds)
	}

	meta, _ := json.Marshal(map[string]string{"adjusted_by": p.AdjustedBy})
	entry := &ReserveTransaction{
		TransactionType: TransactionAdjustment,
		Amount:          amount,
		TokenAmount:     tokens,
		Description:     p.Reason,
		Metadata:        datatypes.JSON(meta),
	}
	if err := l.apply(ctx, entry, next); err != nil {
		return nil, err
	}
	return entry, nil
}

// apply appends entry to the chain and writes next as the new header. The
// in-memory header only advances when both writes succeed.
func (l *Ledger) apply(ctx context.Context, entry *ReserveTransaction, next TreasuryAccount) error {
	now := l.now().UTC().Truncate(time.Microsecond)

	entry.ID = l.node.Generate()
	entry.TreasuryAccountID = l.account.ID
	entry.Sequence = l.account.Version + 1
	entry.BalanceAfter = next.AvailableFunding
	entry.TokenReserveAfter = next.TokenReserve
	entry.PreviousHash = l.lastHash
	entry.CreatedAt = now
	entry.Hash = entry.GenerateHash()

	if err := l.tx.WithContext(ctx).Create(entry).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return errutil.Conflict("treasury account changed concurrently, retry", ErrConcurrentUpdate)
		}
		return err
	}

	res := l.tx.WithContext(ctx).Model(&TreasuryAccount{}).
		Where("id = ? AND version = ?", l.account.ID, l.account.Version).
		Updates(map[string]any{
			"total_funding":     next.TotalFunding,
			"total_distributed": next.TotalDistributed,
			"available_funding": next.AvailableFunding,
			"token_reserve":     next.TokenReserve,
			"version":           l.account.Version + 1,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("treasury account changed concurrently, retry", ErrConcurrentUpdate)
	}

	next.Version = l.account.Version + 1
	next.UpdatedAt = now
	*l.account = next
	l.lastHash = entry.Hash

	observeBalances(next)
	return nil
}
