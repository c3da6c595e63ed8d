package wallet

import (
	"context"
	"time"

	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/money"
	"bizops-incentives/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	accounts repository.Repository[WalletAccount]
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		accounts: repository.ProvideStore[WalletAccount](p.DB),
		now:      time.Now,
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&WalletAccount{})
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// Get returns the user's wallet, or an empty one when nothing was credited yet.
func (s *Service) Get(ctx context.Context, userID string) (*WalletAccount, error) {
	acc, err := s.accounts.FindOne(ctx, &WalletAccount{UserID: userID})
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return &WalletAccount{
			UserID:         userID,
			TokenBalance:   decimal.Zero,
			CashBalance:    decimal.Zero,
			TotalEarned:    decimal.Zero,
			TotalRedeemed:  decimal.Zero,
			TotalCashedOut: decimal.Zero,
		}, nil
	}
	return acc, nil
}

// Credit adds earned tokens, creating the wallet on first use.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	amount = money.Tokens(amount)
	if !amount.IsPositive() {
		return errutil.BadRequest("credit amount must be positive", nil)
	}

	db := s.conn(tx).WithContext(ctx)
	seed := &WalletAccount{ID: s.node.Generate(), UserID: userID}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(seed).Error; err != nil {
		return err
	}

	return db.Model(&WalletAccount{}).Where("user_id = ?", userID).Updates(map[string]any{
		"token_balance": gorm.Expr("token_balance + ?", amount),
		"total_earned":  gorm.Expr("total_earned + ?", amount),
		"updated_at":    s.now().UTC(),
	}).Error
}

// Debit removes tokens with a single conditional update, so a balance can
// never go below zero regardless of concurrent debits.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal, counter Counter) error {
	amount = money.Tokens(amount)
	if !amount.IsPositive() {
		return errutil.BadRequest("debit amount must be positive", nil)
	}

	updates := map[string]any{
		"token_balance": gorm.Expr("token_balance - ?", amount),
		"updated_at":    s.now().UTC(),
	}
	if counter != CounterNone {
		updates[string(counter)] = gorm.Expr(string(counter)+" + ?", amount)
	}

	return s.conditional(ctx, tx, userID, amount, updates)
}

// Reverse takes back a credit: balance and lifetime earnings both drop.
func (s *Service) Reverse(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	amount = money.Tokens(amount)
	if !amount.IsPositive() {
		return errutil.BadRequest("reversal amount must be positive", nil)
	}

	return s.conditional(ctx, tx, userID, amount, map[string]any{
		"token_balance": gorm.Expr("token_balance - ?", amount),
		"total_earned":  gorm.Expr("total_earned - ?", amount),
		"updated_at":    s.now().UTC(),
	})
}

func (s *Service) conditional(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal, updates map[string]any) error {
	res := s.conn(tx).WithContext(ctx).Model(&WalletAccount{}).
		Where("user_id = ? AND token_balance >= ?", userID, amount).
		Updates(updates)
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to debit wallet", zap.String("user_id", userID), zap.Error(res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.UnprocessableEntity("insufficient token balance", ErrInsufficientBalance,
			errutil.WithDetail("amount", money.TokenString(amount)))
	}
	return nil
}

// Restore returns debited tokens, e.g. for a failed cashout.
func (s *Service) Restore(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	amount = money.Tokens(amount)
	if !amount.IsPositive() {
		return errutil.BadRequest("restore amount must be positive", nil)
	}

	res := s.conn(tx).WithContext(ctx).Model(&WalletAccount{}).Where("user_id = ?", userID).Updates(map[string]any{
		"token_balance": gorm.Expr("token_balance + ?", amount),
		"updated_at":    s.now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("wallet not found", nil)
	}
	return nil
}

// RecordCashout books tokens that left the platform through a completed cashout.
func (s *Service) RecordCashout(ctx context.Context, tx *gorm.DB, userID string, amount decimal.Decimal) error {
	res := s.conn(tx).WithContext(ctx).Model(&WalletAccount{}).Where("user_id = ?", userID).Updates(map[string]any{
		"total_cashed_out": gorm.Expr("total_cashed_out + ?", money.Tokens(amount)),
		"updated_at":       s.now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("wallet not found", nil)
	}
	return nil
}
