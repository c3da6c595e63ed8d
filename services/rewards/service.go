package rewards

import (
	"context"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/db/option"
	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/money"
	"bizops-incentives/pkg/repository"
	"bizops-incentives/services/pricing"
	"bizops-incentives/services/risk"
	"bizops-incentives/services/treasury"
	"bizops-incentives/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var rewardsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rewards_issued_total",
	Help: "Rewards created by type and initial status.",
}, []string{"type", "status"})

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  config.Config

	treasury *treasury.Service
	wallet   *wallet.Service
	risk     *risk.Service
	quoter   pricing.Quoter

	rewards  repository.Repository[Reward]
	checkins repository.Repository[DailyCheckin]

	loc *time.Location
	now func() time.Time
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Treasury *treasury.Service
	Wallet   *wallet.Service
	Risk     *risk.Service
	Quoter   pricing.Quoter
}

func NewService(p ServiceParams) (*Service, error) {
	loc := time.UTC
	if tz := p.Config.Checkin.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			zap.L().Error("invalid check-in timezone", zap.String("timezone", tz), zap.Error(err))
			return nil, err
		}
		loc = l
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      *p.Config,
		treasury: p.Treasury,
		wallet:   p.Wallet,
		risk:     p.Risk,
		quoter:   p.Quoter,
		rewards:  repository.ProvideStore[Reward](p.DB),
		checkins: repository.ProvideStore[DailyCheckin](p.DB),
		loc:      loc,
		now:      time.Now,
	}, nil
}

// Migrate also adds the one-signup-bonus-per-user partial index, which gorm
// tags cannot express. MySQL has no partial indexes and relies on the
// (reward_type, reference_id) key alone.
func Migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&Reward{}, &DailyCheckin{}); err != nil {
		return err
	}
	if tx.Dialector.Name() == "mysql" {
		return nil
	}
	return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_rewards_signup_once ON rewards (user_id) WHERE reward_type = 'signup_bonus'`).Error
}

type IssueParams struct {
	UserID      string
	Type        RewardType
	Amount      decimal.Decimal
	ReferenceID string
	Description string
	// Pending rewards are recorded without moving tokens until confirmed.
	Pending bool
}

// Issue records a reward inside tx. Confirmed rewards are paid from the
// treasury reserve and credited to the wallet in the same transaction, so a
// reward row never exists without its distribution.
func (s *Service) Issue(ctx context.Context, tx *gorm.DB, p IssueParams) (*Reward, error) {
	amount := money.Tokens(p.Amount)
	if !amount.IsPositive() {
		return nil, errutil.BadRequest("reward amount must be positive", nil)
	}
	if p.UserID == "" || p.ReferenceID == "" {
		return nil, errutil.BadRequest("reward needs a user and a reference", nil)
	}

	q, err := s.quoter.Quote(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := &Reward{
		ID:          s.node.Generate(),
		UserID:      p.UserID,
		RewardType:  p.Type,
		ReferenceID: p.ReferenceID,
		Amount:      amount,
		CashValue:   money.CashValue(amount, q.Price),
		Status:      StatusPending,
		Description: p.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if !p.Pending {
		if err := s.settle(ctx, tx, r); err != nil {
			return nil, err
		}
	}

	if err := s.rewards.WithTrx(tx).Create(ctx, r); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errutil.Conflict("reward already granted", err,
				errutil.WithDetail("reference_id", p.ReferenceID))
		}
		return nil, err
	}

	rewardsIssued.WithLabelValues(string(r.RewardType), string(r.Status)).Inc()
	return r, nil
}

// settle distributes r from the treasury and credits the wallet.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, r *Reward) error {
	ledger, err := s.treasury.Attach(ctx, tx)
	if err != nil {
		return err
	}

	entry, err := ledger.Distribute(ctx, treasury.DistributeParams{
		TokenAmount:       r.Amount,
		CashValue:         r.CashValue,
		RelatedEntityType: "reward",
		RelatedEntityID:   r.ID.String(),
		Description:       string(r.RewardType),
	})
	if err != nil {
		return err
	}

	if err := s.wallet.Credit(ctx, tx, r.UserID, r.Amount); err != nil {
		return err
	}

	now := s.now().UTC()
	r.Status = StatusConfirmed
	r.ReserveTxID = entry.ID
	r.ConfirmedAt = &now
	return nil
}

// transition moves a reward between statuses with a conditional update.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, r *Reward, to Status, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	updates["updated_at"] = s.now().UTC()

	res := tx.WithContext(ctx).Model(&Reward{}).
		Where("id = ? AND status = ?", r.ID, r.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("reward status changed concurrently", nil)
	}
	r.Status = to
	return nil
}

func (s *Service) lockReward(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Reward, error) {
	r, err := s.rewards.WithTrx(tx).FindOne(ctx, nil, option.WithID(id), option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errutil.NotFound("reward not found", nil)
	}
	return r, nil
}

func (s *Service) GrantSignupBonus(ctx context.Context, userID string) (*Reward, error) {
	var out *Reward
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.Issue(ctx, tx, IssueParams{
			UserID:      userID,
			Type:        RewardSignupBonus,
			Amount:      money.TokensFloat(s.cfg.Rewards.SignupBonus),
			ReferenceID: userID,
			Description: "signup bonus",
		})
		return err
	})
	return out, err
}

// GrantReferral records a pending reward for referrerID, unique per referee.
// It pays out once ConfirmReward runs.
func (s *Service) GrantReferral(ctx context.Context, referrerID, refereeID string) (*Reward, error) {
	if referrerID == refereeID {
		return nil, errutil.BadRequest("users cannot refer themselves", nil)
	}

	return s.Issue(ctx, s.db, IssueParams{
		UserID:      referrerID,
		Type:        RewardReferral,
		Amount:      money.TokensFloat(s.cfg.Rewards.ReferralBonus),
		ReferenceID: refereeID,
		Description: "referral of " + refereeID,
		Pending:     true,
	})
}

func (s *Service) GrantJobCompletion(ctx context.Context, userID, jobID string, amount decimal.Decimal) (*Reward, error) {
	var out *Reward
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.Issue(ctx, tx, IssueParams{
			UserID:      userID,
			Type:        RewardJobCompletion,
			Amount:      amount,
			ReferenceID: jobID,
			Description: "job " + jobID,
		})
		return err
	})
	return out, err
}

func (s *Service) ConfirmReward(ctx context.Context, id snowflake.ID) (*Reward, error) {
	var out *Reward
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.lockReward(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return errutil.Conflict("only pending rewards can be confirmed", nil, errutil.WithDetail("status", string(r.Status)))
		}

		from := *r
		if err := s.settle(ctx, tx, r); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, &from, StatusConfirmed, map[string]any{
			"reserve_tx_id": r.ReserveTxID,
			"confirmed_at":  r.ConfirmedAt,
		}); err != nil {
			return err
		}

		out = r
		return nil
	})
	return out, err
}

// RedeemReward spends a confirmed reward's tokens from the owner's wallet.
func (s *Service) RedeemReward(ctx context.Context, id snowflake.ID, userID string) (*Reward, error) {
	var out *Reward
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.lockReward(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.UserID != userID {
			return errutil.NotFound("reward not found", nil)
		}
		if r.Status != StatusConfirmed {
			return errutil.Conflict("only confirmed rewards can be redeemed", nil, errutil.WithDetail("status", string(r.Status)))
		}

		if err := s.wallet.Debit(ctx, tx, userID, r.Amount, wallet.CounterRedeemed); err != nil {
			return err
		}

		now := s.now().UTC()
		if err := s.transition(ctx, tx, r, StatusRedeemed, map[string]any{"redeemed_at": now}); err != nil {
			return err
		}
		r.RedeemedAt = &now

		out = r
		return nil
	})
	return out, err
}

// ReverseReward claws back a confirmed reward: tokens leave the wallet and
// return to the treasury reserve.
func (s *Service) ReverseReward(ctx context.Context, id snowflake.ID, reason string) (*Reward, error) {
	if reason == "" {
		return nil, errutil.BadRequest("reversal reason is required", nil)
	}

	var out *Reward
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.lockReward(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusConfirmed {
			return errutil.Conflict("only confirmed rewards can be reversed", nil, errutil.WithDetail("status", string(r.Status)))
		}

		if err := s.wallet.Reverse(ctx, tx, r.UserID, r.Amount); err != nil {
			return err
		}

		ledger, err := s.treasury.Attach(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := ledger.Refund(ctx, treasury.DistributeParams{
			TokenAmount:       r.Amount,
			CashValue:         r.CashValue,
			RelatedEntityType: "reward",
			RelatedEntityID:   r.ID.String(),
			Description:       "reversal: " + reason,
		}); err != nil {
			return err
		}

		now := s.now().UTC()
		if err := s.transition(ctx, tx, r, StatusReversed, map[string]any{"reversed_at": now}); err != nil {
			return err
		}
		r.ReversedAt = &now

		out = r
		return nil
	})
	if err == nil {
		logger.FromContext(ctx).Warn("reward reversed", zap.Int64("reward_id", id.Int64()), zap.String("reason", reason))
	}
	return out, err
}

type ListFilter struct {
	pagination.Pagination
	RewardType RewardType `form:"reward_type"`
	Status     Status     `form:"status"`
}

func (s *Service) ListRewards(ctx context.Context, userID string, f ListFilter) (*pagination.Page[Reward], error) {
	p := f.Pagination.Normalize()
	opts, err := p.Options()
	if err != nil {
		return nil, errutil.BadRequest("invalid cursor", err)
	}

	rows, err := s.rewards.Find(ctx, &Reward{UserID: userID, RewardType: f.RewardType, Status: f.Status}, opts...)
	if err != nil {
		return nil, err
	}
	return pagination.BuildPage(rows, p.Limit, func(r *Reward) int64 { return r.ID.Int64() }), nil
}
