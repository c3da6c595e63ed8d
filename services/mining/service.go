package mining

import (
	"context"
	"fmt"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/db/option"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/featureflags"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/money"
	"bizops-incentives/pkg/repository"
	"bizops-incentives/services/rewards"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const FeatureMining = "mining"

var claimedTokens = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mining_claimed_tokens_total",
	Help: "Tokens credited by mining claims.",
})

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	rates    Rates
	speed    decimal.Decimal
	rewards  *rewards.Service
	flags    featureflags.FeatureFlag
	sessions repository.Repository[MiningSession]
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Rewards *rewards.Service
	Flags   featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	speed := decimal.NewFromFloat(p.Config.Mining.DefaultSpeed)
	if !speed.IsPositive() {
		speed = decimal.NewFromInt(1)
	}

	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		rates:    RatesFrom(p.Config.Mining),
		speed:    money.Tokens(speed),
		rewards:  p.Rewards,
		flags:    flags,
		sessions: repository.ProvideStore[MiningSession](p.DB),
		now:      time.Now,
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&MiningSession{})
}

func (s *Service) find(ctx context.Context, tx *gorm.DB, userID string, opts ...option.QueryOption) (*MiningSession, error) {
	return s.sessions.WithTrx(tx).FindOne(ctx, &MiningSession{UserID: userID}, opts...)
}

// Start creates the user's session or reactivates a stopped one. Starting an
// active session returns it unchanged.
func (s *Service) Start(ctx context.Context, userID string) (*MiningSession, error) {
	if !s.flags.Enabled(ctx, FeatureMining, userID, true) {
		return nil, errutil.Forbidden("mining is not available", nil)
	}

	sess, err := s.find(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if sess == nil {
		sess = &MiningSession{
			ID:          s.node.Generate(),
			UserID:      userID,
			StartedAt:   now,
			NextClaimAt: now.Add(s.rates.Cycle),
			MiningSpeed: s.speed,
			TotalMined:  decimal.Zero,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.sessions.Create(ctx, sess); err != nil {
			if db.IsUniqueViolation(err) {
				return s.find(ctx, s.db, userID)
			}
			return nil, err
		}

		logger.FromContext(ctx).Info("mining session started", zap.String("user_id", userID))
		return sess, nil
	}

	if sess.IsActive {
		return sess, nil
	}

	err = s.guarded(ctx, s.db, sess, map[string]any{
		"is_active":     true,
		"started_at":    now,
		"next_claim_at": now.Add(s.rates.Cycle),
	})
	if err != nil {
		return nil, err
	}
	sess.IsActive, sess.StartedAt, sess.NextClaimAt = true, now, now.Add(s.rates.Cycle)
	return sess, nil
}

// Stop pauses accrual. Anything accrued and not yet claimed is forfeited.
func (s *Service) Stop(ctx context.Context, userID string) (*MiningSession, error) {
	sess, err := s.find(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errutil.NotFound("mining session not found", nil)
	}
	if !sess.IsActive {
		return sess, nil
	}

	if err := s.guarded(ctx, s.db, sess, map[string]any{"is_active": false}); err != nil {
		return nil, err
	}
	sess.IsActive = false
	return sess, nil
}

// guarded writes updates only if the session still has the version that was
// read, and bumps it.
func (s *Service) guarded(ctx context.Context, tx *gorm.DB, sess *MiningSession, updates map[string]any) error {
	updates["version"] = sess.Version + 1
	updates["updated_at"] = s.now().UTC()

	res := tx.WithContext(ctx).Model(&MiningSession{}).
		Where("id = ? AND version = ?", sess.ID, sess.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("mining session changed concurrently, retry", nil)
	}
	sess.Version++
	return nil
}

type ClaimResult struct {
	Session  *MiningSession  `json:"session"`
	Reward   *rewards.Reward `json:"reward"`
	Credited decimal.Decimal `json:"credited"`
	Elapsed  int64           `json:"elapsed_seconds"`
}

// Claim credits what the session accrued since its anchor, measured on the
// server clock. The reward, the treasury distribution, the wallet credit and
// the session update commit together.
func (s *Service) Claim(ctx context.Context, userID string) (*ClaimResult, error) {
	out := &ClaimResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess, err := s.find(ctx, tx, userID, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if sess == nil {
			return errutil.NotFound("mining session not found", nil)
		}
		if !sess.IsActive {
			return errutil.UnprocessableEntity("mining session is not active", nil)
		}

		now := s.now().UTC()
		elapsed := now.Sub(sess.anchor())
		credited := Accrue(elapsed, sess.MiningSpeed, sess.Streak, s.rates)
		if !credited.IsPositive() {
			return errutil.UnprocessableEntity("nothing to claim yet", nil)
		}

		reward, err := s.rewards.Issue(ctx, tx, rewards.IssueParams{
			UserID:      userID,
			Type:        rewards.RewardMiningClaim,
			Amount:      credited,
			ReferenceID: fmt.Sprintf("%d:%d", sess.ID, now.UnixMicro()),
			Description: "mining claim",
		})
		if err != nil {
			return err
		}

		streak := NextStreak(sess.Streak, sess.LastClaimTime, now, s.rates)
		total := money.Tokens(sess.TotalMined.Add(credited))
		next := now.Add(s.rates.Cycle)
		if err := s.guarded(ctx, tx, sess, map[string]any{
			"last_claim_time": now,
			"next_claim_at":   next,
			"streak":          streak,
			"total_mined":     total,
		}); err != nil {
			return err
		}

		sess.LastClaimTime = &now
		sess.NextClaimAt = next
		sess.Streak = streak
		sess.TotalMined = total

		out.Session, out.Reward, out.Credited = sess, reward, credited
		out.Elapsed = int64(elapsed.Seconds())
		return nil
	})
	if err != nil {
		return nil, err
	}

	f, _ := out.Credited.Float64()
	claimedTokens.Add(f)
	logger.FromContext(ctx).Info("mining claim",
		zap.String("user_id", userID),
		zap.String("credited", out.Credited.String()),
		zap.Int("streak", out.Session.Streak),
	)
	return out, nil
}

type StatusView struct {
	Session    *MiningSession `json:"session"`
	Projection Projection     `json:"projection"`
}

func (s *Service) Status(ctx context.Context, userID string) (*StatusView, error) {
	sess, err := s.find(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errutil.NotFound("mining session not found", nil)
	}
	return &StatusView{Session: sess, Projection: Project(*sess, s.now().UTC(), s.rates)}, nil
}

// SetSpeed changes a user's multiplier. Time already elapsed is credited at
// the new speed on the next claim.
func (s *Service) SetSpeed(ctx context.Context, userID string, speed decimal.Decimal) (*MiningSession, error) {
	speed = money.Tokens(speed)
	if !speed.IsPositive() {
		return nil, errutil.BadRequest("mining speed must be positive", nil)
	}

	sess, err := s.find(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errutil.NotFound("mining session not found", nil)
	}

	if err := s.guarded(ctx, s.db, sess, map[string]any{"mining_speed": speed}); err != nil {
		return nil, err
	}
	sess.MiningSpeed = speed
	return sess, nil
}
