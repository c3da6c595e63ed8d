package rewards

import (
	"context"

	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/money"
	"bizops-incentives/services/risk"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type CheckInParams struct {
	UserID            string
	DeviceFingerprint string
	IPAddress         string
}

type CheckInResult struct {
	Checkin *DailyCheckin `json:"checkin"`
	Reward  *Reward       `json:"reward"`
}

type CheckinStatus struct {
	CheckedInToday bool            `json:"checked_in_today"`
	Streak         int             `json:"streak"`
	NextReward     decimal.Decimal `json:"next_reward"`
	Today          string          `json:"today"`
}

// CheckinReward is base + min(streak-1, maxDays)*bonus.
func CheckinReward(streak int, base, bonus float64, maxDays int) decimal.Decimal {
	extra := streak - 1
	if extra < 0 {
		extra = 0
	}
	if extra > maxDays {
		extra = maxDays
	}
	return money.Tokens(decimal.NewFromFloat(base).Add(decimal.NewFromFloat(bonus).Mul(decimal.NewFromInt(int64(extra)))))
}

func (s *Service) days() (today, yesterday string) {
	now := s.now().In(s.loc)
	return now.Format(dateLayout), now.AddDate(0, 0, -1).Format(dateLayout)
}

func (s *Service) findCheckin(ctx context.Context, tx *gorm.DB, userID, date string) (*DailyCheckin, error) {
	return s.checkins.WithTrx(tx).FindOne(ctx, &DailyCheckin{UserID: userID, CheckinDate: date})
}

// CheckIn records today's check-in and pays its reward. The risk assessment
// runs before the transaction so a block is logged even though nothing is
// written for the check-in itself.
func (s *Service) CheckIn(ctx context.Context, p CheckInParams) (*CheckInResult, error) {
	if p.UserID == "" {
		return nil, errutil.Unauthorized("user required", nil)
	}

	today, yesterday := s.days()
	existing, err := s.findCheckin(ctx, s.db, p.UserID, today)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("already checked in today", nil, errutil.WithDetail("checkin_date", today))
	}

	assessment, err := s.risk.Guard(ctx, nil, risk.Signals{
		UserID:            p.UserID,
		Action:            string(RewardDailyCheckin),
		DeviceFingerprint: p.DeviceFingerprint,
		IPAddress:         p.IPAddress,
	})
	if err != nil {
		return nil, err
	}

	out := &CheckInResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev, err := s.findCheckin(ctx, tx, p.UserID, yesterday)
		if err != nil {
			return err
		}
		streak := 1
		if prev != nil {
			streak = prev.Streak + 1
		}

		checkin := &DailyCheckin{
			ID:                s.node.Generate(),
			UserID:            p.UserID,
			CheckinDate:       today,
			Streak:            streak,
			RewardAmount:      CheckinReward(streak, s.cfg.Checkin.BaseReward, s.cfg.Checkin.StreakBonus, s.cfg.Checkin.MaxBonusDays),
			RiskScore:         assessment.Score,
			DeviceFingerprint: p.DeviceFingerprint,
			IPAddress:         p.IPAddress,
			CreatedAt:         s.now().UTC(),
		}
		if err := s.checkins.WithTrx(tx).Create(ctx, checkin); err != nil {
			if db.IsUniqueViolation(err) {
				return errutil.Conflict("already checked in today", err, errutil.WithDetail("checkin_date", today))
			}
			return err
		}

		reward, err := s.Issue(ctx, tx, IssueParams{
			UserID:      p.UserID,
			Type:        RewardDailyCheckin,
			Amount:      checkin.RewardAmount,
			ReferenceID: checkin.ID.String(),
			Description: "daily check-in " + today,
		})
		if err != nil {
			return err
		}

		out.Checkin, out.Reward = checkin, reward
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("daily check-in",
		zap.String("user_id", p.UserID),
		zap.Int("streak", out.Checkin.Streak),
		zap.String("amount", out.Checkin.RewardAmount.String()),
	)
	return out, nil
}

func (s *Service) CheckinStatus(ctx context.Context, userID string) (*CheckinStatus, error) {
	today, yesterday := s.days()

	cur, err := s.findCheckin(ctx, s.db, userID, today)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		return &CheckinStatus{
			CheckedInToday: true,
			Streak:         cur.Streak,
			NextReward:     CheckinReward(cur.Streak+1, s.cfg.Checkin.BaseReward, s.cfg.Checkin.StreakBonus, s.cfg.Checkin.MaxBonusDays),
			Today:          today,
		}, nil
	}

	prev, err := s.findCheckin(ctx, s.db, userID, yesterday)
	if err != nil {
		return nil, err
	}
	streak := 0
	if prev != nil {
		streak = prev.Streak
	}
	return &CheckinStatus{
		Streak:     streak,
		NextReward: CheckinReward(streak+1, s.cfg.Checkin.BaseReward, s.cfg.Checkin.StreakBonus, s.cfg.Checkin.MaxBonusDays),
		Today:      today,
	}, nil
}

