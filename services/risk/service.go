package risk

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"bizops-incentives/pkg/celengine"
	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

var assessments = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "risk_assessments_total",
	Help: "Risk assessments by user action and outcome.",
}, []string{"action", "outcome"})

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	engine *celengine.Engine
	rules  []config.RiskRule

	flagAt  int
	blockAt int

	logs repository.Repository[FraudLog]
	now  func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) (*Service, error) {
	engine, err := newEngine()
	if err != nil {
		return nil, err
	}

	rules, err := compileRules(engine, p.Config.Risk.Rules)
	if err != nil {
		zap.L().Error("invalid risk rules", zap.Error(err))
		return nil, err
	}

	flagAt, blockAt := p.Config.Risk.FlagThreshold, p.Config.Risk.BlockThreshold
	if flagAt <= 0 {
		flagAt = 40
	}
	if blockAt <= 0 {
		blockAt = 80
	}

	return &Service{
		db:      p.DB,
		node:    p.Node,
		engine:  engine,
		rules:   rules,
		flagAt:  flagAt,
		blockAt: blockAt,
		logs:    repository.ProvideStore[FraudLog](p.DB),
		now:     time.Now,
	}, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&FraudLog{}, &Observation{})
}

func digest(v string) string {
	if v == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// Assess scores one user action and records it. Pass a nil tx to write
// through the service's own connection; callers that reject blocked actions
// assess before opening their transaction so the fraud log survives the
// rejection.
func (s *Service) Assess(ctx context.Context, tx *gorm.DB, sig Signals) (*Assessment, error) {
	if tx == nil {
		tx = s.db
	}
	db := tx.WithContext(ctx)
	now := s.now().UTC()
	deviceHash, ipHash := digest(sig.DeviceFingerprint), digest(sig.IPAddress)

	facts := map[string]any{
		"action":       sig.Action,
		"has_device":   deviceHash != "",
		"device_users": int64(0),
		"ip_users":     int64(0),
		"actions_24h":  int64(0),
	}

	if deviceHash != "" {
		n, err := s.otherUsers(db, "device_hash", deviceHash, sig.UserID)
		if err != nil {
			return nil, err
		}
		facts["device_users"] = n
	}
	if ipHash != "" {
		n, err := s.otherUsers(db, "ip_hash", ipHash, sig.UserID)
		if err != nil {
			return nil, err
		}
		facts["ip_users"] = n
	}

	var recent int64
	if err := db.Model(&Observation{}).
		Where("user_id = ? AND created_at >= ?", sig.UserID, now.Add(-24*time.Hour)).
		Count(&recent).Error; err != nil {
		return nil, err
	}
	facts["actions_24h"] = recent

	out := &Assessment{}
	for _, r := range s.rules {
		hit, err := s.engine.Evaluate(r.Expr, facts)
		if err != nil {
			logger.FromContext(ctx).Warn("risk rule failed", zap.String("rule", r.Name), zap.Error(err))
			continue
		}
		if hit {
			out.Score += r.Score
			out.Reasons = append(out.Reasons, r.Reason)
		}
	}
	out.Score = clamp(out.Score)
	out.Action = Classify(out.Score, s.flagAt, s.blockAt)

	if err := db.Create(&Observation{
		ID:         s.node.Generate(),
		UserID:     sig.UserID,
		Action:     sig.Action,
		DeviceHash: deviceHash,
		IPHash:     ipHash,
		CreatedAt:  now,
	}).Error; err != nil {
		return nil, err
	}

	if out.Action != ActionAllow {
		reasons, _ := json.Marshal(out.Reasons)
		if err := db.Create(&FraudLog{
			ID:                s.node.Generate(),
			UserID:            sig.UserID,
			Action:            sig.Action,
			RiskScore:         out.Score,
			ActionTaken:       out.Action,
			Reasons:           reasons,
			IPAddress:         sig.IPAddress,
			DeviceFingerprint: sig.DeviceFingerprint,
			CreatedAt:         now,
		}).Error; err != nil {
			return nil, err
		}

		logger.FromContext(ctx).Warn("risky action",
			zap.String("user_id", sig.UserID),
			zap.String("action", sig.Action),
			zap.Int("score", out.Score),
			zap.String("action_taken", string(out.Action)),
			zap.Strings("reasons", out.Reasons),
		)
	}

	assessments.WithLabelValues(sig.Action, string(out.Action)).Inc()
	return out, nil
}

func (s *Service) otherUsers(db *gorm.DB, column, hash, userID string) (int64, error) {
	var n int64
	err := db.Model(&Observation{}).
		Where(column+" = ? AND user_id <> ?", hash, userID).
		Distinct("user_id").
		Count(&n).Error
	return n, err
}

// Guard is Assess for callers that refuse blocked actions.
func (s *Service) Guard(ctx context.Context, tx *gorm.DB, sig Signals) (*Assessment, error) {
	a, err := s.Assess(ctx, tx, sig)
	if err != nil {
		return nil, err
	}
	if a.Blocked() {
		return a, errutil.Forbidden("action blocked by risk checks", nil, errutil.WithDetail("risk_score", strconv.Itoa(a.Score)))
	}
	return a, nil
}

type LogFilter struct {
	pagination.Pagination
	UserID      string      `form:"user_id"`
	ActionTaken ActionTaken `form:"action_taken"`
}

func (s *Service) ListLogs(ctx context.Context, f LogFilter) (*pagination.Page[FraudLog], error) {
	p := f.Pagination.Normalize()
	opts, err := p.Options()
	if err != nil {
		return nil, errutil.BadRequest("invalid cursor", err)
	}

	rows, err := s.logs.Find(ctx, &FraudLog{UserID: f.UserID, ActionTaken: f.ActionTaken}, opts...)
	if err != nil {
		return nil, err
	}
	return pagination.BuildPage(rows, p.Limit, func(l *FraudLog) int64 { return l.ID.Int64() }), nil
}
