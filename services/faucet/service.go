package faucet

import (
	"context"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/db/option"
	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/featureflags"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/money"
	"bizops-incentives/pkg/repository"
	"bizops-incentives/services/advertising"
	"bizops-incentives/services/risk"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultInterval = time.Hour

var claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "faucet_claims_total",
	Help: "Faucet claims by currency and outcome.",
}, []string{"currency", "outcome"})

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	cfg    config.Faucet
	risk   *risk.Service
	ads    *advertising.Service
	flags  featureflags.FeatureFlag
	claims repository.Repository[FaucetClaim]
	now    func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Risk   *risk.Service
	Ads    *advertising.Service
	Flags  featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}

	return &Service{
		db:     p.DB,
		node:   p.Node,
		cfg:    p.Config.Faucet,
		risk:   p.Risk,
		ads:    p.Ads,
		flags:  flags,
		claims: repository.ProvideStore[FaucetClaim](p.DB),
		now:    time.Now,
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&FaucetClaim{})
}

// currency resolves the payout settings, refusing currencies that are
// unknown, disabled in config or switched off by flag.
func (s *Service) currency(ctx context.Context, code, userID string) (Currency, config.FaucetCurrency, error) {
	cur, ok := ParseCurrency(code)
	if !ok {
		return "", config.FaucetCurrency{}, errutil.BadRequest("unsupported currency", nil, errutil.WithDetail("currency", code))
	}

	settings, ok := s.cfg.Currency(string(cur))
	if !ok || !settings.Enabled || !s.flags.Enabled(ctx, cur.feature(), userID, true) {
		return "", config.FaucetCurrency{}, errutil.Forbidden("faucet is not available for this currency", nil, errutil.WithDetail("currency", string(cur)))
	}
	if settings.Interval <= 0 {
		settings.Interval = defaultInterval
	}
	return cur, settings, nil
}

func (s *Service) lastClaim(ctx context.Context, userID string, cur Currency) (*FaucetClaim, error) {
	return s.claims.FindOne(ctx, &FaucetClaim{UserID: userID, Currency: cur},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc"}),
	)
}

type ClaimParams struct {
	UserID            string
	Currency          string
	WalletAddress     string
	DeviceFingerprint string
	IPAddress         string
	AdCompletionID    snowflake.ID
}

// Claim records a pending payout. Cooldown is checked against the last claim
// and enforced by the claim window index; with ad gating on, a verified
// completion is spent in the same transaction.
func (s *Service) Claim(ctx context.Context, p ClaimParams) (*FaucetClaim, error) {
	cur, settings, err := s.currency(ctx, p.Currency, p.UserID)
	if err != nil {
		return nil, err
	}
	if p.WalletAddress == "" {
		return nil, errutil.BadRequest("wallet address is required", nil)
	}
	if s.cfg.RequireVerifiedAd && p.AdCompletionID == 0 {
		return nil, errutil.Forbidden("a verified ad completion is required", advertising.ErrNotEligible)
	}

	now := s.now().UTC()
	last, err := s.lastClaim(ctx, p.UserID, cur)
	if err != nil {
		return nil, err
	}
	if last != nil && now.Before(last.NextClaimAt) {
		claimsTotal.WithLabelValues(string(cur), "cooldown").Inc()
		return nil, errutil.TooManyRequest("faucet cooldown has not elapsed", nil,
			errutil.RetryAt(last.NextClaimAt))
	}

	assessment, err := s.risk.Guard(ctx, nil, risk.Signals{
		UserID:            p.UserID,
		Action:            "faucet_claim",
		DeviceFingerprint: p.DeviceFingerprint,
		IPAddress:         p.IPAddress,
	})
	if err != nil {
		claimsTotal.WithLabelValues(string(cur), "blocked").Inc()
		return nil, err
	}

	claim := &FaucetClaim{
		ID:                s.node.Generate(),
		UserID:            p.UserID,
		Currency:          cur,
		ClaimWindow:       ClaimWindow(now, settings.Interval),
		Amount:            money.Tokens(decimal.NewFromFloat(settings.Amount)),
		Status:            ClaimPending,
		WalletAddress:     p.WalletAddress,
		NextClaimAt:       now.Add(settings.Interval),
		RiskScore:         assessment.Score,
		DeviceFingerprint: p.DeviceFingerprint,
		IPAddress:         p.IPAddress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.cfg.RequireVerifiedAd {
			if err := s.ads.Consume(ctx, tx, p.AdCompletionID, p.UserID, "faucet:"+claim.ID.String()); err != nil {
				return err
			}
			claim.AdCompletionID = p.AdCompletionID
		}

		if err := s.claims.WithTrx(tx).Create(ctx, claim); err != nil {
			if db.IsUniqueViolation(err) {
				return errutil.TooManyRequest("faucet already claimed in this window", err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	claimsTotal.WithLabelValues(string(cur), "accepted").Inc()
	logger.FromContext(ctx).Info("faucet claim",
		zap.String("user_id", p.UserID),
		zap.String("currency", string(cur)),
		zap.String("amount", claim.Amount.String()),
		zap.Int("risk_score", claim.RiskScore),
	)
	return claim, nil
}

func (s *Service) settle(ctx context.Context, id snowflake.ID, to ClaimStatus, updates map[string]any) (*FaucetClaim, error) {
	updates["status"] = to
	updates["updated_at"] = s.now().UTC()

	res := s.db.WithContext(ctx).Model(&FaucetClaim{}).
		Where("id = ? AND status = ?", id, ClaimPending).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}

	claim, err := s.claims.FindOne(ctx, nil, option.WithID(id))
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, errutil.NotFound("faucet claim not found", nil)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("only pending claims can be settled", nil, errutil.WithDetail("status", string(claim.Status)))
	}
	return claim, nil
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, txHash string) (*FaucetClaim, error) {
	if txHash == "" {
		return nil, errutil.BadRequest("transaction hash is required", nil)
	}
	claim, err := s.settle(ctx, id, ClaimPaid, map[string]any{"tx_hash": txHash, "paid_at": s.now().UTC()})
	if err == nil {
		claimsTotal.WithLabelValues(string(claim.Currency), "paid").Inc()
	}
	return claim, err
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, reason string) (*FaucetClaim, error) {
	if reason == "" {
		return nil, errutil.BadRequest("failure reason is required", nil)
	}
	claim, err := s.settle(ctx, id, ClaimFailed, map[string]any{"failure_reason": reason})
	if err == nil {
		claimsTotal.WithLabelValues(string(claim.Currency), "failed").Inc()
	}
	return claim, err
}

type ListFilter struct {
	pagination.Pagination
	UserID   string      `form:"user_id"`
	Currency Currency    `form:"currency"`
	Status   ClaimStatus `form:"status"`
}

func (s *Service) ListClaims(ctx context.Context, f ListFilter) (*pagination.Page[FaucetClaim], error) {
	p := f.Pagination.Normalize()
	opts, err := p.Options()
	if err != nil {
		return nil, errutil.BadRequest("invalid cursor", err)
	}

	rows, err := s.claims.Find(ctx, &FaucetClaim{UserID: f.UserID, Currency: f.Currency, Status: f.Status}, opts...)
	if err != nil {
		return nil, err
	}
	return pagination.BuildPage(rows, p.Limit, func(c *FaucetClaim) int64 { return c.ID.Int64() }), nil
}

type CurrencyStatus struct {
	Currency        Currency        `json:"currency"`
	Enabled         bool            `json:"enabled"`
	Amount          decimal.Decimal `json:"amount"`
	IntervalSeconds int64           `json:"interval_seconds"`
	Available       bool            `json:"available"`
	NextClaimAt     *time.Time      `json:"next_claim_at,omitempty"`
}

// Status reports, per currency, whether userID can claim now.
func (s *Service) Status(ctx context.Context, userID string) ([]CurrencyStatus, error) {
	now := s.now().UTC()
	out := make([]CurrencyStatus, 0, len(Currencies))

	for _, cur := range Currencies {
		st := CurrencyStatus{Currency: cur}
		_, settings, err := s.currency(ctx, string(cur), userID)
		if err != nil {
			out = append(out, st)
			continue
		}
		st.Enabled = true
		st.Amount = money.Tokens(decimal.NewFromFloat(settings.Amount))
		st.IntervalSeconds = int64(settings.Interval / time.Second)
		st.Available = true

		last, err := s.lastClaim(ctx, userID, cur)
		if err != nil {
			return nil, err
		}
		if last != nil && now.Before(last.NextClaimAt) {
			next := last.NextClaimAt.UTC()
			st.Available = false
			st.NextClaimAt = &next
		}
		out = append(out, st)
	}
	return out, nil
}
