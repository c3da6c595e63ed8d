package advertising

import (
	"context"
	"errors"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/repository"
	"bizops-incentives/pkg/webhook"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var adEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ad_events_total",
	Help: "Ad impressions, clicks, completions and verifications by network.",
}, []string{"event", "network"})

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	verifier *webhook.Verifier

	impressions repository.Repository[AdImpression]
	clicks      repository.Repository[AdClick]
	completions repository.Repository[AdCompletion]

	now func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		verifier:    webhook.NewVerifier(p.Config.Webhook.AdNetworkSecret, p.Config.Webhook.MaxSkew),
		impressions: repository.ProvideStore[AdImpression](p.DB),
		clicks:      repository.ProvideStore[AdClick](p.DB),
		completions: repository.ProvideStore[AdCompletion](p.DB),
		now:         time.Now,
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&AdImpression{}, &AdClick{}, &AdCompletion{})
}

type ImpressionParams struct {
	UserID            string
	Network           string
	Placement         string
	IPAddress         string
	DeviceFingerprint string
}

// RecordImpression issues the opaque token the client echoes on click and
// completion. Fallback placements are recorded at low trust.
func (s *Service) RecordImpression(ctx context.Context, p ImpressionParams) (*AdImpression, error) {
	network := ParseNetwork(p.Network)
	imp := &AdImpression{
		ID:                s.node.Generate(),
		Token:             uuid.NewString(),
		UserID:            p.UserID,
		Network:           network,
		Placement:         p.Placement,
		IsFallback:        network == NetworkFallback,
		TrustLevel:        TrustStandard,
		IPAddress:         p.IPAddress,
		DeviceFingerprint: p.DeviceFingerprint,
		CreatedAt:         s.now().UTC(),
	}
	if imp.IsFallback {
		imp.TrustLevel = TrustLow
	}

	if err := s.impressions.Create(ctx, imp); err != nil {
		logger.FromContext(ctx).Error("failed to record impression", zap.Error(err))
		return nil, err
	}

	adEvents.WithLabelValues("impression", string(network)).Inc()
	return imp, nil
}

func (s *Service) ownedImpression(ctx context.Context, token, userID string) (*AdImpression, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, errutil.BadRequest("invalid impression token", err)
	}

	imp, err := s.impressions.FindOne(ctx, &AdImpression{Token: token})
	if err != nil {
		return nil, err
	}
	if imp == nil || imp.UserID != userID {
		return nil, errutil.NotFound("impression not found", nil)
	}
	return imp, nil
}

func (s *Service) RecordClick(ctx context.Context, token, userID string) (*AdClick, error) {
	imp, err := s.ownedImpression(ctx, token, userID)
	if err != nil {
		return nil, err
	}

	click := &AdClick{ID: s.node.Generate(), ImpressionID: imp.ID, UserID: userID, CreatedAt: s.now().UTC()}
	if err := s.clicks.Create(ctx, click); err != nil {
		return nil, err
	}

	adEvents.WithLabelValues("click", string(imp.Network)).Inc()
	return click, nil
}

// RecordCompletion stores the client's claim that an ad finished. The row is
// unverified and stays that way until the network confirms it.
func (s *Service) RecordCompletion(ctx context.Context, token, userID string) (*AdCompletion, error) {
	imp, err := s.ownedImpression(ctx, token, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.completions.FindOne(ctx, &AdCompletion{ImpressionID: imp.ID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	c := &AdCompletion{
		ID:           s.node.Generate(),
		ImpressionID: imp.ID,
		UserID:       userID,
		Network:      imp.Network,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.completions.Create(ctx, c); err != nil {
		if db.IsUniqueViolation(err) {
			return s.completions.FindOne(ctx, &AdCompletion{ImpressionID: imp.ID})
		}
		return nil, err
	}

	adEvents.WithLabelValues("completion", string(imp.Network)).Inc()
	return c, nil
}

// VerifyCompletion handles a signed network callback. It is the only path
// that marks a completion verified.
func (s *Service) VerifyCompletion(ctx context.Context, signed string) (*AdCompletion, error) {
	var cb CompletionCallback
	if err := s.verifier.Verify(signed, &cb); err != nil {
		logger.FromContext(ctx).Warn("rejected ad network callback", zap.Error(err))
		if errors.Is(err, webhook.ErrNoSecret) {
			return nil, errutil.ServiceUnavailable("ad verification not configured", err)
		}
		return nil, errutil.Unauthorized("invalid ad network signature", err)
	}

	if _, err := uuid.Parse(cb.ImpressionToken); err != nil {
		return nil, errutil.BadRequest("invalid impression token", err)
	}

	imp, err := s.impressions.FindOne(ctx, &AdImpression{Token: cb.ImpressionToken})
	if err != nil {
		return nil, err
	}
	if imp == nil {
		return nil, errutil.NotFound("impression not found", nil)
	}
	if imp.IsFallback {
		return nil, errutil.Forbidden("fallback impressions cannot be verified", ErrNotEligible)
	}
	if ParseNetwork(cb.Network) != imp.Network {
		return nil, errutil.Forbidden("callback network does not match impression", ErrNotEligible)
	}

	now := s.now().UTC()
	source := "webhook:" + string(imp.Network) + ":" + cb.EventID

	var out *AdCompletion
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		completions := s.completions.WithTrx(tx)
		c, err := completions.FindOne(ctx, &AdCompletion{ImpressionID: imp.ID})
		if err != nil {
			return err
		}

		if c == nil {
			c = &AdCompletion{
				ID:           s.node.Generate(),
				ImpressionID: imp.ID,
				UserID:       imp.UserID,
				Network:      imp.Network,
				CreatedAt:    now,
			}
			if err := completions.Create(ctx, c); err != nil {
				return err
			}
		}

		if !c.Verified {
			if err := completions.Update(ctx, c.ID.String(), map[string]any{
				"verified":            true,
				"verified_at":         now,
				"verification_source": source,
			}); err != nil {
				return err
			}
			c.Verified, c.VerifiedAt, c.VerificationSource = true, &now, source
		}

		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	adEvents.WithLabelValues("verified", string(imp.Network)).Inc()
	return out, nil
}

// Consume spends a verified completion on one reward. It runs in the
// caller's transaction; a completion that is unverified, owned by someone
// else or already spent is refused.
func (s *Service) Consume(ctx context.Context, tx *gorm.DB, completionID snowflake.ID, userID, consumer string) error {
	if tx == nil {
		tx = s.db
	}

	res := tx.WithContext(ctx).Model(&AdCompletion{}).
		Where("id = ? AND user_id = ? AND verified = ? AND consumed_by = ''", completionID, userID, true).
		Updates(map[string]any{
			"consumed_by": consumer,
			"consumed_at": s.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Forbidden("a verified, unused ad completion is required", ErrNotEligible)
	}
	return nil
}
