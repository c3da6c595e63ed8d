package featureflags

import (
	"context"

	"bizops-incentives/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// FeatureFlag answers whether a feature is on for an identity. Lookups that
// fail return fallback so an outage of the flag service never changes
// behaviour by itself.
type FeatureFlag interface {
	Enabled(ctx context.Context, feature, identifier string, fallback bool) bool
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return Static{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, feature, identifier string, fallback bool) bool {
	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		zap.L().Warn("feature flag lookup failed", zap.String("feature", feature), zap.Error(err))
		return fallback
	}

	enabled, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		return fallback
	}
	return enabled
}

// Static serves fixed answers; features missing from the map use fallback.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, feature, _ string, fallback bool) bool {
	if v, ok := s[feature]; ok {
		return v
	}
	return fallback
}
