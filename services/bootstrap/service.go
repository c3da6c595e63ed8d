package bootstrap

import (
	"context"
	"fmt"

	"bizops-incentives/services/advertising"
	"bizops-incentives/services/cashout"
	"bizops-incentives/services/faucet"
	"bizops-incentives/services/mining"
	"bizops-incentives/services/rewards"
	"bizops-incentives/services/risk"
	"bizops-incentives/services/treasury"
	"bizops-incentives/services/wallet"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrations lists every schema in dependency order. The treasury and wallet
// tables come first because rewards, mining and cashouts write to them.
var Migrations = []struct {
	Name string
	Fn   func(*gorm.DB) error
}{
	{"treasury", treasury.Migrate},
	{"wallet", wallet.Migrate},
	{"risk", risk.Migrate},
	{"advertising", advertising.Migrate},
	{"rewards", rewards.Migrate},
	{"mining", mining.Migrate},
	{"cashout", cashout.Migrate},
	{"faucet", faucet.Migrate},
}

type Service struct {
	db       *gorm.DB
	treasury *treasury.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Treasury *treasury.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		treasury: p.Treasury,
	}
}

// Migrate applies every schema. It is safe to run repeatedly.
func (s *Service) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, m := range Migrations {
		if err := m.Fn(db); err != nil {
			zap.L().Error("[bootstrap] migration failed", zap.String("schema", m.Name), zap.Error(err))
			return fmt.Errorf("migrate %s: %w", m.Name, err)
		}
		zap.L().Info("[bootstrap] schema migrated", zap.String("schema", m.Name))
	}
	return nil
}

// Seed creates the treasury header so the first deposit does not race the
// first distribution for it.
func (s *Service) Seed(ctx context.Context) error {
	var acc treasury.TreasuryAccount
	err := s.treasury.Within(ctx, func(l *treasury.Ledger) error {
		acc = l.Account()
		return nil
	})
	if err != nil {
		zap.L().Error("[bootstrap] failed to seed treasury account", zap.Error(err))
		return err
	}

	zap.L().Info("[bootstrap] treasury account ready",
		zap.String("key", acc.Key),
		zap.String("token_reserve", acc.TokenReserve.String()),
	)
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return s.Seed(ctx)
}
