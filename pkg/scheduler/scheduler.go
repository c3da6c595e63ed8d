package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
)

// New returns a scheduler that starts and stops with the fx app.
func New(lc fx.Lifecycle) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		zap.L().Error("[Scheduler] failed to create scheduler", zap.Error(err))
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			zap.L().Info("[Scheduler] started", zap.Int("jobs", len(s.Jobs())))
			return nil
		},
		OnStop: func(context.Context) error {
			return s.Shutdown()
		},
	})

	return s, nil
}

// Every registers fn to run each interval. A run that is still going when
// the next one is due is skipped rather than stacked.
func Every(s gocron.Scheduler, name string, interval time.Duration, fn func(context.Context) error) error {
	_, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			if err := fn(ctx); err != nil {
				zap.L().Error("[Scheduler] job failed", zap.String("job", name), zap.Error(err))
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		zap.L().Error("[Scheduler] failed to register job", zap.String("job", name), zap.Error(err))
	}
	return err
}
