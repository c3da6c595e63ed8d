package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestEveryRunsJob(t *testing.T) {
	s, err := gocron.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	var runs atomic.Int32
	require.NoError(t, Every(s, "tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.Len(t, s.Jobs(), 1)
	require.Equal(t, "tick", s.Jobs()[0].Name())

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestEveryRejectsBadInterval(t *testing.T) {
	s, err := gocron.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	require.Error(t, Every(s, "never", 0, func(context.Context) error { return nil }))
}
