package risk

import (
	"context"
	"fmt"
	"testing"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T, rules ...config.RiskRule) *Service {
	t.Helper()

	db := testutil.NewTestDB(t)
	testutil.Migrate(t, db, Migrate)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Risk = config.Risk{FlagThreshold: 40, BlockThreshold: 80, Rules: rules}

	svc, err := NewService(ServiceParams{DB: db, Node: node, Config: cfg})
	require.NoError(t, err)
	return svc
}

func TestClassify(t *testing.T) {
	require.Equal(t, ActionAllow, Classify(0, 40, 80))
	require.Equal(t, ActionAllow, Classify(39, 40, 80))
	require.Equal(t, ActionFlag, Classify(40, 40, 80))
	require.Equal(t, ActionBlock, Classify(80, 40, 80))
	require.Equal(t, 100, clamp(155))
	require.Equal(t, 0, clamp(-3))
}

func TestInvalidRuleFailsConstruction(t *testing.T) {
	db := testutil.NewTestDB(t)
	node, _ := snowflake.NewNode(1)
	cfg := &config.Config{}
	cfg.Risk.Rules = []config.RiskRule{{Name: "bad", Expr: "device_users + 1", Score: 10}}

	_, err := NewService(ServiceParams{DB: db, Node: node, Config: cfg})
	require.Error(t, err)
}

func TestAssessCleanUser(t *testing.T) {
	svc := newTestService(t)

	a, err := svc.Assess(context.Background(), nil, Signals{
		UserID: "u-1", Action: "checkin", DeviceFingerprint: "fp-1", IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, 0, a.Score)
	require.Equal(t, ActionAllow, a.Action)

	var logs int64
	require.NoError(t, svc.db.Model(&FraudLog{}).Count(&logs).Error)
	require.Zero(t, logs)

	var obs Observation
	require.NoError(t, svc.db.First(&obs).Error)
	require.Len(t, obs.DeviceHash, 64)
	require.NotEqual(t, "fp-1", obs.DeviceHash)
}

func TestSharedDeviceIsFlagged(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Assess(ctx, nil, Signals{UserID: "u-1", Action: "checkin", DeviceFingerprint: "fp-1"})
	require.NoError(t, err)

	a, err := svc.Assess(ctx, nil, Signals{UserID: "u-2", Action: "checkin", DeviceFingerprint: "fp-1"})
	require.NoError(t, err)
	require.Equal(t, 40, a.Score)
	require.Equal(t, ActionFlag, a.Action)

	page, err := svc.ListLogs(ctx, LogFilter{Pagination: pagination.Pagination{Limit: 10}, UserID: "u-2"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, ActionFlag, page.Data[0].ActionTaken)
	require.JSONEq(t, `["device used by another account"]`, string(page.Data[0].Reasons))
}

func TestGuardBlocksAndKeepsLog(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Assess(ctx, nil, Signals{UserID: fmt.Sprintf("other-%d", i), Action: "faucet_claim", DeviceFingerprint: "fp-x", IPAddress: "1.2.3.4"})
		require.NoError(t, err)
	}

	a, err := svc.Guard(ctx, nil, Signals{UserID: "u-9", Action: "faucet_claim", DeviceFingerprint: "fp-x", IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	require.Equal(t, 65, a.Score)
	require.Equal(t, ActionFlag, a.Action)

	svc.blockAt = 60
	a, err = svc.Guard(ctx, nil, Signals{UserID: "u-10", Action: "faucet_claim", DeviceFingerprint: "fp-x", IPAddress: "1.2.3.4"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))
	require.True(t, a.Blocked())

	var blocked int64
	require.NoError(t, svc.db.Model(&FraudLog{}).Where("action_taken = ?", ActionBlock).Count(&blocked).Error)
	require.EqualValues(t, 1, blocked)
}

func TestCustomRules(t *testing.T) {
	svc := newTestService(t, config.RiskRule{Name: "faucet", Expr: `action == "faucet_claim"`, Score: 90, Reason: "faucet paused"})

	a, err := svc.Assess(context.Background(), nil, Signals{UserID: "u-1", Action: "faucet_claim"})
	require.NoError(t, err)
	require.Equal(t, ActionBlock, a.Action)

	a, err = svc.Assess(context.Background(), nil, Signals{UserID: "u-1", Action: "checkin"})
	require.NoError(t, err)
	require.Equal(t, ActionAllow, a.Action)
}
