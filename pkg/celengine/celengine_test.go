package celengine

import (
	"testing"

	"github.com/google/cel-go/cel"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	e, err := New(
		Var{Name: "device_users", Type: cel.IntType},
		Var{Name: "has_device", Type: cel.BoolType},
		Var{Name: "action", Type: cel.StringType},
	)
	require.NoError(t, err)
	return e
}

func TestEvaluate(t *testing.T) {
	e := newEngine(t)

	ok, err := e.Evaluate(`device_users > 1 && action == "faucet_claim"`, map[string]any{
		"device_users": int64(3),
		"has_device":   true,
		"action":       "faucet_claim",
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Evaluate(`!has_device`, map[string]any{"device_users": int64(0), "has_device": true, "action": ""})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompileRejectsNonBool(t *testing.T) {
	e := newEngine(t)

	_, err := e.Compile(`device_users + 1`)
	require.Error(t, err)

	_, err = e.Compile(`unknown_var > 1`)
	require.Error(t, err)
}
