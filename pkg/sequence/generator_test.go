package sequence

import (
	"context"
	"regexp"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^(CO|DEP)-\d{6}-[0-9A-Z]{3,}[A-Z2-9]{2}$`)

func TestFormat(t *testing.T) {
	code, err := Format("CO", "261016", 37)
	require.NoError(t, err)
	require.Regexp(t, `^CO-261016-011[A-Z2-9]{2}$`, code)
}

func TestNodeGenerator(t *testing.T) {
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	g := NodeGenerator{Node: node}

	a, err := g.NextCashoutCode(context.Background())
	require.NoError(t, err)
	require.Regexp(t, codePattern, a)

	b, err := g.NextDepositCode(context.Background())
	require.NoError(t, err)
	require.Regexp(t, codePattern, b)
}
