package profiling

import (
	"testing"

	"bizops-incentives/pkg/config"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	c := &config.Config{AppName: "bizops-incentives", AppEnv: "staging", AppVersion: "1.4.0"}
	c.Pyroscope.Addr = "http://pyroscope:4040"

	pc := Config(c)
	require.Equal(t, "bizops-incentives", pc.ApplicationName)
	require.Equal(t, "http://pyroscope:4040", pc.ServerAddress)
	require.Contains(t, pc.ProfileTypes, pyroscope.ProfileCPU)
	require.Equal(t, "staging", pc.Tags["env"])
}
