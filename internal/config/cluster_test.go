package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultClusterIsValid(t *testing.T) {
	c := DefaultCluster()
	require.NoError(t, c.Validate())
	assert.Equal(t, 3, c.Nodes)
	assert.Equal(t, 3000, c.BasePort)
	assert.Equal(t, 1, c.MinRate)
	assert.Equal(t, 6, c.MaxRate)
	assert.Equal(t, time.Minute, c.Duration)
	assert.Equal(t, TransportMemory, c.Transport)
}

func TestLoadCluster(t *testing.T) {
	path := writeFile(t, "cluster.yaml", `
nodes: 4
base_port: 4000
rates: [1, 2, 3, 4]
duration: 5s
transport: grpc
log_dir: /tmp/runs
network:
  drop_probability: 0.1
  latency_min: 5ms
  latency_max: 20ms
`)

	c, err := LoadCluster(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 4, c.Nodes)
	assert.Equal(t, "127.0.0.1", c.Host, "unset keys keep defaults")
	assert.Equal(t, 4000, c.BasePort)
	assert.Equal(t, []float64{1, 2, 3, 4}, c.Rates)
	assert.Equal(t, 5*time.Second, c.Duration)
	assert.Equal(t, TransportGRPC, c.Transport)
	assert.Equal(t, "/tmp/runs", c.LogDir)
	assert.InDelta(t, 0.1, c.Network.DropProbability, 1e-9)
	assert.Equal(t, 5*time.Millisecond, c.Network.LatencyMin)
	assert.Equal(t, 20*time.Millisecond, c.Network.LatencyMax)
}

func TestLoadClusterRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "cluster.yaml", "nodes: 2\nnode_count: 3\n")
	_, err := LoadCluster(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadClusterMissingFile(t *testing.T) {
	_, err := LoadCluster(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "LAMPORTSIM_NODES=5\nLAMPORTSIM_DURATION=10s\nLAMPORTSIM_TRANSPORT=grpc\n")
	t.Setenv(EnvTransport, "memory")
	t.Setenv(EnvDrop, "0.25")

	c := DefaultCluster()
	require.NoError(t, ApplyEnv(&c, envFile))

	assert.Equal(t, 5, c.Nodes)
	assert.Equal(t, 10*time.Second, c.Duration)
	assert.Equal(t, TransportMemory, c.Transport, "process environment wins over the file")
	assert.InDelta(t, 0.25, c.Network.DropProbability, 1e-9)
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv(EnvNodes, "three")
	c := DefaultCluster()
	assert.ErrorIs(t, ApplyEnv(&c, ""), ErrInvalidConfig)
}

func TestApplyEnvMissingFile(t *testing.T) {
	c := DefaultCluster()
	assert.Error(t, ApplyEnv(&c, filepath.Join(t.TempDir(), "nope.env")))
}

func TestClusterValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Cluster)
	}{
		{"no nodes", func(c *Cluster) { c.Nodes = 0 }},
		{"empty host", func(c *Cluster) { c.Host = "" }},
		{"port overflow", func(c *Cluster) { c.BasePort = 65535 }},
		{"rates length mismatch", func(c *Cluster) { c.Rates = []float64{1} }},
		{"non-positive rate", func(c *Cluster) { c.Rates = []float64{1, 0, 2} }},
		{"inverted rate range", func(c *Cluster) { c.MinRate, c.MaxRate = 4, 2 }},
		{"zero duration", func(c *Cluster) { c.Duration = 0 }},
		{"unknown transport", func(c *Cluster) { c.Transport = "udp" }},
		{"drop above one", func(c *Cluster) { c.Network.DropProbability = 1.5 }},
		{"negative corrupt", func(c *Cluster) { c.Network.CorruptProbability = -0.1 }},
		{"inverted latency", func(c *Cluster) {
			c.Network.LatencyMin = time.Second
			c.Network.LatencyMax = time.Millisecond
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCluster()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNodeConfigsFullMesh(t *testing.T) {
	c := DefaultCluster()
	configs := c.NodeConfigs([]float64{1, 2, 3})
	require.Len(t, configs, 3)

	for i, cfg := range configs {
		require.NoError(t, cfg.Validate())
		assert.Equal(t, c.Addr(i), cfg.NodeID)
		assert.Equal(t, c.Addr(i), cfg.ListenAddr)
		assert.Equal(t, float64(i+1), cfg.ClockRate)
		assert.Len(t, cfg.PeerIDs(), 2)
		assert.NotContains(t, cfg.PeerIDs(), cfg.NodeID)
	}
	assert.Equal(t, []string{"127.0.0.1:3001", "127.0.0.1:3002"}, configs[0].PeerIDs())
}

func TestNodeConfigsSingleNode(t *testing.T) {
	c := DefaultCluster()
	configs := c.NodeConfigs([]float64{2})
	require.Len(t, configs, 1)
	assert.Empty(t, configs[0].PeerIDs())
}
