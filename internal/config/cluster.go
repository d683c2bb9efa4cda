package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in cluster configuration.
const (
	TransportMemory = "memory"
	TransportGRPC   = "grpc"
)

// Network describes the simulated in-process network.
type Network struct {
	DropProbability      float64       `yaml:"drop_probability"`
	DuplicateProbability float64       `yaml:"duplicate_probability"`
	CorruptProbability   float64       `yaml:"corrupt_probability"`
	LatencyMin           time.Duration `yaml:"latency_min"`
	LatencyMax           time.Duration `yaml:"latency_max"`
	Jitter               float64       `yaml:"jitter"`
}

// Cluster describes a whole simulation run.
type Cluster struct {
	Nodes    int    `yaml:"nodes"`
	Host     string `yaml:"host"`
	BasePort int    `yaml:"base_port"`
	// MinRate and MaxRate bound the integer clock rate drawn for each node
	// when Rates is empty.
	MinRate   int           `yaml:"min_rate"`
	MaxRate   int           `yaml:"max_rate"`
	Rates     []float64     `yaml:"rates,omitempty"`
	Duration  time.Duration `yaml:"duration"`
	Transport string        `yaml:"transport"`
	LogDir    string        `yaml:"log_dir"`
	Database  string        `yaml:"database,omitempty"`
	Seed      uint64        `yaml:"seed,omitempty"`
	Network   Network       `yaml:"network"`
}

// DefaultCluster returns three nodes on ports 3000..3002 with clock rates
// between 1 and 6, running for one minute over a reliable in-process network.
func DefaultCluster() Cluster {
	return Cluster{
		Nodes:     3,
		Host:      "127.0.0.1",
		BasePort:  3000,
		MinRate:   1,
		MaxRate:   6,
		Duration:  60 * time.Second,
		Transport: TransportMemory,
		LogDir:    "logs",
	}
}

// LoadCluster reads a YAML cluster file on top of DefaultCluster.
// Unknown keys are rejected.
func LoadCluster(path string) (Cluster, error) {
	c := DefaultCluster()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read cluster config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return c, nil
}

// Environment variables understood by ApplyEnv.
const (
	EnvNodes     = "LAMPORTSIM_NODES"
	EnvHost      = "LAMPORTSIM_HOST"
	EnvBasePort  = "LAMPORTSIM_BASE_PORT"
	EnvDuration  = "LAMPORTSIM_DURATION"
	EnvTransport = "LAMPORTSIM_TRANSPORT"
	EnvLogDir    = "LAMPORTSIM_LOG_DIR"
	EnvDatabase  = "LAMPORTSIM_DATABASE"
	EnvDrop      = "LAMPORTSIM_DROP_PROBABILITY"
)

// ApplyEnv overrides c from LAMPORTSIM_* variables. When envFile is set its
// entries are used for variables missing from the process environment.
func ApplyEnv(c *Cluster, envFile string) error {
	fileVars := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		if err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		fileVars = vars
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}

	if v, ok := lookup(EnvNodes); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvNodes, err)
		}
		c.Nodes = n
	}
	if v, ok := lookup(EnvHost); ok {
		c.Host = v
	}
	if v, ok := lookup(EnvBasePort); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvBasePort, err)
		}
		c.BasePort = p
	}
	if v, ok := lookup(EnvDuration); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvDuration, err)
		}
		c.Duration = d
	}
	if v, ok := lookup(EnvTransport); ok {
		c.Transport = v
	}
	if v, ok := lookup(EnvLogDir); ok {
		c.LogDir = v
	}
	if v, ok := lookup(EnvDatabase); ok {
		c.Database = v
	}
	if v, ok := lookup(EnvDrop); ok {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvDrop, err)
		}
		c.Network.DropProbability = p
	}
	return nil
}

// Validate checks the cluster description.
func (c *Cluster) Validate() error {
	if c.Nodes < 1 {
		return fmt.Errorf("%w: need at least one node, got %d", ErrInvalidConfig, c.Nodes)
	}
	if c.Host == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidConfig)
	}
	if c.BasePort < 0 || c.BasePort+c.Nodes-1 > 65535 {
		return fmt.Errorf("%w: port range %d..%d out of bounds", ErrInvalidConfig, c.BasePort, c.BasePort+c.Nodes-1)
	}
	if len(c.Rates) > 0 {
		if len(c.Rates) != c.Nodes {
			return fmt.Errorf("%w: %d rates for %d nodes", ErrInvalidConfig, len(c.Rates), c.Nodes)
		}
		for i, r := range c.Rates {
			if !(r > 0) {
				return fmt.Errorf("%w: rate %d must be positive, got %v", ErrInvalidConfig, i, r)
			}
		}
	} else if c.MinRate < 1 || c.MaxRate < c.MinRate {
		return fmt.Errorf("%w: rate range %d..%d", ErrInvalidConfig, c.MinRate, c.MaxRate)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidConfig)
	}
	switch c.Transport {
	case TransportMemory, TransportGRPC:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	for name, p := range map[string]float64{
		"drop_probability":      c.Network.DropProbability,
		"duplicate_probability": c.Network.DuplicateProbability,
		"corrupt_probability":   c.Network.CorruptProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrInvalidConfig, name, p)
		}
	}
	if c.Network.LatencyMax < c.Network.LatencyMin {
		return fmt.Errorf("%w: latency_max below latency_min", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the listen address of the i-th node.
func (c *Cluster) Addr(i int) string {
	return fmt.Sprintf("%s:%d", c.Host, c.BasePort+i)
}

// NodeConfigs builds one node configuration per rate. Every node is wired to
// every other node and identified by its listen address.
func (c *Cluster) NodeConfigs(rates []float64) []Config {
	peers := make([]Peer, len(rates))
	for i := range rates {
		addr := c.Addr(i)
		peers[i] = Peer{ID: NormalizeID(addr), Addr: addr}
	}

	configs := make([]Config, len(rates))
	for i, rate := range rates {
		others := make([]Peer, 0, len(rates)-1)
		for j, p := range peers {
			if j != i {
				others = append(others, p)
			}
		}
		configs[i] = Config{
			NodeID:     peers[i].ID,
			ListenAddr: peers[i].Addr,
			ClockRate:  rate,
			Peers:      others,
		}
	}
	return configs
}
