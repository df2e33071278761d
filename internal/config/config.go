package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Transport TransportConfig `mapstructure:"transport"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ClusterConfig struct {
	Name                string       `mapstructure:"name"`
	NodeID              int32        `mapstructure:"node_id"`
	PartitionCount      int          `mapstructure:"partition_count"`
	AssignmentAlgorithm string       `mapstructure:"assignment_algorithm"`
	Nodes               []NodeConfig `mapstructure:"nodes"`
}

type NodeConfig struct {
	ID         int32  `mapstructure:"id"`
	Name       string `mapstructure:"name"`
	Address    string `mapstructure:"address"`
	DataCenter string `mapstructure:"data_center"`
}

type LedgerConfig struct {
	Backend     string            `mapstructure:"backend"`
	Dir         string            `mapstructure:"dir"`
	Replication ReplicationConfig `mapstructure:"replication"`
}

type ReplicationConfig struct {
	Address   string       `mapstructure:"address"`
	Peers     []PeerConfig `mapstructure:"peers"`
	Bootstrap bool         `mapstructure:"bootstrap"`
}

type PeerConfig struct {
	ID      uint64 `mapstructure:"id"`
	Address string `mapstructure:"address"`
}

type TransportConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("bmq")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster.partition_count", 4)
	v.SetDefault("cluster.assignment_algorithm", "least_assigned")
	v.SetDefault("ledger.backend", "sqlite")
	v.SetDefault("ledger.dir", "bmq-ledger")
	v.SetDefault("logging.level", "info")
}

func (c Config) Validate() error {
	if c.Cluster.Name == "" {
		return fmt.Errorf("cluster.name is required")
	}
	if c.Cluster.PartitionCount <= 0 {
		return fmt.Errorf("cluster.partition_count must be positive")
	}
	switch c.Cluster.AssignmentAlgorithm {
	case "leader_is_senior", "least_assigned":
	default:
		return fmt.Errorf("cluster.assignment_algorithm %q: want leader_is_senior or least_assigned", c.Cluster.AssignmentAlgorithm)
	}
	self := false
	for _, n := range c.Cluster.Nodes {
		if n.ID == c.Cluster.NodeID {
			self = true
		}
	}
	if !self {
		return fmt.Errorf("cluster.node_id %d is not in cluster.nodes", c.Cluster.NodeID)
	}
	switch c.Ledger.Backend {
	case "memory", "sqlite":
	case "replicated":
		if c.Ledger.Replication.Address == "" {
			return fmt.Errorf("ledger.replication.address is required for the replicated backend")
		}
		if len(c.Ledger.Replication.Peers) == 0 {
			return fmt.Errorf("ledger.replication.peers is required for the replicated backend")
		}
	default:
		return fmt.Errorf("ledger.backend %q: want memory, sqlite or replicated", c.Ledger.Backend)
	}
	return nil
}
