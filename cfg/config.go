package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Role selects which process a stoat binary runs as.
type Role string

const (
	RoleNode        Role = "node"
	RoleCoordinator Role = "coordinator"
)

// NodeConfiguration controls a data node process
type NodeConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Index       int    `toml:"index"` // Shard index this node owns
}

// CoordinatorConfiguration controls the transaction coordinator process
type CoordinatorConfiguration struct {
	BindAddress string   `toml:"bind_address"`
	Port        int      `toml:"port"`
	Nodes       []string `toml:"nodes"` // Node endpoints ordered by shard index

	// Write-phase behavior
	ApplyTimeoutMS int `toml:"apply_timeout_ms"`
	ApplyRetries   int `toml:"apply_retries"`

	// Transactions older than this (in issued timestamps, not wall time)
	// may be evicted from the live set so history pruning can advance.
	// 0 disables eviction.
	MaxTxnAge uint64 `toml:"max_txn_age"`
}

// LockConfiguration controls the S2PL lock table on data nodes
type LockConfiguration struct {
	WaitTimeoutMS  int `toml:"wait_timeout_ms"`  // Default acquire timeout
	WoundedTIDSize int `toml:"wounded_tid_size"` // Bounded set of wounded transaction IDs
}

// HistoryConfiguration controls the coordinator's committed-transaction history
type HistoryConfiguration struct {
	PruneEveryNCommits int `toml:"prune_every_n_commits"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	Role Role `toml:"role"`

	Node        NodeConfiguration        `toml:"node"`
	Coordinator CoordinatorConfiguration `toml:"coordinator"`
	Lock        LockConfiguration        `toml:"lock"`
	History     HistoryConfiguration     `toml:"history"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "", "Path to configuration file")
	RoleFlag       = flag.String("role", "", "Process role: node or coordinator")
	PortFlag       = flag.Int("port", 0, "Listen port (overrides config)")
	NodeIndexFlag  = flag.Int("node-index", -1, "Shard index for a data node (overrides config)")
	NodesFlag      = flag.String("nodes", "", "Comma-separated node endpoints for the coordinator (overrides config)")
)

// Default configuration
var Config = &Configuration{
	Role: RoleNode,

	Node: NodeConfiguration{
		BindAddress: "0.0.0.0",
		Port:        8001,
		Index:       0,
	},

	Coordinator: CoordinatorConfiguration{
		BindAddress:    "0.0.0.0",
		Port:           8000,
		Nodes:          []string{},
		ApplyTimeoutMS: 2000,
		ApplyRetries:   3,
		MaxTxnAge:      0,
	},

	Lock: LockConfiguration{
		WaitTimeoutMS:  5000,
		WoundedTIDSize: 4096,
	},

	History: HistoryConfiguration{
		PruneEveryNCommits: 64,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: false,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *RoleFlag != "" {
		Config.Role = Role(*RoleFlag)
	}
	if *PortFlag != 0 {
		switch Config.Role {
		case RoleCoordinator:
			Config.Coordinator.Port = *PortFlag
		default:
			Config.Node.Port = *PortFlag
		}
	}
	if *NodeIndexFlag >= 0 {
		Config.Node.Index = *NodeIndexFlag
	}
	if *NodesFlag != "" {
		Config.Coordinator.Nodes = strings.Split(*NodesFlag, ",")
	}

	return nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Role {
	case RoleNode, RoleCoordinator:
	default:
		return fmt.Errorf("invalid role: %q", Config.Role)
	}

	if Config.Role == RoleNode {
		if Config.Node.Port < 1 || Config.Node.Port > 65535 {
			return fmt.Errorf("invalid node port: %d", Config.Node.Port)
		}
		if Config.Node.Index < 0 {
			return fmt.Errorf("node index must be >= 0")
		}
	}

	if Config.Role == RoleCoordinator {
		if Config.Coordinator.Port < 1 || Config.Coordinator.Port > 65535 {
			return fmt.Errorf("invalid coordinator port: %d", Config.Coordinator.Port)
		}
		if len(Config.Coordinator.Nodes) == 0 {
			return fmt.Errorf("coordinator requires at least one node endpoint")
		}
		if Config.Coordinator.ApplyTimeoutMS < 1 {
			return fmt.Errorf("apply timeout must be >= 1ms")
		}
		if Config.Coordinator.ApplyRetries < 0 {
			return fmt.Errorf("apply retries must be >= 0")
		}
	}

	if Config.Lock.WaitTimeoutMS < 1 {
		return fmt.Errorf("lock wait timeout must be >= 1ms")
	}

	if Config.Lock.WoundedTIDSize < 1 {
		return fmt.Errorf("wounded TID set size must be >= 1")
	}

	if Config.History.PruneEveryNCommits < 1 {
		return fmt.Errorf("history prune interval must be >= 1 commit")
	}

	return nil
}
