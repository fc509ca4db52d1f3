// Package config loads orchestrd configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// ORCHESTRD_-prefixed environment variables. Sections owned by other packages
// (logging, telemetry) are decoded on demand with Config.Section.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
)

// Checkpoint backends
const (
	BackendMemory = "memory"
	BackendKV     = "kv"
)

// Config holds the complete orchestrd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	NATS       NATSConfig       `koanf:"nats"`
	Engine     EngineConfig     `koanf:"engine"`
	HITL       HITLConfig       `koanf:"hitl"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Nodes      NodesConfig      `koanf:"nodes"`

	k *koanf.Koanf
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string   `koanf:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig selects an external broker or an embedded one.
type NATSConfig struct {
	URL           string `koanf:"url"`
	Embedded      bool   `koanf:"embedded"`
	Host          string `koanf:"host"`
	Port          int    `koanf:"port"`
	StoreDir      string `koanf:"store_dir"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Token         Secret `koanf:"token"`
}

// EngineConfig tunes plan execution.
type EngineConfig struct {
	NodeTimeout           Duration `koanf:"node_timeout"`
	ApprovalTimeout       Duration `koanf:"approval_timeout"`
	MaxIterationsPolicy   string   `koanf:"max_iterations_policy"`
	ApprovalTimeoutPolicy string   `koanf:"approval_timeout_policy"`
	DefaultMaxIterations  int      `koanf:"default_max_iterations"`
	// NodeRate limits node calls per second across the engine. Zero disables.
	NodeRate  float64 `koanf:"node_rate"`
	NodeBurst int     `koanf:"node_burst"`
}

// HITLConfig holds checkpoint manager settings.
type HITLConfig struct {
	DefaultTimeout   Duration `koanf:"default_timeout"`
	Retention        Duration `koanf:"retention"`
	BroadcastTimeout Duration `koanf:"broadcast_timeout"`
}

// CheckpointConfig selects the snapshot store.
type CheckpointConfig struct {
	Backend string   `koanf:"backend"`
	Bucket  string   `koanf:"bucket"`
	TTL     Duration `koanf:"ttl"`
}

// NodesConfig configures built-in and remote nodes.
type NodesConfig struct {
	Security    SecurityNodeConfig    `koanf:"security"`
	Persistence PersistenceNodeConfig `koanf:"persistence"`
	Remote      RemoteNodesConfig     `koanf:"remote"`
	Exec        ExecNodesConfig       `koanf:"exec"`
}

type SecurityNodeConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Allowlist string `koanf:"allowlist"`
	Watch     bool   `koanf:"watch"`
}

type PersistenceNodeConfig struct {
	Enabled     bool   `koanf:"enabled"`
	RepoDir     string `koanf:"repo_dir"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// RemoteNodesConfig lists nodes served by NATS workers.
type RemoteNodesConfig struct {
	Nodes   []string `koanf:"nodes"`
	Timeout Duration `koanf:"timeout"`
}

// ExecNodesConfig maps node ids to local commands. A node listed here is run
// as a command instead of through a remote worker.
type ExecNodesConfig struct {
	Commands map[string]string `koanf:"commands"`
	WorkDir  string            `koanf:"work_dir"`
	Timeout  Duration          `koanf:"timeout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:9191",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Embedded:      true,
			Host:          "127.0.0.1",
			Port:          4222,
			SubjectPrefix: "orchestrd",
		},
		Engine: EngineConfig{
			NodeTimeout:           Duration(5 * time.Minute),
			ApprovalTimeout:       Duration(30 * time.Minute),
			MaxIterationsPolicy:   "force_approve",
			ApprovalTimeoutPolicy: "fail",
			DefaultMaxIterations:  3,
		},
		HITL: HITLConfig{
			Retention:        Duration(time.Hour),
			BroadcastTimeout: Duration(5 * time.Second),
		},
		Checkpoint: CheckpointConfig{
			Backend: BackendKV,
			Bucket:  "ORCHESTRD_CHECKPOINTS",
			TTL:     Duration(7 * 24 * time.Hour),
		},
		Nodes: NodesConfig{
			Security: SecurityNodeConfig{Enabled: true, Watch: true},
			Persistence: PersistenceNodeConfig{
				Enabled:     true,
				RepoDir:     "./orchestrd-artifacts",
				AuthorName:  "orchestrd",
				AuthorEmail: "orchestrd@localhost",
			},
			Remote: RemoteNodesConfig{
				Nodes:   []string{"coder", "reviewer", "qa_gate", "refiner"},
				Timeout: Duration(5 * time.Minute),
			},
			Exec: ExecNodesConfig{
				Timeout: Duration(5 * time.Minute),
			},
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required unless nats.embedded is set"))
	}
	if c.NATS.Embedded && (c.NATS.Port < -1 || c.NATS.Port > 65535) {
		errs = append(errs, fmt.Errorf("nats.port out of range: %d", c.NATS.Port))
	}
	if c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required"))
	}
	if !slices.Contains([]string{"force_approve", "fail"}, c.Engine.MaxIterationsPolicy) {
		errs = append(errs, fmt.Errorf("engine.max_iterations_policy must be force_approve or fail, got %q", c.Engine.MaxIterationsPolicy))
	}
	if !slices.Contains([]string{"fail", "approve"}, c.Engine.ApprovalTimeoutPolicy) {
		errs = append(errs, fmt.Errorf("engine.approval_timeout_policy must be fail or approve, got %q", c.Engine.ApprovalTimeoutPolicy))
	}
	if c.Engine.DefaultMaxIterations < 1 {
		errs = append(errs, errors.New("engine.default_max_iterations must be at least 1"))
	}
	if c.Engine.NodeRate < 0 || c.Engine.NodeBurst < 0 {
		errs = append(errs, errors.New("engine.node_rate and engine.node_burst cannot be negative"))
	}
	switch c.Checkpoint.Backend {
	case BackendMemory:
	case BackendKV:
		if c.Checkpoint.Bucket == "" {
			errs = append(errs, errors.New("checkpoint.bucket is required for the kv backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend must be memory or kv, got %q", c.Checkpoint.Backend))
	}
	if c.Nodes.Persistence.Enabled && c.Nodes.Persistence.RepoDir == "" {
		errs = append(errs, errors.New("nodes.persistence.repo_dir is required when persistence is enabled"))
	}
	for node, cmd := range c.Nodes.Exec.Commands {
		if strings.TrimSpace(cmd) == "" {
			errs = append(errs, fmt.Errorf("nodes.exec.commands.%s is empty", node))
		}
	}
	return errors.Join(errs...)
}

// Section decodes the subtree at path into out. Fields missing from the
// loaded sources keep the values out already holds.
func (c *Config) Section(path string, out any) error {
	if c.k == nil {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("decoding %s config: %w", path, err)
	}
	return nil
}
