package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/provision"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/volume"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendRaft = "raft"
	BackendEtcd = "etcd"
	BackendBolt = "bolt"
)

// Provisioning drivers
const (
	DriverLoopback = "loopback"
	DriverEBS      = "ebs"
)

const (
	defaultDataDir      = "/var/lib/burrow"
	defaultClusterDir   = "/var/lib/burrow/cluster"
	defaultBindAddr     = "127.0.0.1:7946"
	defaultAPIAddr      = "127.0.0.1:8080"
	defaultHealthAddr   = "127.0.0.1:9090"
	defaultNodeID       = "node-1"
	defaultEtcdTimeout  = 5 * time.Second
	defaultEtcdLeaseTTL = 30
)

// Config is the burrow configuration file
type Config struct {
	Instance    InstanceConfig          `yaml:"instance"`
	Store       StoreConfig             `yaml:"store"`
	Cluster     ClusterConfig           `yaml:"cluster"`
	Provisioner ProvisionerConfig       `yaml:"provisioner"`
	Host        HostConfig              `yaml:"host"`
	Attach      AttachConfig            `yaml:"attach"`
	Templates   []types.StorageTemplate `yaml:"templates"`
	Log         LogConfig               `yaml:"log"`
	TLS         TLSConfig               `yaml:"tls"`
}

// InstanceConfig identifies the service instance volume commands act for
type InstanceConfig struct {
	Application string `yaml:"application"`
	Service     string `yaml:"service"`
	Location    string `yaml:"location"`
	BindAddress string `yaml:"bind_address"`
	Platform    string `yaml:"platform"`
	// Privileged defaults to whether the process runs as root
	Privileged *bool `yaml:"privileged"`
}

// StoreConfig selects where volume records live
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Manager is the API address of a raft store node
	Manager string     `yaml:"manager"`
	DataDir string     `yaml:"data_dir"`
	Etcd    EtcdConfig `yaml:"etcd"`
	// Lock serializes operations cluster-wide through the etcd store
	Lock bool `yaml:"lock"`
}

// EtcdConfig configures the etcd backend
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	LeaseTTL    int           `yaml:"lease_ttl"`
}

// ClusterConfig configures a raft store node
type ClusterConfig struct {
	NodeID       string `yaml:"node_id"`
	BindAddr     string `yaml:"bind_addr"`
	APIAddr      string `yaml:"api_addr"`
	HealthAddr   string `yaml:"health_addr"`
	ReadOnlyAddr string `yaml:"read_only_addr"`
	DataDir      string `yaml:"data_dir"`
	JoinAddr     string `yaml:"join_addr"`
	JoinToken    string `yaml:"join_token"`

	// Per-client throttle on the read-only listener. Zero disables it.
	ReadOnlyRequestsPerSecond float64 `yaml:"read_only_requests_per_second"`
	ReadOnlyBurst             int     `yaml:"read_only_burst"`

	// Member probing by the reconciler. Zero values use the defaults.
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeRetries  int           `yaml:"probe_retries"`
}

// ProvisionerConfig selects and configures the provisioning driver
type ProvisionerConfig struct {
	Driver   string `yaml:"driver"`
	BasePath string `yaml:"base_path"`
	Region   string `yaml:"region"`
	Sudo     bool   `yaml:"sudo"`
}

// HostConfig configures host mount and format commands
type HostConfig struct {
	Sudo             bool `yaml:"sudo"`
	CreateMountPoint bool `yaml:"mkdir"`
}

// AttachConfig controls the wait for an attached device
type AttachConfig struct {
	SettleDelay  time.Duration `yaml:"settle_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TLSConfig enables mutual TLS on API connections when CertDir is set
type TLSConfig struct {
	CertDir string `yaml:"cert_dir"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads, defaults and validates the configuration at path.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	if c.Instance.Platform == "" {
		c.Instance.Platform = runtime.GOOS
	}
	if c.Instance.Privileged == nil {
		privileged := os.Geteuid() == 0
		c.Instance.Privileged = &privileged
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendBolt
	}
	if c.Store.Manager == "" {
		c.Store.Manager = defaultAPIAddr
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = defaultDataDir
	}
	if c.Store.Etcd.Prefix == "" {
		c.Store.Etcd.Prefix = storage.DefaultEtcdPrefix
	}
	if c.Store.Etcd.DialTimeout == 0 {
		c.Store.Etcd.DialTimeout = defaultEtcdTimeout
	}
	if c.Store.Etcd.LeaseTTL == 0 {
		c.Store.Etcd.LeaseTTL = defaultEtcdLeaseTTL
	}

	if c.Cluster.NodeID == "" {
		c.Cluster.NodeID = defaultNodeID
	}
	if c.Cluster.BindAddr == "" {
		c.Cluster.BindAddr = defaultBindAddr
	}
	if c.Cluster.APIAddr == "" {
		c.Cluster.APIAddr = defaultAPIAddr
	}
	if c.Cluster.HealthAddr == "" {
		c.Cluster.HealthAddr = defaultHealthAddr
	}
	if c.Cluster.DataDir == "" {
		c.Cluster.DataDir = defaultClusterDir
	}

	if c.Provisioner.Driver == "" {
		c.Provisioner.Driver = DriverLoopback
	}
	if c.Provisioner.BasePath == "" {
		c.Provisioner.BasePath = provision.DefaultLoopbackPath
	}

	if c.Attach.SettleDelay == 0 {
		c.Attach.SettleDelay = volume.DefaultAttachSettleDelay
	}
	if c.Attach.PollInterval == 0 {
		c.Attach.PollInterval = volume.DefaultAttachPollInterval
	}
	if c.Attach.Timeout == 0 {
		c.Attach.Timeout = volume.DefaultAttachTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = string(log.InfoLevel)
	}
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRaft:
		if c.Store.Manager == "" {
			return fmt.Errorf("store.manager is required for the %s backend", BackendRaft)
		}
	case BackendEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			return fmt.Errorf("store.etcd.endpoints is required for the %s backend", BackendEtcd)
		}
	case BackendBolt:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Store.Lock && c.Store.Backend != BackendEtcd {
		return fmt.Errorf("store.lock requires the %s backend", BackendEtcd)
	}

	switch c.Provisioner.Driver {
	case DriverLoopback, DriverEBS:
	default:
		return fmt.Errorf("unknown provisioner driver %q", c.Provisioner.Driver)
	}

	if c.Attach.SettleDelay < 0 || c.Attach.PollInterval < 0 || c.Attach.Timeout < 0 {
		return fmt.Errorf("attach durations must not be negative")
	}
	if c.Cluster.ProbeInterval < 0 || c.Cluster.ProbeTimeout < 0 || c.Cluster.ProbeRetries < 0 {
		return fmt.Errorf("probe settings must not be negative")
	}
	if c.Cluster.ReadOnlyRequestsPerSecond < 0 || c.Cluster.ReadOnlyBurst < 0 {
		return fmt.Errorf("read-only rate limit must not be negative")
	}

	switch log.Level(c.Log.Level) {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	seen := make(map[string]bool, len(c.Templates))
	for _, t := range c.Templates {
		if t.Name == "" {
			return fmt.Errorf("template without a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate template %q", t.Name)
		}
		seen[t.Name] = true
	}

	return nil
}

// InstanceContext returns the lifecycle manager's view of the instance
func (c *Config) InstanceContext() volume.InstanceContext {
	return volume.InstanceContext{
		ApplicationName: c.Instance.Application,
		ServiceName:     c.Instance.Service,
		LocationID:      c.Instance.Location,
		BindAddress:     c.Instance.BindAddress,
		Platform:        c.Instance.Platform,
		Privileged:      c.Instance.Privileged != nil && *c.Instance.Privileged,
	}
}

// AttachSettings returns the attach wait settings
func (c *Config) AttachSettings() volume.AttachSettings {
	return volume.AttachSettings{
		SettleDelay:  c.Attach.SettleDelay,
		PollInterval: c.Attach.PollInterval,
		Timeout:      c.Attach.Timeout,
	}
}

// EtcdStoreConfig returns the etcd store settings
func (c *Config) EtcdStoreConfig() storage.EtcdConfig {
	return storage.EtcdConfig{
		Endpoints:   c.Store.Etcd.Endpoints,
		DialTimeout: c.Store.Etcd.DialTimeout,
		Username:    c.Store.Etcd.Username,
		Password:    c.Store.Etcd.Password,
		Prefix:      c.Store.Etcd.Prefix,
		SessionTTL:  c.Store.Etcd.LeaseTTL,
	}
}

// Logging returns the logger settings
func (c *Config) Logging() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}
