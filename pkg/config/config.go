package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Cache struct {
		StaleThreshold time.Duration `yaml:"stale_threshold" default:"300s"`
		Capacity       int           `yaml:"capacity" default:"0"`
	} `yaml:"cache"`
	Registry struct {
		IPFSGateway      string        `yaml:"ipfs_gateway" default:"https://ipfs.io"`
		FetchTimeout     time.Duration `yaml:"fetch_timeout" default:"30s"`
		BootstrapHash    string        `yaml:"bootstrap_hash"`
		BootstrapVersion string        `yaml:"bootstrap_version"`
		MinVersion       string        `yaml:"min_version" default:"0.0.0"`
		MaxVersion       string        `yaml:"max_version"`
	} `yaml:"registry"`
	ActiveSignalIDs []string `yaml:"active_signal_ids"`
	Supervisor      struct {
		CheckInterval time.Duration `yaml:"check_interval" default:"5s"`
		GraceWindow   time.Duration `yaml:"grace_window" default:"60s"`
	} `yaml:"supervisor"`
	Refresh struct {
		Interval       time.Duration `yaml:"interval" default:"0s"`
		PublishTimeout time.Duration `yaml:"publish_timeout" default:"5s"`
	} `yaml:"refresh"`
	Store struct {
		Backend string `yaml:"backend" default:"none"`
		Redis   struct {
			Addr     string        `yaml:"addr" default:"localhost:6379"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db" default:"0"`
			Prefix   string        `yaml:"prefix" default:"signalfeed"`
			TTL      time.Duration `yaml:"ttl" default:"0s"`
		} `yaml:"redis"`
		ClickHouse struct {
			Host        string        `yaml:"host" default:"localhost"`
			Port        int           `yaml:"port" default:"9000"`
			Database    string        `yaml:"database" default:"signalfeed"`
			Table       string        `yaml:"table" default:"kv_store"`
			User        string        `yaml:"user" default:"default"`
			Password    string        `yaml:"password"`
			UseHTTP     bool          `yaml:"use_http"`
			DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
			ReadTimeout time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"clickhouse"`
	} `yaml:"store"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		PricesTopic  string   `yaml:"prices_topic" default:"signal_prices"`
		LogsTopic    string   `yaml:"logs_topic"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Sources struct {
		Binance struct {
			Enabled           bool          `yaml:"enabled"`
			URL               string        `yaml:"url" default:"wss://stream.binance.com:9443/stream"`
			ConnectionTimeout time.Duration `yaml:"connection_timeout" default:"150s"`
			BackoffMin        time.Duration `yaml:"backoff_min" default:"1s"`
			BackoffMax        time.Duration `yaml:"backoff_max" default:"64s"`
		} `yaml:"binance"`
		CoinGecko struct {
			Enabled   bool          `yaml:"enabled"`
			URL       string        `yaml:"url" default:"https://api.coingecko.com/api/v3/"`
			APIKey    string        `yaml:"api_key"`
			UserAgent string        `yaml:"user_agent" default:"signalfeed"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Timeout   time.Duration `yaml:"timeout"`
			RateLimit float64       `yaml:"rate_limit" default:"0.5"`
			ChunkSize int           `yaml:"chunk_size" default:"200"`
		} `yaml:"coingecko"`
		Kafka struct {
			Enabled           bool          `yaml:"enabled"`
			SourceID          string        `yaml:"source_id" default:"kafka"`
			Topic             string        `yaml:"topic" default:"ticks"`
			GroupID           string        `yaml:"group_id" default:"signalfeed"`
			ConnectionTimeout time.Duration `yaml:"connection_timeout" default:"60s"`
			BackoffMin        time.Duration `yaml:"backoff_min" default:"1s"`
			BackoffMax        time.Duration `yaml:"backoff_max" default:"64s"`
		} `yaml:"kafka"`
	} `yaml:"sources"`
}

// Default returns a config with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("REGISTRY_BOOTSTRAP_HASH"); v != "" {
		c.Registry.BootstrapHash = v
	}
	if v := getenv("REGISTRY_BOOTSTRAP_VERSION"); v != "" {
		c.Registry.BootstrapVersion = v
	}
	if v := getenv("IPFS_GATEWAY"); v != "" {
		c.Registry.IPFSGateway = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		c.Sources.CoinGecko.APIKey = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// VersionRequirement renders the accepted registry version range.
func (c *Config) VersionRequirement() string {
	req := ">=" + c.Registry.MinVersion
	if c.Registry.MaxVersion != "" {
		req += ", <" + c.Registry.MaxVersion
	}
	return req
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Cache.StaleThreshold <= 0 {
		return fmt.Errorf("cache.stale_threshold must be positive")
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity cannot be negative")
	}
	if c.Registry.IPFSGateway == "" {
		return fmt.Errorf("registry.ipfs_gateway is required")
	}
	if !validSemver(c.Registry.MinVersion) {
		return fmt.Errorf("registry.min_version %q is not a semantic version", c.Registry.MinVersion)
	}
	if c.Registry.MaxVersion != "" && !validSemver(c.Registry.MaxVersion) {
		return fmt.Errorf("registry.max_version %q is not a semantic version", c.Registry.MaxVersion)
	}
	if c.Registry.BootstrapHash != "" && c.Registry.BootstrapVersion == "" {
		return fmt.Errorf("registry.bootstrap_version is required with registry.bootstrap_hash")
	}
	switch c.Store.Backend {
	case "none", "memory", "redis", "clickhouse":
	default:
		return fmt.Errorf("store.backend must be 'none', 'memory', 'redis' or 'clickhouse', got '%s'", c.Store.Backend)
	}
	if c.Supervisor.CheckInterval <= 0 || c.Supervisor.GraceWindow <= 0 {
		return fmt.Errorf("supervisor.check_interval and supervisor.grace_window must be positive")
	}
	if (c.Kafka.Enabled || c.Sources.Kafka.Enabled) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is used")
	}
	if c.Sources.CoinGecko.Enabled && c.Sources.CoinGecko.Interval <= 0 {
		return fmt.Errorf("sources.coingecko.interval must be positive")
	}
	return nil
}

func validSemver(v string) bool {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}
