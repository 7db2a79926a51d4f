// Package config loads node configuration from flags, OCPP_NODE_* environment
// variables and an HCL (or YAML/JSON) config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/signing"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// EnvPrefix prefixes environment overrides, e.g. OCPP_NODE_NODE_ID.
const EnvPrefix = "OCPP_NODE"

type Config struct {
	NodeID        ocpp.NodeID         `mapstructure:"node_id"`
	DataDir       string              `mapstructure:"data_dir"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	Exchange      ExchangeConfig      `mapstructure:"exchange"`
	Events        EventsConfig        `mapstructure:"events"`
	Signing       SigningConfig       `mapstructure:"signing"`
	Verification  VerificationConfig  `mapstructure:"verification"`
	Routing       RoutingConfig       `mapstructure:"routing"`
	Journal       BackendConfig       `mapstructure:"journal"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// UpstreamConfig is the direct connection, usually to the CSMS.
type UpstreamConfig struct {
	ID               ocpp.NodeID   `mapstructure:"id"`
	URL              string        `mapstructure:"url"`
	Subprotocols     []string      `mapstructure:"subprotocols"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type ExchangeConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

type EventsConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

type SigningConfig struct {
	// Keys are keyring ids loaded as signing keys at startup.
	Keys       []string              `mapstructure:"keys"`
	Passphrase string                `mapstructure:"passphrase"`
	Rules      []signing.SigningRule `mapstructure:"rules"`
}

type VerificationConfig struct {
	// TrustedKeys maps key ids to "algo:hex" public keys.
	TrustedKeys map[string]string          `mapstructure:"trusted_keys"`
	Rules       []signing.VerificationRule `mapstructure:"rules"`
}

type RoutingConfig struct {
	Neighbors []NeighborConfig `mapstructure:"neighbors"`
	Routes    []RouteConfig    `mapstructure:"routes"`
}

type NeighborConfig struct {
	ID  ocpp.NodeID `mapstructure:"id"`
	URL string      `mapstructure:"url"`
}

type RouteConfig struct {
	Destination ocpp.NodeID `mapstructure:"destination"`
	Via         ocpp.NodeID `mapstructure:"via"`
}

type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

type ObservabilityConfig struct {
	LogLevel       string  `mapstructure:"log_level"`
	LogFormat      string  `mapstructure:"log_format"`
	MetricsAddr    string  `mapstructure:"metrics_addr"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string  `mapstructure:"otlp_protocol"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
}

// Policy returns the signing and verification rules as one policy.
func (c Config) Policy() signing.Policy {
	return signing.Policy{Signing: c.Signing.Rules, Verification: c.Verification.Rules}
}

// KeyringDir is where signing keys live.
func (c Config) KeyringDir() string {
	return filepath.Join(c.DataDir, "keys")
}

// Validate checks cross-field constraints viper cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	if c.Upstream.URL != "" && c.Upstream.ID == "" {
		errs = append(errs, errors.New("upstream.id is required when upstream.url is set"))
	}
	if c.Exchange.DefaultTimeout < 0 {
		errs = append(errs, errors.New("exchange.default_timeout must not be negative"))
	}

	neighbors := make(map[ocpp.NodeID]bool, len(c.Routing.Neighbors))
	for i, n := range c.Routing.Neighbors {
		switch {
		case n.ID == "" || n.URL == "":
			errs = append(errs, fmt.Errorf("routing.neighbors[%d]: id and url are required", i))
		case neighbors[n.ID]:
			errs = append(errs, fmt.Errorf("routing.neighbors[%d]: duplicate id %q", i, n.ID))
		case n.ID == c.Upstream.ID:
			errs = append(errs, fmt.Errorf("routing.neighbors[%d]: %q is the upstream", i, n.ID))
		}
		neighbors[n.ID] = true
	}
	for i, r := range c.Routing.Routes {
		if r.Destination == "" || r.Via == "" {
			errs = append(errs, fmt.Errorf("routing.routes[%d]: destination and via are required", i))
			continue
		}
		if !neighbors[r.Via] {
			errs = append(errs, fmt.Errorf("routing.routes[%d]: via %q is not a neighbor", i, r.Via))
		}
	}
	return errors.Join(errs...)
}

// DefaultDataDir returns ~/.ocpp-node.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ocpp-node"
	}
	return filepath.Join(home, ".ocpp-node")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "")
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("upstream.id", "")
	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.subprotocols", []string{"ocpp2.1", "ocpp2.0.1"})
	v.SetDefault("upstream.handshake_timeout", "10s")

	v.SetDefault("exchange.default_timeout", "30s")
	v.SetDefault("events.max_concurrency", 0)
	v.SetDefault("signing.passphrase", "")

	v.SetDefault("journal.backend", "badger")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", ":9090")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.sample_ratio", 1.0)
	v.SetDefault("observability.service_name", "ocpp-node")
	v.SetDefault("observability.service_version", "dev")
}

// BindFlags registers the node's persistent flags on cmd and binds them.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	f.String("config", "", "config file path")
	f.String("node-id", "", "this node's id")
	f.String("data-dir", "", "data directory (default ~/.ocpp-node)")
	f.String("upstream", "", "upstream websocket url")
	f.String("upstream-id", "", "upstream node id")
	f.Duration("timeout", 0, "default exchange timeout")
	f.String("journal", "", "journal backend")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.String("metrics-addr", "", "metrics HTTP listen address")

	_ = v.BindPFlag("node_id", f.Lookup("node-id"))
	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("upstream.url", f.Lookup("upstream"))
	_ = v.BindPFlag("upstream.id", f.Lookup("upstream-id"))
	_ = v.BindPFlag("exchange.default_timeout", f.Lookup("timeout"))
	_ = v.BindPFlag("journal.backend", f.Lookup("journal"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
}

// Load reads config from flags, env, and file, returning the merged Config.
// A missing config file is only an error when configFile names one.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("hcl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ocpp-node")
		v.AddConfigPath("/etc/ocpp-node")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	return cfg, nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
