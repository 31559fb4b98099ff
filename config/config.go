// Package config loads marketplace configuration from YAML files and
// environment variables.
//
// Sources are merged in the following order (later overrides earlier):
//  1. Default values
//  2. Configuration file (marketplace.yaml in standard locations)
//  3. Environment variables with the MARKETPLACE_ prefix
//
// Nested keys map to environment variables via underscores, for example
// MARKETPLACE_SERVER_PORT=8000 or MARKETPLACE_SSH_PRIVATE_KEY_PATH=/etc/key.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8000)
	Port int `mapstructure:"port"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig contains deployment persistence settings.
type StoreConfig struct {
	// SnapshotPath is where the deployment snapshot file is written
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// SSHConfig contains settings for the marketplace deploy key and
// target host policy.
type SSHConfig struct {
	// PrivateKeyPath is the path to the marketplace SSH private key.
	// The matching public key is read from PrivateKeyPath + ".pub".
	PrivateKeyPath string `mapstructure:"private_key_path"`

	// AllowInternal permits deployments to loopback and private
	// addresses. Meant for development only.
	AllowInternal bool `mapstructure:"allow_internal"`
}

// MarketplaceConfig contains catalog and publishing settings.
type MarketplaceConfig struct {
	// BaseDomain is the domain under which tunnel subdomains are
	// published (default: 2n6.me)
	BaseDomain string `mapstructure:"base_domain"`

	// CatalogPath optionally points to a YAML file replacing the
	// built-in application catalog
	CatalogPath string `mapstructure:"catalog_path"`
}

// AlephConfig contains the external network endpoints.
type AlephConfig struct {
	// APIURL is the Aleph message API base URL
	APIURL string `mapstructure:"api_url"`

	// SchedulerURL is the allocation scheduler base URL
	SchedulerURL string `mapstructure:"scheduler_url"`

	// GatewayURL is the subdomain gateway base URL
	GatewayURL string `mapstructure:"gateway_url"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// Config is the root configuration for the marketplace service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	SSH         SSHConfig         `mapstructure:"ssh"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Aleph       AlephConfig       `mapstructure:"aleph"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// PublicKeyPath derives the public key location from the private key path.
func (c *Config) PublicKeyPath() string {
	return c.SSH.PrivateKeyPath + ".pub"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("store.snapshot_path", "/var/lib/marketplace/deployments.json")

	v.SetDefault("ssh.private_key_path", "/etc/marketplace/deploy_key")
	v.SetDefault("ssh.allow_internal", false)

	v.SetDefault("marketplace.base_domain", "2n6.me")
	v.SetDefault("marketplace.catalog_path", "")

	v.SetDefault("aleph.api_url", "https://api2.aleph.im/api/v0")
	v.SetDefault("aleph.scheduler_url", "https://scheduler.api.aleph.cloud/api/v0")
	v.SetDefault("aleph.gateway_url", "https://gw.2n6.me")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from cfgFile and the environment. If cfgFile
// is empty, marketplace.yaml is searched for in the working directory,
// ./configs, $HOME/.marketplace, and /etc/marketplace; a missing file is
// not an error and defaults apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("marketplace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.marketplace")
		v.AddConfigPath("/etc/marketplace")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MARKETPLACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Store.SnapshotPath == "" {
		return fmt.Errorf("store.snapshot_path is required")
	}
	if cfg.SSH.PrivateKeyPath == "" {
		return fmt.Errorf("ssh.private_key_path is required")
	}
	if cfg.Marketplace.BaseDomain == "" {
		return fmt.Errorf("marketplace.base_domain is required")
	}
	return nil
}
