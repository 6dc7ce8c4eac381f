package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/scroll-tech/rpc-auth-proxy/internal/models"
)

// SignerKey is one configured JWT signing key.
type SignerKey struct {
	KID    string `mapstructure:"kid"`
	Secret string `mapstructure:"secret"`
}

// Config is the read-only process configuration: loaded once at startup,
// never mutated afterwards.
type Config struct {
	BindAddress  string `mapstructure:"bind_address"`
	UpstreamURL  string `mapstructure:"upstream_url"`
	L2RPCURL     string `mapstructure:"l2_rpc_url"`
	SIWEDomain   string `mapstructure:"siwe_domain"`
	AllowOrigins string `mapstructure:"allow_origins"`
	LogLevel     string `mapstructure:"log_level"`

	AdminKeys     []string    `mapstructure:"admin_keys"`
	JWTExpirySecs int         `mapstructure:"jwt_expiry_secs"`
	DefaultKID    string      `mapstructure:"default_kid"`
	JWTSignerKeys []SignerKey `mapstructure:"jwt_signer_keys"`
}

// Load resolves configuration with precedence CLI > env > config file >
// built-in defaults. args is the raw command line (without argv[0]).
func Load(args []string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	fs := pflag.NewFlagSet("rpc-auth-proxy", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to TOML config file")
	fs.String("bind-address", "", "HTTP listen address")
	fs.String("upstream-url", "", "forwarded-to JSON-RPC endpoint")
	fs.String("l2-rpc-url", "", "JSON-RPC endpoint for on-chain signature verification")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	if *configPath != "" {
		v.SetConfigFile(*configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default config file is fine; an explicit --config that
		// cannot be read is not.
		if *configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Allow environment variables to override the config file and defaults
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("bind_address", "0.0.0.0:8080")
	v.SetDefault("upstream_url", "http://validium-sequencer:8545")
	v.SetDefault("l2_rpc_url", "http://localhost:8545")
	v.SetDefault("jwt_expiry_secs", 3600)
	v.SetDefault("log_level", "info")
	v.SetDefault("allow_origins", "*")

	// CLI flags win over everything else
	for flagName, key := range map[string]string{
		"bind-address": "bind_address",
		"upstream-url": "upstream_url",
		"l2-rpc-url":   "l2_rpc_url",
	} {
		if f := fs.Lookup(flagName); f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the startup invariants. The process refuses to start on
// any violation.
func (c *Config) Validate() error {
	if c.BindAddress == "" {
		return errors.New("bind_address is required")
	}
	if c.UpstreamURL == "" {
		return errors.New("upstream_url is required")
	}
	if c.L2RPCURL == "" {
		return errors.New("l2_rpc_url is required")
	}
	if c.JWTExpirySecs <= 0 {
		return errors.New("jwt_expiry_secs must be positive")
	}
	if len(c.JWTSignerKeys) == 0 {
		return errors.New("jwt_signer_keys must not be empty")
	}

	seen := make(map[string]bool, len(c.JWTSignerKeys))
	for _, key := range c.JWTSignerKeys {
		if key.KID == "" {
			return errors.New("jwt_signer_keys entry with empty kid")
		}
		if key.Secret == "" {
			return fmt.Errorf("jwt_signer_keys entry %q with empty secret", key.KID)
		}
		if seen[key.KID] {
			return fmt.Errorf("duplicate kid %q in jwt_signer_keys", key.KID)
		}
		seen[key.KID] = true
	}
	if !seen[c.DefaultKID] {
		return fmt.Errorf("default_kid %q does not reference a jwt_signer_keys entry", c.DefaultKID)
	}
	return nil
}

// SignerKeys converts the configured keys into key ring entries.
func (c *Config) SignerKeys() []models.SignerKey {
	keys := make([]models.SignerKey, len(c.JWTSignerKeys))
	for i, key := range c.JWTSignerKeys {
		keys[i] = models.SignerKey{KID: key.KID, Secret: []byte(key.Secret)}
	}
	return keys
}

// Expiry returns the configured token lifetime.
func (c *Config) Expiry() time.Duration {
	return time.Duration(c.JWTExpirySecs) * time.Second
}
