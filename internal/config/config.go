// config.go - Configuration for the noteflow client and development ledger.
//
// Values come from the defaults below, overlaid by a YAML file, overlaid by NOTEFLOW_*
// environment variables. Command line flags are applied last by cmd/noteflow.

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"noteflow/internal/faucet"
	"noteflow/internal/note"
)

const (
	EnvPrefix       = "noteflow"
	DefaultDataDir  = ".noteflow"
	DefaultBindAddr = "127.0.0.1:7575"
)

type contextKey struct{}

// WithContext stores cfg in ctx for the commands that run under it.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext returns the configuration stored by WithContext, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(contextKey{}).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// DevnetConfig holds the settings of `noteflow devnet serve`.
type DevnetConfig struct {
	BindAddr      string        `yaml:"bindAddr"      split_words:"true"`
	BlockInterval time.Duration `yaml:"blockInterval" split_words:"true"`
	// ProduceOnSync seals a block on every resync, useful for a local ledger.
	ProduceOnSync bool    `yaml:"produceOnSync" split_words:"true"`
	RateLimit     float64 `yaml:"rateLimit"     split_words:"true"`
	RateBurst     int     `yaml:"rateBurst"     split_words:"true"`
	MaxPending    int     `yaml:"maxPending"    split_words:"true"`
}

// Config is the complete noteflow configuration.
type Config struct {
	// RPCEndpoint is the ledger URL. Empty uses a local ledger stored in DataDir.
	RPCEndpoint string        `yaml:"rpcEndpoint" split_words:"true"`
	RPCTimeout  time.Duration `yaml:"rpcTimeout"  split_words:"true"`
	// DataDir holds the submission journal and the local ledger state.
	DataDir string `yaml:"dataDir" split_words:"true"`

	PollInterval    time.Duration `yaml:"pollInterval"    split_words:"true"`
	MaxWait         time.Duration `yaml:"maxWait"         split_words:"true"`
	NotFoundRetries int           `yaml:"notFoundRetries" split_words:"true"`
	BackoffFactor   float64       `yaml:"backoffFactor"   split_words:"true"`
	MaxPollInterval time.Duration `yaml:"maxPollInterval" split_words:"true"`

	// Faucet is the default faucet for mint and balance.
	Faucet        string `yaml:"faucet"`
	LayoutVersion uint8  `yaml:"layoutVersion" split_words:"true"`

	Devnet DevnetConfig `yaml:"devnet"`
	Debug  bool         `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RPCTimeout:      10 * time.Second,
		DataDir:         DefaultDataDir,
		PollInterval:    2 * time.Second,
		MaxWait:         2 * time.Minute,
		NotFoundRetries: 3,
		BackoffFactor:   1.5,
		MaxPollInterval: 15 * time.Second,
		LayoutVersion:   1,
		Devnet: DevnetConfig{
			BindAddr:      DefaultBindAddr,
			BlockInterval: 5 * time.Second,
			RateLimit:     50,
			RateBurst:     100,
			MaxPending:    1000,
		},
	}
}

// Load builds the configuration. With an empty configFile, ~/.noteflow/noteflow.yaml
// is used when it exists.
func Load(configFile string) (*Config, error) {
	cfg := Default()
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, DefaultDataDir, "noteflow.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("pollInterval must be positive"))
	}
	if c.MaxWait < 0 {
		errs = append(errs, errors.New("maxWait must not be negative"))
	}
	if c.NotFoundRetries < 0 {
		errs = append(errs, errors.New("notFoundRetries must not be negative"))
	}
	if c.BackoffFactor != 0 && c.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("backoffFactor must be at least 1, got %g", c.BackoffFactor))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, errors.New("rpcTimeout must be positive"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("dataDir must be set"))
	}
	if _, err := faucet.LayoutForVersion(c.LayoutVersion); err != nil {
		errs = append(errs, err)
	}
	if c.Faucet != "" {
		if _, err := c.FaucetID(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Devnet.RateLimit < 0 || c.Devnet.RateBurst < 0 {
		errs = append(errs, errors.New("devnet rate limits must not be negative"))
	}
	return errors.Join(errs...)
}

// FaucetID parses the configured default faucet.
func (c *Config) FaucetID() (note.AccountID, error) {
	if c.Faucet == "" {
		return note.AccountID{}, errors.New("no faucet configured")
	}
	id, err := note.ParseAccountID(c.Faucet)
	if err != nil {
		return note.AccountID{}, fmt.Errorf("faucet: %w", err)
	}
	return id, nil
}

// Layout returns the faucet storage layout named by LayoutVersion.
func (c *Config) Layout() (faucet.Layout, error) {
	return faucet.LayoutForVersion(c.LayoutVersion)
}

// JournalDir is where the submission journal lives.
func (c *Config) JournalDir() string {
	return c.DataDir
}

// DevnetStatePath is the state file of the local ledger.
func (c *Config) DevnetStatePath() string {
	return filepath.Join(c.DataDir, "devnet.json")
}
