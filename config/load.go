package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trade-copier-go/broker"
	"trade-copier-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string         `yaml:"env"`
	Accounts    AccountsConfig `yaml:"accounts"`
	Copier      CopierConfig   `yaml:"copier"`
	Bridge      BridgeConfig   `yaml:"bridge"`
	Logging     logger.Config  `yaml:"logging"`
	MetricsAddr string         `yaml:"metricsAddr"`
}

// AccountsConfig names the two credential profiles.
type AccountsConfig struct {
	Master broker.Credentials `yaml:"master"`
	Slave  broker.Credentials `yaml:"slave"`
}

// CopierConfig holds the replication settings.
type CopierConfig struct {
	PollIntervalMs int      `yaml:"pollIntervalMs"` // default 1000
	Sizing         string   `yaml:"sizing"`         // proportional or fixed
	FixedVolume    string   `yaml:"fixedVolume"`    // required when sizing=fixed
	Deviation      int      `yaml:"deviation"`      // max slippage in points
	Comment        string   `yaml:"comment"`        // label on replayed orders
	Symbols        []string `yaml:"symbols"`        // fixed-sizing validation set
	JournalPath    string   `yaml:"journalPath"`    // optional sqlite ledger journal
}

// PollInterval returns the poll interval as a duration.
func (c CopierConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// FixedVolumeDecimal parses the configured fixed volume.
func (c CopierConfig) FixedVolumeDecimal() (decimal.Decimal, error) {
	if c.FixedVolume == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(c.FixedVolume)
}

// BridgeConfig points at the terminal bridge endpoint.
type BridgeConfig struct {
	Endpoint  string `yaml:"endpoint"`  // e.g. ws://127.0.0.1:8222/bridge
	TimeoutMs int    `yaml:"timeoutMs"` // per-call deadline, default 10000
}

// Timeout returns the per-call bridge deadline.
func (c BridgeConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging = logger.DefaultConfig()
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides passwords from env
// vars if present, so credentials can stay out of the file.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("COPIER_MASTER_PASSWORD"); v != "" {
		cfg.Accounts.Master.Password = v
	}
	if v := os.Getenv("COPIER_SLAVE_PASSWORD"); v != "" {
		cfg.Accounts.Slave.Password = v
	}
	return cfg, Validate(cfg)
}

// WriteDefault creates a template config so the operator can fill in
// the account credentials, mirroring first-run behavior.
func WriteDefault(path string) error {
	cfg := AppConfig{
		Env: "prod",
		Accounts: AccountsConfig{
			Master: broker.Credentials{Login: 0, Password: "password", Server: "server"},
			Slave:  broker.Credentials{Login: 0, Password: "password", Server: "server"},
		},
		Copier: CopierConfig{
			PollIntervalMs: 1000,
			Sizing:         "proportional",
			Deviation:      20,
			Comment:        "Copied trade",
		},
		Bridge:      BridgeConfig{Endpoint: "ws://127.0.0.1:8222/bridge"},
		Logging:     logger.DefaultConfig(),
		MetricsAddr: ":9100",
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}
