package config

import (
	"errors"
	"fmt"
)

// Validate ensures required fields are present and consistent.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if err := validateAccount("master", cfg.Accounts.Master.Login, cfg.Accounts.Master.Server); err != nil {
		return err
	}
	if err := validateAccount("slave", cfg.Accounts.Slave.Login, cfg.Accounts.Slave.Server); err != nil {
		return err
	}
	if cfg.Accounts.Master.Login == cfg.Accounts.Slave.Login &&
		cfg.Accounts.Master.Server == cfg.Accounts.Slave.Server {
		return errors.New("master and slave must be different accounts")
	}
	if cfg.Bridge.Endpoint == "" {
		return errors.New("bridge.endpoint is required")
	}
	if cfg.Copier.PollIntervalMs < 0 {
		return errors.New("copier.pollIntervalMs must be >= 0")
	}
	if cfg.Copier.Deviation < 0 {
		return errors.New("copier.deviation must be >= 0")
	}
	switch cfg.Copier.Sizing {
	case "", "proportional":
	case "fixed":
		vol, err := cfg.Copier.FixedVolumeDecimal()
		if err != nil {
			return fmt.Errorf("copier.fixedVolume: %w", err)
		}
		if vol.Sign() <= 0 {
			return errors.New("copier.fixedVolume must be > 0 when sizing is fixed")
		}
		if len(cfg.Copier.Symbols) == 0 {
			return errors.New("copier.symbols is required when sizing is fixed")
		}
	default:
		return fmt.Errorf("copier.sizing must be proportional or fixed, got %q", cfg.Copier.Sizing)
	}
	return nil
}

func validateAccount(name string, login int64, server string) error {
	if login <= 0 {
		return fmt.Errorf("accounts.%s.login is required", name)
	}
	if server == "" {
		return fmt.Errorf("accounts.%s.server is required", name)
	}
	return nil
}
