// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return c.ValidateLedger()
}

// ValidateLedger checks the ledger endpoints; the simulator needs neither.
func (c *Config) ValidateLedger() error {
	if c.Ledger.Simulate {
		return nil
	}

	var missing []string
	if !strings.HasPrefix(c.Ledger.ServerURL, "ws://") && !strings.HasPrefix(c.Ledger.ServerURL, "wss://") {
		missing = append(missing, "LEDGER_SERVER_URL (ws:// or wss://)")
	}
	if strings.TrimSpace(c.Ledger.FaucetURL) == "" {
		missing = append(missing, "LEDGER_FAUCET_URL")
	}
	if c.Ledger.SubmitTimeout <= 0 {
		missing = append(missing, "LEDGER_SUBMIT_TIMEOUT")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid ledger configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
