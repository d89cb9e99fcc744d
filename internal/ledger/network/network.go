// Package network opens the ledger a run talks to: the in-memory simulator
// or a rippled server plus its faucet.
package network

import (
	"context"

	"loanflow/internal/ledger"
	"loanflow/internal/ledger/faucet"
	"loanflow/internal/ledger/rippled"
	"loanflow/internal/ledger/sim"
	"loanflow/pkg/config"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"
)

// Open connects according to cfg. The caller closes the returned client.
func Open(ctx context.Context, cfg config.LedgerConfig, log logger.Logger) (ledger.Client, ledger.Faucet, error) {
	if cfg.Simulate {
		l := sim.New(sim.Options{LedgerOffset: cfg.LedgerOffset}, log.WithFields(map[string]interface{}{"component": "sim"}))
		log.Info("Using in-memory ledger simulator", nil)
		return l, l, nil
	}

	client, err := rippled.Dial(ctx, cfg.ServerURL, rippled.Options{
		PollInterval:  cfg.PollInterval,
		LedgerOffset:  cfg.LedgerOffset,
		SubmitTimeout: cfg.SubmitTimeout,
	}, log.WithFields(map[string]interface{}{"component": "rippled"}))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to "+cfg.ServerURL)
	}

	f := faucet.New(cfg.FaucetURL, log.WithFields(map[string]interface{}{"component": "faucet"}),
		faucet.WithChecker(client, cfg.PollInterval))

	log.Info("Connected to ledger", map[string]interface{}{"server": cfg.ServerURL, "faucet": cfg.FaucetURL})
	return client, f, nil
}
