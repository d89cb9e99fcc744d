package wallet

import (
	"context"
	"sync"

	"loanflow/internal/domain"
	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"

	"github.com/shopspring/decimal"
)

// Provisioner obtains one funded identity per party role.
type Provisioner struct {
	faucet ledger.Faucet
	logger logger.Logger
}

func NewProvisioner(faucet ledger.Faucet, log logger.Logger) *Provisioner {
	return &Provisioner{
		faucet: faucet,
		logger: log,
	}
}

// Provision funds all roles concurrently. A single failure fails the whole
// call; identities already funded are discarded and nothing is retried.
func (p *Provisioner) Provision(ctx context.Context, roles []domain.Role) (map[domain.Role]*ledger.FundedWallet, error) {
	type outcome struct {
		role   domain.Role
		wallet *ledger.FundedWallet
		err    error
	}

	results := make(chan outcome, len(roles))
	var wg sync.WaitGroup
	for _, role := range roles {
		wg.Add(1)
		go func(role domain.Role) {
			defer wg.Done()
			w, err := p.faucet.Fund(ctx)
			results <- outcome{role: role, wallet: w, err: err}
		}(role)
	}
	wg.Wait()
	close(results)

	wallets := make(map[domain.Role]*ledger.FundedWallet, len(roles))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = errors.Wrap(errors.ErrProvisioningFailed, string(r.role)+": "+r.err.Error())
			}
			continue
		}
		wallets[r.role] = r.wallet
	}
	if firstErr != nil {
		p.logger.Error("Wallet provisioning failed", map[string]interface{}{"error": firstErr})
		return nil, firstErr
	}

	for _, role := range roles {
		p.logger.Info("Wallet provisioned", map[string]interface{}{
			"role":    role,
			"address": wallets[role].Address,
			"balance": wallets[role].Balance.String(),
		})
	}
	return wallets, nil
}

// BalanceReader is the part of ledger.Client balance lookups need.
type BalanceReader interface {
	AccountInfo(ctx context.Context, address string) (*ledger.AccountInfo, error)
	AccountLines(ctx context.Context, address string) ([]ledger.TrustLine, error)
}

type Balance struct {
	XRP      decimal.Decimal `json:"xrp"`
	Token    decimal.Decimal `json:"token"`
	HasToken bool            `json:"has_token"`
}

// ReadBalance returns the XRP balance of address and, when it holds a line
// for currency with issuer, the token balance.
func ReadBalance(ctx context.Context, r BalanceReader, address, currency, issuer string) (*Balance, error) {
	info, err := r.AccountInfo(ctx, address)
	if err != nil {
		return nil, err
	}
	b := &Balance{XRP: info.XRP()}
	if currency == "" || issuer == "" || issuer == address {
		return b, nil
	}

	lines, err := r.AccountLines(ctx, address)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if line.Peer == issuer && line.Currency == currency {
			b.Token, b.HasToken = line.Balance, true
			break
		}
	}
	return b, nil
}
