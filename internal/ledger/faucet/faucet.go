// Package faucet funds fresh test network accounts over the public faucet
// HTTP API.
package faucet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"

	"github.com/shopspring/decimal"
)

// AccountChecker confirms that a funded account is visible on the ledger.
type AccountChecker interface {
	AccountInfo(ctx context.Context, address string) (*ledger.AccountInfo, error)
}

type Faucet struct {
	url          string
	client       *http.Client
	checker      AccountChecker
	pollInterval time.Duration
	logger       logger.Logger
}

type Option func(*Faucet)

// WithChecker makes Fund wait until the new account shows up on the ledger.
func WithChecker(c AccountChecker, pollInterval time.Duration) Option {
	return func(f *Faucet) {
		f.checker = c
		if pollInterval > 0 {
			f.pollInterval = pollInterval
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(f *Faucet) { f.client = c }
}

func New(url string, log logger.Logger, opts ...Option) *Faucet {
	f := &Faucet{
		url:          strings.TrimRight(url, "/"),
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: time.Second,
		logger:       log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type fundResponse struct {
	Account struct {
		Address        string `json:"address"`
		ClassicAddress string `json:"classicAddress"`
		Secret         string `json:"secret"`
	} `json:"account"`
	Seed    string          `json:"seed"`
	Balance decimal.Decimal `json:"balance"`
	Amount  decimal.Decimal `json:"amount"`
}

// Fund creates and funds a new account. The faucet generates the keys.
func (f *Faucet) Fund(ctx context.Context) (*ledger.FundedWallet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url+"/accounts", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrFaucetUnavailable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errors.Wrap(errors.ErrFaucetUnavailable, fmt.Sprintf("faucet returned status %d", resp.StatusCode))
	}

	var out fundResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode faucet response: %w", err)
	}

	address := out.Account.ClassicAddress
	if address == "" {
		address = out.Account.Address
	}
	seed := out.Seed
	if seed == "" {
		seed = out.Account.Secret
	}
	if address == "" || seed == "" {
		return nil, errors.Wrap(errors.ErrFaucetUnavailable, "faucet response has no account")
	}

	balance := out.Balance
	if balance.IsZero() {
		balance = out.Amount
	}

	w := &ledger.FundedWallet{
		Wallet:  ledger.Wallet{Address: address, Seed: seed},
		Balance: balance,
	}

	if f.checker != nil {
		info, err := f.awaitAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		w.Balance = info.XRP()
	}

	f.logger.Debug("Faucet funded account", map[string]interface{}{
		"address": address,
		"balance": w.Balance.String(),
	})
	return w, nil
}

func (f *Faucet) awaitAccount(ctx context.Context, address string) (*ledger.AccountInfo, error) {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		info, err := f.checker.AccountInfo(ctx, address)
		if err == nil && info.Balance.IsPositive() {
			return info, nil
		}
		if err != nil && !errors.Is(err, errors.ErrAccountNotFound) {
			return nil, errors.Wrap(err, "await funded account")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
