package rippled

import (
	"context"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"

	"github.com/shopspring/decimal"
)

func (c *Client) AccountInfo(ctx context.Context, address string) (*ledger.AccountInfo, error) {
	var res struct {
		AccountData struct {
			Account    string `json:"Account"`
			Balance    string `json:"Balance"`
			Sequence   uint32 `json:"Sequence"`
			OwnerCount uint32 `json:"OwnerCount"`
			Flags      uint32 `json:"Flags"`
		} `json:"account_data"`
	}
	err := c.request(ctx, "account_info", map[string]interface{}{
		"account":      address,
		"ledger_index": "current",
	}, &res)
	if err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(res.AccountData.Balance)
	if err != nil {
		return nil, errors.Wrap(err, "parse balance")
	}
	return &ledger.AccountInfo{
		Address:    res.AccountData.Account,
		Balance:    balance,
		Sequence:   res.AccountData.Sequence,
		OwnerCount: res.AccountData.OwnerCount,
		Flags:      res.AccountData.Flags,
	}, nil
}

func (c *Client) AccountLines(ctx context.Context, address string) ([]ledger.TrustLine, error) {
	var res struct {
		Lines []struct {
			Account  string `json:"account"`
			Balance  string `json:"balance"`
			Currency string `json:"currency"`
			Limit    string `json:"limit"`
		} `json:"lines"`
	}
	err := c.request(ctx, "account_lines", map[string]interface{}{
		"account":      address,
		"ledger_index": "validated",
	}, &res)
	if err != nil {
		return nil, err
	}

	lines := make([]ledger.TrustLine, 0, len(res.Lines))
	for _, l := range res.Lines {
		balance, _ := decimal.NewFromString(l.Balance)
		limit, _ := decimal.NewFromString(l.Limit)
		lines = append(lines, ledger.TrustLine{
			Peer:     l.Account,
			Currency: l.Currency,
			Balance:  balance,
			Limit:    limit,
		})
	}
	return lines, nil
}

func (c *Client) LedgerEntry(ctx context.Context, index string) (ledger.Entry, error) {
	var res struct {
		Index string                 `json:"index"`
		Node  map[string]interface{} `json:"node"`
	}
	err := c.request(ctx, "ledger_entry", map[string]interface{}{
		"index":        index,
		"ledger_index": "validated",
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.Node == nil {
		return nil, errors.ErrEntryNotFound
	}

	entry := ledger.Entry(res.Node)
	if _, ok := entry["index"]; !ok {
		entry["index"] = res.Index
	}
	return entry, nil
}

func (c *Client) baseFee(ctx context.Context) (decimal.Decimal, error) {
	var res struct {
		Drafts struct {
			BaseFee       string `json:"base_fee"`
			OpenLedgerFee string `json:"open_ledger_fee"`
		} `json:"drafts"`
	}
	if err := c.request(ctx, "fee", nil, &res); err != nil {
		return decimal.Zero, err
	}

	base, err := decimal.NewFromString(res.Drafts.BaseFee)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse base fee")
	}
	if open, err := decimal.NewFromString(res.Drafts.OpenLedgerFee); err == nil && open.GreaterThan(base) {
		base = open
	}
	return base, nil
}

func (c *Client) currentLedger(ctx context.Context) (uint32, error) {
	var res struct {
		LedgerCurrentIndex uint32 `json:"ledger_current_index"`
	}
	if err := c.request(ctx, "ledger_current", nil, &res); err != nil {
		return 0, err
	}
	return res.LedgerCurrentIndex, nil
}

func (c *Client) validatedLedger(ctx context.Context) (uint32, error) {
	var res struct {
		LedgerIndex uint32 `json:"ledger_index"`
	}
	if err := c.request(ctx, "ledger", map[string]interface{}{"ledger_index": "validated"}, &res); err != nil {
		return 0, err
	}
	return res.LedgerIndex, nil
}
