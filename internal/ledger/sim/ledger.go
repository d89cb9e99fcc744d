// Package sim is an in-memory XRP Ledger stand-in for tests and offline
// demos. It implements ledger.Client and ledger.Faucet, validates every
// submission in its own ledger and covers the account, trust line, batch,
// signer list, vault and lending transactions the flow submits.
package sim

import (
	"context"
	"crypto/rand"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	tesSUCCESS = ledger.ResultSuccess

	lsfDefaultRipple uint32 = 0x00800000
	lsfLoanDefault   uint32 = 0x00010000
	lsfLoanImpaired  uint32 = 0x00020000

	rippleEpoch = 946684800
)

type Options struct {
	BaseFee      int64
	FundXRP      decimal.Decimal
	LedgerOffset int
	StartLedger  uint32
	// EnforceGracePeriod rejects LoanManage defaults before the payment due
	// date plus grace period has passed.
	EnforceGracePeriod bool
	Clock              func() time.Time
	Rand               io.Reader
}

func (o Options) withDefaults() Options {
	if o.BaseFee <= 0 {
		o.BaseFee = 10
	}
	if !o.FundXRP.IsPositive() {
		o.FundXRP = decimal.NewFromInt(100)
	}
	if o.LedgerOffset <= 0 {
		o.LedgerOffset = 20
	}
	if o.StartLedger == 0 {
		o.StartLedger = 1000
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.Reader
	}
	return o
}

// Record is one submission as the simulator saw it.
type Record struct {
	Type    string
	Account string
	Hash    string
	Code    string
}

type Ledger struct {
	mu      sync.Mutex
	opts    Options
	logger  logger.Logger
	store   *objectStore
	current uint32
	history []Record

	batchDisabled   bool
	batchInnerFault string
	faults          map[string]string
	funded          int
	failFundAfter   int
	fundErr         error
}

func New(opts Options, log logger.Logger) *Ledger {
	opts = opts.withDefaults()
	return &Ledger{
		opts:          opts,
		logger:        log,
		store:         newObjectStore(),
		current:       opts.StartLedger,
		faults:        make(map[string]string),
		failFundAfter: -1,
	}
}

// DisableBatch makes Batch submissions fail with temDISABLED, as on a
// network without the amendment.
func (l *Ledger) DisableBatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batchDisabled = true
}

// FailBatchInner makes the first inner transaction of every Batch fail with
// code. The Batch itself still reports tesSUCCESS and applies nothing.
func (l *Ledger) FailBatchInner(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batchInnerFault = code
}

// RejectTx makes every submission of txType fail with code. tec codes are
// applied like a real claimed failure: the fee and sequence are consumed.
func (l *Ledger) RejectTx(txType, code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[txType] = code
}

func (l *Ledger) ClearFaults() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = make(map[string]string)
	l.batchDisabled = false
	l.batchInnerFault = ""
	l.failFundAfter = -1
}

// FailFunding lets the next `after` faucet requests succeed and fails every
// one after that with err.
func (l *Ledger) FailFunding(after int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failFundAfter = l.funded + after
	l.fundErr = err
}

// History returns the submissions seen so far, in order.
func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Ledger) Close() error {
	return nil
}

func (l *Ledger) Fund(ctx context.Context) (*ledger.FundedWallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failFundAfter >= 0 && l.funded >= l.failFundAfter {
		msg := "funding disabled"
		if l.fundErr != nil {
			msg = l.fundErr.Error()
		}
		return nil, errors.Wrap(errors.ErrFaucetUnavailable, msg)
	}

	entropy := make([]byte, 16)
	if _, err := io.ReadFull(l.opts.Rand, entropy); err != nil {
		return nil, errors.Wrap(err, "generate seed")
	}
	seed, err := ledger.EncodeEd25519Seed(entropy)
	if err != nil {
		return nil, err
	}
	keys, err := keypairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	address, err := keys.address()
	if err != nil {
		return nil, err
	}

	l.store.Put(accountIndex(address), ledger.Entry{
		"LedgerEntryType": ledger.EntryAccount,
		"Account":         address,
		"Balance":         ledger.XRPToDrops(l.opts.FundXRP).String(),
		"Sequence":        l.current,
		"OwnerCount":      uint32(0),
		"Flags":           uint32(0),
	})
	l.funded++

	return &ledger.FundedWallet{
		Wallet:  ledger.Wallet{Address: address, Seed: seed, PublicKey: keys.publicHex()},
		Balance: l.opts.FundXRP,
	}, nil
}

func (l *Ledger) AccountInfo(ctx context.Context, address string) (*ledger.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.accountRoot(address)
	if acct == nil {
		return nil, errors.Wrap(errors.ErrAccountNotFound, address)
	}
	return &ledger.AccountInfo{
		Address:    address,
		Balance:    decimalField(acct, "Balance"),
		Sequence:   uintField(acct, "Sequence"),
		OwnerCount: uintField(acct, "OwnerCount"),
		Flags:      uintField(acct, "Flags"),
	}, nil
}

func (l *Ledger) AccountLines(ctx context.Context, address string) ([]ledger.TrustLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.accountRoot(address) == nil {
		return nil, errors.Wrap(errors.ErrAccountNotFound, address)
	}

	var lines []ledger.TrustLine
	l.store.each(ledger.EntryTrustLine, func(_ string, e ledger.Entry) {
		lowLimit, _ := e["LowLimit"].(map[string]interface{})
		highLimit, _ := e["HighLimit"].(map[string]interface{})
		low, _ := lowLimit["issuer"].(string)
		high, _ := highLimit["issuer"].(string)
		currency, _ := lowLimit["currency"].(string)
		balance := decimalField(e, "Balance")

		switch address {
		case low:
			limit, _ := ledger.AmountValue(lowLimit)
			lines = append(lines, ledger.TrustLine{Peer: high, Currency: currency, Balance: balance, Limit: limit})
		case high:
			limit, _ := ledger.AmountValue(highLimit)
			lines = append(lines, ledger.TrustLine{Peer: low, Currency: currency, Balance: balance.Neg(), Limit: limit})
		}
	})
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Peer != lines[j].Peer {
			return lines[i].Peer < lines[j].Peer
		}
		return lines[i].Currency < lines[j].Currency
	})
	return lines, nil
}

func (l *Ledger) LedgerEntry(ctx context.Context, index string) (ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.store.Get(strings.ToUpper(index))
	if e == nil {
		return nil, errors.Wrap(errors.ErrEntryNotFound, index)
	}
	out := copyEntry(e)
	out["index"] = strings.ToUpper(index)
	return out, nil
}

func (l *Ledger) accountRoot(address string) ledger.Entry {
	return l.store.Get(accountIndex(address))
}

func (l *Ledger) now() uint32 {
	return uint32(l.opts.Clock().Unix() - rippleEpoch)
}

func decimalField(e ledger.Entry, name string) decimal.Decimal {
	d, _ := e.Decimal(name)
	return d
}

func setDecimal(e ledger.Entry, name string, d decimal.Decimal) {
	e[name] = d.String()
}

func uintField(e ledger.Entry, name string) uint32 {
	return ledger.Transaction(e).Uint(name)
}
