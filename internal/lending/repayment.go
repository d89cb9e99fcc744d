package lending

import (
	"loanflow/internal/ledger"

	"github.com/shopspring/decimal"
)

const (
	secondsPerYear = 365 * 24 * 3600
	rateScale      = 100000
	tokenPlaces    = 6
)

// closeBuffer is added on top of the computed payoff. The ledger only takes
// what is due, so overpaying slightly is harmless while underpaying fails.
var closeBuffer = decimal.New(1, -3)

// EarlyRepayment computes a full-payment amount from a Loan entry: the
// outstanding principal, one interval of interest on it, and a 0.1% buffer.
// ok is false when the entry has no outstanding principal to read.
func EarlyRepayment(loan ledger.Entry) (decimal.Decimal, bool) {
	outstanding, ok := loan.Decimal("PrincipalOutstanding")
	if !ok {
		outstanding, ok = loan.Decimal("TotalValueOutstanding")
	}
	if !ok || outstanding.IsNegative() {
		return decimal.Zero, false
	}

	tx := ledger.Transaction(loan)
	rate := decimal.NewFromInt(int64(tx.Uint("InterestRate"))).Div(decimal.NewFromInt(rateScale))
	interval := decimal.NewFromInt(int64(tx.Uint("PaymentInterval")))
	interest := outstanding.Mul(rate).Mul(interval).Div(decimal.NewFromInt(secondsPerYear))

	total := outstanding.Add(interest).Add(outstanding.Mul(closeBuffer))
	return total.RoundCeil(tokenPlaces), true
}

// Available reads a positive amount field from an entry, such as a vault's
// AssetsAvailable or a broker's CoverAvailable.
func Available(e ledger.Entry, field string) (decimal.Decimal, bool) {
	d, ok := e.Decimal(field)
	if !ok || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
