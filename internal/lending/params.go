// Package lending builds the transactions of the lending workflow and holds
// the run parameters they are built from.
package lending

import (
	"fmt"

	"loanflow/internal/domain"
	"loanflow/pkg/config"
	"loanflow/pkg/validator"

	"github.com/shopspring/decimal"
)

// Params are the fixed amounts and loan terms of one run.
type Params struct {
	Currency           string          `json:"currency" validate:"required,currency_code"`
	LenderFunding      decimal.Decimal `json:"lender_funding" validate:"gt=0"`
	BrokerFunding      decimal.Decimal `json:"broker_funding" validate:"gt=0"`
	VaultDeposit       decimal.Decimal `json:"vault_deposit" validate:"gt=0"`
	CoverDeposit       decimal.Decimal `json:"cover_deposit" validate:"gt=0"`
	Principal          decimal.Decimal `json:"principal" validate:"gt=0"`
	InterestRateBPS    int             `json:"interest_rate_bps" validate:"gte=0,lte=10000"`
	PaymentTotal       int             `json:"payment_total" validate:"gt=0"`
	PaymentInterval    int             `json:"payment_interval" validate:"gte=60"`
	GracePeriod        int             `json:"grace_period" validate:"gte=60"`
	CoverRateMinimum   int             `json:"cover_rate_minimum" validate:"gte=0,lte=100000"`
	BorrowerTopUp      decimal.Decimal `json:"borrower_top_up" validate:"gte=0"`
	EarlyRepayFallback decimal.Decimal `json:"early_repay_fallback" validate:"gt=0"`
	DelegateRole       domain.Role     `json:"delegate_role" validate:"required,oneof=issuer lender"`
}

// DefaultParams are the documented demo values: 10,000 tokens to the lender,
// 5,000 into the vault and a 1,000 loan at 5% over 12 hourly payments.
func DefaultParams() Params {
	return Params{
		Currency:           "USD",
		LenderFunding:      decimal.NewFromInt(10000),
		BrokerFunding:      decimal.NewFromInt(1000),
		VaultDeposit:       decimal.NewFromInt(5000),
		CoverDeposit:       decimal.NewFromInt(200),
		Principal:          decimal.NewFromInt(1000),
		InterestRateBPS:    500,
		PaymentTotal:       12,
		PaymentInterval:    3600,
		GracePeriod:        60,
		CoverRateMinimum:   10000,
		BorrowerTopUp:      decimal.NewFromInt(100),
		EarlyRepayFallback: decimal.NewFromInt(1100),
		DelegateRole:       domain.RoleIssuer,
	}
}

func ParamsFromConfig(cfg config.FlowConfig) Params {
	return Params{
		Currency:           cfg.Currency,
		LenderFunding:      cfg.LenderFunding,
		BrokerFunding:      cfg.BrokerFunding,
		VaultDeposit:       cfg.VaultDeposit,
		CoverDeposit:       cfg.CoverDeposit,
		Principal:          cfg.Principal,
		InterestRateBPS:    cfg.InterestRateBPS,
		PaymentTotal:       cfg.PaymentTotal,
		PaymentInterval:    cfg.PaymentInterval,
		GracePeriod:        cfg.GracePeriod,
		CoverRateMinimum:   cfg.CoverRateMinimum,
		BorrowerTopUp:      cfg.BorrowerTopUp,
		EarlyRepayFallback: cfg.EarlyRepayFallback,
		DelegateRole:       domain.Role(cfg.DelegateRole),
	}
}

// Validate checks field tags and the amounts that depend on each other.
func (p Params) Validate(v *validator.Validator) error {
	if err := v.Validate(p); err != nil {
		return err
	}
	if p.VaultDeposit.GreaterThan(p.LenderFunding) {
		return fmt.Errorf("vault deposit %s exceeds lender funding %s", p.VaultDeposit, p.LenderFunding)
	}
	if p.CoverDeposit.GreaterThan(p.BrokerFunding) {
		return fmt.Errorf("cover deposit %s exceeds broker funding %s", p.CoverDeposit, p.BrokerFunding)
	}
	if p.Principal.GreaterThan(p.VaultDeposit) {
		return fmt.Errorf("principal %s exceeds vault deposit %s", p.Principal, p.VaultDeposit)
	}
	return nil
}

// InterestRate is the ledger representation: tenths of a basis point.
func (p Params) InterestRate() uint32 {
	return uint32(p.InterestRateBPS * 10)
}
