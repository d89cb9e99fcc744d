package flow

import (
	"context"
	"fmt"
	"strconv"

	"loanflow/internal/domain"
	"loanflow/internal/ledger"
	"loanflow/internal/lending"
	"loanflow/pkg/errors"

	"github.com/shopspring/decimal"
)

// stepFunc is one member of a phase.
type stepFunc func(ctx context.Context, r *run) error

func (r *run) amount(v decimal.Decimal) string {
	return v.String() + " " + r.params.Currency
}

func provisionWallets(ctx context.Context, r *run) error {
	rec := domain.StepRecord{
		ID:          "provision-wallets",
		Title:       "Provision wallets",
		Description: "Fund one ledger identity per party from the faucet",
	}
	return r.step(ctx, rec, func(ctx context.Context, rec *domain.StepRecord) error {
		funded, err := r.provisioner.Provision(ctx, domain.Roles)
		if err != nil {
			return err
		}
		for _, role := range domain.Roles {
			w := funded[role]
			r.wallets[role] = &ledger.Wallet{Address: w.Address, Seed: w.Seed, PublicKey: w.PublicKey}
			r.emit(domain.PartyEvent(domain.PartyUpdate{
				Role:       role,
				Address:    domain.Ptr(w.Address),
				Seed:       domain.Ptr(w.Seed),
				XRPBalance: domain.Ptr(w.Balance.String()),
			}))
			rec.Details[string(role)+"_address"] = w.Address
		}
		r.builder = lending.NewBuilder(r.params, r.address(domain.RoleIssuer))
		rec.Result = domain.FieldsResult{Fields: copyDetails(rec.Details)}
		return nil
	})
}

func enableRippling(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "enable-rippling",
		title:       "Enable rippling on issuer",
		description: "Set DefaultRipple so the issued token can move between holders",
		role:        domain.RoleIssuer,
		involved:    []domain.Role{domain.RoleIssuer},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			rec.Details["flag"] = "asfDefaultRipple"
			return r.builder.EnableRippling(), nil
		},
	})
	return err
}

func trustLine(role domain.Role) stepFunc {
	return func(ctx context.Context, r *run) error {
		_, err := r.execute(ctx, txStep{
			id:          "trust-" + string(role),
			title:       "Trust line: " + role.Label(),
			description: fmt.Sprintf("%s trusts the issuer's %s", role.Label(), r.params.Currency),
			role:        role,
			involved:    []domain.Role{role},
			build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
				rec.Details["holder"] = r.address(role)
				rec.Details["currency"] = r.params.Currency
				return r.builder.TrustLine(r.address(role)), nil
			},
		})
		return err
	}
}

func issue(id string, to domain.Role, v decimal.Decimal) stepFunc {
	return func(ctx context.Context, r *run) error {
		_, err := r.execute(ctx, txStep{
			id:          id,
			title:       "Fund " + to.Label(),
			description: fmt.Sprintf("Issuer pays %s to the %s", r.amount(v), to.Label()),
			role:        domain.RoleIssuer,
			involved:    []domain.Role{domain.RoleIssuer, to},
			build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
				rec.Details["destination"] = r.address(to)
				rec.Details["amount"] = r.amount(v)
				return r.builder.Issue(r.address(to), v), nil
			},
		})
		return err
	}
}

// fundParties pays the lender and the broker in one all-or-nothing Batch.
// If the batch fails, it pays them one after the other instead.
func fundParties(ctx context.Context, r *run) error {
	p := r.params
	_, err := r.execute(ctx, txStep{
		id:          "fund-batch",
		title:       "Batch fund lender and broker",
		description: "Issuer pays lender and broker in one all-or-nothing Batch",
		role:        domain.RoleIssuer,
		involved:    []domain.Role{domain.RoleIssuer, domain.RoleLender, domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			rec.Details["lender_amount"] = r.amount(p.LenderFunding)
			rec.Details["broker_amount"] = r.amount(p.BrokerFunding)
			rec.Details["mode"] = "tfAllOrNothing"
			return r.builder.Batch(
				r.builder.Issue(r.address(domain.RoleLender), p.LenderFunding),
				r.builder.Issue(r.address(domain.RoleBroker), p.BrokerFunding),
			), nil
		},
		confirm: func(res *ledger.TxResult) error {
			for _, role := range []domain.Role{domain.RoleLender, domain.RoleBroker} {
				if !ledger.TrustLineCredited(res.AffectedNodes, r.address(role)) {
					return errors.Wrap(errors.ErrBatchRejected, fmt.Sprintf("%s succeeded but %s was not credited", ledger.TxBatch, role))
				}
			}
			return nil
		},
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	note := fmt.Sprintf("NOTE: batch payment failed (%v); falling back to individual payments", err)
	r.logger.Warn("Batch payment failed, using individual payments", map[string]interface{}{
		"run_id": r.session.RunID(),
		"error":  err,
	})
	r.emit(domain.ReportEvent("", note))

	if err := issue("fund-lender", domain.RoleLender, p.LenderFunding)(ctx, r); err != nil {
		return err
	}
	return issue("fund-broker", domain.RoleBroker, p.BrokerFunding)(ctx, r)
}

func createVault(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "vault-create",
		title:       "Create vault",
		description: "Broker creates the pooled vault for the issued token",
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		creates:     ledger.EntryVault,
		assign: func(id string) domain.StatePatch {
			return domain.StatePatch{VaultID: domain.Ptr(id)}
		},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			rec.Details["asset"] = r.params.Currency + "." + r.address(domain.RoleIssuer)
			return r.builder.VaultCreate(r.address(domain.RoleBroker)), nil
		},
	})
	return err
}

func createBroker(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "broker-create",
		title:       "Register loan broker",
		description: "Broker registers against the vault",
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		creates:     ledger.EntryLoanBroker,
		assign: func(id string) domain.StatePatch {
			return domain.StatePatch{BrokerID: domain.Ptr(id)}
		},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			vaultID, err := need(r.session.State().VaultID, "vault id")
			if err != nil {
				return nil, err
			}
			rec.Details["vault_id"] = vaultID
			rec.Details["cover_rate_minimum"] = strconv.Itoa(r.params.CoverRateMinimum)
			return r.builder.LoanBrokerSet(r.address(domain.RoleBroker), vaultID), nil
		},
	})
	return err
}

func depositToVault(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "vault-deposit",
		title:       "Deposit into vault",
		description: "Lender deposits liquidity into the vault",
		role:        domain.RoleLender,
		involved:    []domain.Role{domain.RoleLender},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			vaultID, err := need(r.session.State().VaultID, "vault id")
			if err != nil {
				return nil, err
			}
			rec.Details["vault_id"] = vaultID
			rec.Details["amount"] = r.amount(r.params.VaultDeposit)
			return r.builder.VaultDeposit(r.address(domain.RoleLender), vaultID, r.params.VaultDeposit), nil
		},
	})
	return err
}

func depositCover(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "cover-deposit",
		title:       "Deposit first-loss cover",
		description: "Broker posts first-loss capital",
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			brokerID, err := need(r.session.State().BrokerID, "broker id")
			if err != nil {
				return nil, err
			}
			rec.Details["broker_id"] = brokerID
			rec.Details["amount"] = r.amount(r.params.CoverDeposit)
			return r.builder.CoverDeposit(r.address(domain.RoleBroker), brokerID, r.params.CoverDeposit), nil
		},
	})
	return err
}

// issueLoan creates the loan with the authorization auth builds from the
// run's wallets.
func issueLoan(auth func(r *run) Authorizer) stepFunc {
	return func(ctx context.Context, r *run) error {
		a := auth(r)
		p := r.params
		_, err := r.execute(ctx, txStep{
			id:          "loan-create",
			title:       "Issue loan",
			description: "Broker issues the loan, authorized by " + a.Describe(),
			role:        domain.RoleBroker,
			involved:    []domain.Role{domain.RoleBroker, domain.RoleBorrower},
			auth:        a,
			creates:     ledger.EntryLoan,
			assign: func(id string) domain.StatePatch {
				return domain.StatePatch{LoanID: domain.Ptr(id)}
			},
			build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
				brokerID, err := need(r.session.State().BrokerID, "broker id")
				if err != nil {
					return nil, err
				}
				rec.Details["broker_id"] = brokerID
				rec.Details["borrower"] = r.address(domain.RoleBorrower)
				rec.Details["principal"] = r.amount(p.Principal)
				rec.Details["interest_rate"] = fmt.Sprintf("%d bps", p.InterestRateBPS)
				rec.Details["schedule"] = fmt.Sprintf("%d payments every %ds", p.PaymentTotal, p.PaymentInterval)
				return r.builder.LoanSet(r.address(domain.RoleBroker), brokerID, r.address(domain.RoleBorrower)), nil
			},
		})
		return err
	}
}

func counterpartyAuth(r *run) Authorizer {
	return CounterpartyCosign{
		Initiator:    r.wallet(domain.RoleBroker),
		Counterparty: r.wallet(domain.RoleBorrower),
	}
}

func delegatedAuth(r *run) Authorizer {
	return DelegatedCosign{
		Delegate:     r.wallet(r.params.DelegateRole),
		Counterparty: r.wallet(domain.RoleBorrower),
	}
}

func installSignerList(ctx context.Context, r *run) error {
	delegate := r.params.DelegateRole
	_, err := r.execute(ctx, txStep{
		id:          "signer-list",
		title:       "Install signer list",
		description: fmt.Sprintf("Broker delegates signing to the %s with quorum 1", delegate.Label()),
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			if delegate == domain.RoleBroker || delegate == domain.RoleBorrower {
				return nil, fmt.Errorf("the %s cannot act as the broker's delegate", delegate)
			}
			rec.Details["delegate"] = r.address(delegate)
			rec.Details["quorum"] = "1"
			return r.builder.SignerList(r.address(domain.RoleBroker), 1, r.address(delegate)), nil
		},
	})
	return err
}

func loanID(r *run) (string, error) {
	return need(r.session.State().LoanID, "loan id")
}

func payLoan(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "loan-pay",
		title:       "Make loan payment",
		description: "Borrower makes one periodic payment",
		role:        domain.RoleBorrower,
		involved:    []domain.Role{domain.RoleBorrower, domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			id, err := loanID(r)
			if err != nil {
				return nil, err
			}
			amount, source := periodicPayment(ctx, r, id)
			rec.Details["loan_id"] = id
			rec.Details["amount"] = r.amount(amount)
			rec.Details["amount_source"] = source
			return r.builder.LoanPay(r.address(domain.RoleBorrower), id, amount, 0), nil
		},
	})
	return err
}

// periodicPayment reads the loan's scheduled payment. When the lookup fails
// it pays the principal share plus 10%.
func periodicPayment(ctx context.Context, r *run, id string) (decimal.Decimal, string) {
	entry, err := r.client.LedgerEntry(ctx, id)
	if err == nil {
		if v, ok := lending.Available(entry, "PeriodicPayment"); ok {
			return v, "loan entry"
		}
		err = fmt.Errorf("loan has no PeriodicPayment")
	}
	share := r.params.Principal.Div(decimal.NewFromInt(int64(r.params.PaymentTotal)))
	return share.Mul(decimal.New(11, -1)).RoundCeil(6), "fallback (" + unavailable(err) + ")"
}

func defaultLoan(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "loan-default",
		title:       "Mark loan defaulted",
		description: "Broker defaults the loan; cover absorbs the first loss",
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			id, err := loanID(r)
			if err != nil {
				return nil, err
			}
			rec.Details["loan_id"] = id
			rec.Details["flag"] = "tfLoanDefault"
			return r.builder.LoanManage(r.address(domain.RoleBroker), id, ledger.TfLoanDefault), nil
		},
	})
	return err
}

func deleteLoan(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "loan-delete",
		title:       "Delete loan",
		description: "Broker removes the closed loan from the ledger",
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			id, err := loanID(r)
			if err != nil {
				return nil, err
			}
			rec.Details["loan_id"] = id
			return r.builder.LoanDelete(r.address(domain.RoleBroker), id), nil
		},
	})
	if err == nil {
		r.markDeleted(ledger.EntryLoan)
	}
	return err
}

func fundBorrower(ctx context.Context, r *run) error {
	return issue("fund-borrower", domain.RoleBorrower, r.params.BorrowerTopUp)(ctx, r)
}

func repayEarly(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "loan-repay-full",
		title:       "Repay loan early",
		description: "Borrower repays the whole loan with a full payment",
		role:        domain.RoleBorrower,
		involved:    []domain.Role{domain.RoleBorrower, domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			id, err := loanID(r)
			if err != nil {
				return nil, err
			}
			amount, source := earlyRepayment(ctx, r, id)
			rec.Details["loan_id"] = id
			rec.Details["amount"] = r.amount(amount)
			rec.Details["amount_source"] = source
			rec.Details["flag"] = "tfLoanFullPayment"
			return r.builder.LoanPay(r.address(domain.RoleBorrower), id, amount, ledger.TfLoanFullPayment), nil
		},
	})
	return err
}

func earlyRepayment(ctx context.Context, r *run, id string) (decimal.Decimal, string) {
	entry, err := r.client.LedgerEntry(ctx, id)
	if err == nil {
		if v, ok := lending.EarlyRepayment(entry); ok {
			return v, "outstanding principal + interest"
		}
		err = fmt.Errorf("loan has no outstanding principal")
	}
	r.logger.Warn("Early repayment lookup failed, using fallback", map[string]interface{}{
		"run_id": r.session.RunID(),
		"error":  err,
	})
	return r.params.EarlyRepayFallback, "fallback (" + unavailable(err) + ")"
}

func withdrawCover(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "cover-withdraw",
		title:       "Withdraw first-loss cover",
		description: "Broker withdraws the remaining cover",
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			brokerID, err := need(r.session.State().BrokerID, "broker id")
			if err != nil {
				return nil, err
			}
			amount, err := queryAvailable(ctx, r, brokerID, "CoverAvailable")
			if err != nil {
				return nil, err
			}
			rec.Details["broker_id"] = brokerID
			rec.Details["amount"] = r.amount(amount)
			return r.builder.CoverWithdraw(r.address(domain.RoleBroker), brokerID, amount), nil
		},
	})
	return err
}

func deleteBroker(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "broker-delete",
		title:       "Delete loan broker",
		description: "Broker deregisters from the vault",
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			brokerID, err := need(r.session.State().BrokerID, "broker id")
			if err != nil {
				return nil, err
			}
			rec.Details["broker_id"] = brokerID
			return r.builder.LoanBrokerDelete(r.address(domain.RoleBroker), brokerID), nil
		},
	})
	if err == nil {
		r.markDeleted(ledger.EntryLoanBroker)
	}
	return err
}

func withdrawVault(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "vault-withdraw",
		title:       "Withdraw from vault",
		description: "Lender redeems everything left in the vault",
		role:        domain.RoleLender,
		involved:    []domain.Role{domain.RoleLender},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			vaultID, err := need(r.session.State().VaultID, "vault id")
			if err != nil {
				return nil, err
			}
			amount, err := queryAvailable(ctx, r, vaultID, "AssetsAvailable")
			if err != nil {
				return nil, err
			}
			rec.Details["vault_id"] = vaultID
			rec.Details["amount"] = r.amount(amount)
			return r.builder.VaultWithdraw(r.address(domain.RoleLender), vaultID, amount), nil
		},
	})
	return err
}

func deleteVault(ctx context.Context, r *run) error {
	_, err := r.execute(ctx, txStep{
		id:          "vault-delete",
		title:       "Delete vault",
		description: "Broker deletes the empty vault",
		role:        domain.RoleBroker,
		involved:    []domain.Role{domain.RoleBroker},
		build: func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error) {
			vaultID, err := need(r.session.State().VaultID, "vault id")
			if err != nil {
				return nil, err
			}
			rec.Details["vault_id"] = vaultID
			return r.builder.VaultDelete(r.address(domain.RoleBroker), vaultID), nil
		},
	})
	if err == nil {
		r.markDeleted(ledger.EntryVault)
	}
	return err
}

// queryAvailable reads an amount the next transaction depends on. Unlike
// diagnostic lookups, a failure here fails the step.
func queryAvailable(ctx context.Context, r *run, index, field string) (decimal.Decimal, error) {
	entry, err := r.client.LedgerEntry(ctx, index)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s: %w", field, err)
	}
	v, ok := lending.Available(entry, field)
	if !ok {
		return decimal.Zero, fmt.Errorf("nothing to withdraw: %s is %q", field, entry.Field(field))
	}
	return v, nil
}

func copyDetails(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
