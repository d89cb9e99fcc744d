package flow

import (
	"context"

	"loanflow/internal/domain"
	"loanflow/internal/ledger"
	"loanflow/internal/wallet"
	"loanflow/pkg/errors"
)

// verify looks up the flow's ledger objects and the parties' balances. It
// never fails: lookup failures are recorded in the details.
func verify(ctx context.Context, r *run) error {
	rec := domain.StepRecord{
		ID:          "verify",
		Title:       "Verify ledger state",
		Description: "Look up the vault, broker and loan and read final balances",
	}
	return r.step(ctx, rec, func(ctx context.Context, rec *domain.StepRecord) error {
		st := r.session.State()
		objects := []struct {
			key, id, entryType, field string
		}{
			{"vault", st.VaultID, ledger.EntryVault, "AssetsTotal"},
			{"broker", st.BrokerID, ledger.EntryLoanBroker, "CoverAvailable"},
			{"loan", st.LoanID, ledger.EntryLoan, "PrincipalOutstanding"},
		}
		for _, o := range objects {
			status, value := r.lookup(ctx, o.id, o.entryType, o.field)
			rec.Details[o.key] = status
			if value != "" {
				rec.Details[o.key+"_"+o.field] = value
			}
		}

		issuer := r.address(domain.RoleIssuer)
		for _, role := range domain.Roles {
			addr := r.address(role)
			if addr == "" {
				continue
			}
			b, err := wallet.ReadBalance(ctx, r.client, addr, r.params.Currency, issuer)
			if err != nil {
				rec.Details[string(role)+"_balance"] = unavailable(err)
				continue
			}
			line := b.XRP.String() + " XRP"
			if b.HasToken {
				line += ", " + r.amount(b.Token)
			}
			rec.Details[string(role)+"_balance"] = line
		}
		rec.Result = domain.FieldsResult{Fields: copyDetails(rec.Details)}
		return nil
	})
}

func (r *run) lookup(ctx context.Context, id, entryType, field string) (status, value string) {
	if id == "" {
		return "not created", ""
	}
	entry, err := r.client.LedgerEntry(ctx, id)
	switch {
	case err == nil:
		return "exists", entry.Field(field)
	case errors.Is(err, errors.ErrEntryNotFound) && r.wasDeleted(entryType):
		return "deleted (not found)", ""
	case errors.Is(err, errors.ErrEntryNotFound):
		return "not found", ""
	}
	return unavailable(err), ""
}
