package flow

import (
	"context"
	"fmt"
	"sync"

	"loanflow/internal/domain"
	"loanflow/internal/ledger"
	"loanflow/internal/lending"
	"loanflow/internal/wallet"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"
)

// run is the per-run context the step functions share. wallets and builder
// are written once by provisioning, before any parallel phase starts.
type run struct {
	session     *Session
	client      ledger.Client
	provisioner *wallet.Provisioner
	params      lending.Params
	builder     *lending.Builder
	wallets     map[domain.Role]*ledger.Wallet
	logger      logger.Logger

	mu      sync.Mutex
	deleted map[string]bool
}

func (r *run) emit(e domain.Event) {
	r.session.Emit(e)
}

func (r *run) wallet(role domain.Role) *ledger.Wallet {
	return r.wallets[role]
}

func (r *run) address(role domain.Role) string {
	if w := r.wallets[role]; w != nil {
		return w.Address
	}
	return ""
}

func (r *run) markDeleted(entryType string) {
	r.mu.Lock()
	r.deleted[entryType] = true
	r.mu.Unlock()
}

func (r *run) wasDeleted(entryType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted[entryType]
}

// need returns id or ErrMissingPrecursor when the step that creates it has
// not run.
func need(id, what string) (string, error) {
	if id == "" {
		return "", errors.Wrap(errors.ErrMissingPrecursor, what)
	}
	return id, nil
}

// step emits the running event, runs fn, then emits the terminal event and
// the report block. fn may fill in the record as it goes.
func (r *run) step(ctx context.Context, rec domain.StepRecord, fn func(ctx context.Context, rec *domain.StepRecord) error) error {
	if rec.Details == nil {
		rec.Details = map[string]string{}
	}
	rec.Status = domain.StepRunning
	r.emit(domain.StepEvent(rec))

	log := r.logger.WithFields(map[string]interface{}{"run_id": r.session.RunID(), "step": rec.ID})
	log.Info("Step started", nil)

	err := fn(ctx, &rec)
	if err != nil {
		rec.Status = domain.StepFailed
		rec.Error = err.Error()
		log.Error("Step failed", map[string]interface{}{"error": err, "tx_hash": rec.TxHash})
	} else {
		rec.Status = domain.StepSuccess
		log.Info("Step succeeded", map[string]interface{}{"tx_hash": rec.TxHash})
	}
	r.emit(domain.StepEvent(rec))
	r.emit(domain.ReportEvent(stepBlock(rec)...))
	return err
}

// txStep describes one ledger transaction of the flow.
type txStep struct {
	id          string
	title       string
	description string
	role        domain.Role
	// involved parties get their balances refreshed after success
	involved []domain.Role
	build    func(ctx context.Context, rec *domain.StepRecord) (ledger.Transaction, error)
	auth     Authorizer
	// creates names the entry type whose new id is captured
	creates string
	assign  func(id string) domain.StatePatch
	// confirm inspects a tesSUCCESS result for effects the code alone does
	// not guarantee
	confirm func(res *ledger.TxResult) error
}

// execute builds, autofills, authorizes and submits one transaction and
// treats anything but tesSUCCESS as failure.
func (r *run) execute(ctx context.Context, st txStep) (*ledger.TxResult, error) {
	var result *ledger.TxResult
	rec := domain.StepRecord{ID: st.id, Title: st.title, Description: st.description}

	err := r.step(ctx, rec, func(ctx context.Context, rec *domain.StepRecord) error {
		tx, err := st.build(ctx, rec)
		if err != nil {
			return err
		}
		rec.TxType = tx.Type()

		auth := st.auth
		if auth == nil {
			auth = Single{Wallet: r.wallet(st.role)}
		}
		if st.auth != nil {
			rec.Details["authorization"] = auth.Describe()
		}

		filled, err := r.client.Autofill(ctx, tx, ledger.AutofillOptions{Signers: auth.ExtraSigners()})
		if err != nil {
			return errors.Wrap(err, "autofill")
		}
		signed, err := auth.Authorize(ctx, r.client, filled)
		if err != nil {
			return err
		}
		res, err := r.client.Submit(ctx, signed)
		if err != nil {
			return errors.Wrap(err, "submit")
		}
		result = res

		rec.TxHash = res.Hash
		summary := domain.TxSummary{
			Hash:        res.Hash,
			Code:        res.Code,
			LedgerIndex: res.LedgerIndex,
			Fee:         res.Fee,
			Validated:   res.Validated,
			Created:     ledger.CreatedIDs(res.AffectedNodes),
		}
		rec.Result = summary
		if !res.Succeeded() {
			return &errors.TxError{TxType: rec.TxType, Code: res.Code, Hash: res.Hash}
		}
		if st.confirm != nil {
			if err := st.confirm(res); err != nil {
				return err
			}
		}

		if st.creates != "" {
			id, ok := ledger.CreatedID(res.AffectedNodes, st.creates)
			if !ok {
				return fmt.Errorf("%s succeeded but created no %s", rec.TxType, st.creates)
			}
			if n := countCreated(res.AffectedNodes, st.creates); n > 1 {
				r.logger.Warn("Several objects of one type created, using the first", map[string]interface{}{
					"tx_type":    rec.TxType,
					"entry_type": st.creates,
					"count":      n,
					"chosen":     id,
				})
			}
			rec.Details[detailKey(st.creates)] = id
			if st.assign != nil {
				r.emit(domain.StateEvent(st.assign(id)))
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	r.refreshBalances(ctx, st.involved)
	return result, nil
}

func countCreated(nodes []ledger.AffectedNode, entryType string) int {
	n := 0
	for _, node := range nodes {
		if node.NodeType == ledger.NodeCreated && node.LedgerEntryType == entryType {
			n++
		}
	}
	return n
}

func detailKey(entryType string) string {
	switch entryType {
	case ledger.EntryVault:
		return "vault_id"
	case ledger.EntryLoanBroker:
		return "broker_id"
	case ledger.EntryLoan:
		return "loan_id"
	}
	return "created_id"
}

// refreshBalances publishes fresh balances for roles. Lookup failures are
// logged and skipped.
func (r *run) refreshBalances(ctx context.Context, roles []domain.Role) {
	issuer := r.address(domain.RoleIssuer)
	for _, role := range roles {
		addr := r.address(role)
		if addr == "" {
			continue
		}
		b, err := wallet.ReadBalance(ctx, r.client, addr, r.params.Currency, issuer)
		if err != nil {
			r.logger.Warn("Balance refresh failed", map[string]interface{}{
				"run_id": r.session.RunID(),
				"role":   role,
				"error":  err,
			})
			continue
		}
		u := domain.PartyUpdate{Role: role, XRPBalance: domain.Ptr(b.XRP.String())}
		if b.HasToken {
			u.TokenBalance = domain.Ptr(b.Token.String())
		}
		r.emit(domain.PartyEvent(u))
	}
}

// unavailable is the placeholder recorded when a diagnostic lookup fails.
func unavailable(err error) string {
	return "unavailable: " + err.Error()
}
