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

// Orchestrator drives sessions through their scenario.
type Orchestrator struct {
	client      ledger.Client
	provisioner *wallet.Provisioner
	params      lending.Params
	logger      logger.Logger
}

func NewOrchestrator(client ledger.Client, faucet ledger.Faucet, params lending.Params, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		client:      client,
		provisioner: wallet.NewProvisioner(faucet, log),
		params:      params,
		logger:      log,
	}
}

func (o *Orchestrator) Params() lending.Params {
	return o.params
}

// Run executes the session's scenario to completion or to the first
// failure, emitting flow_complete or flow_error at the end. A session runs
// at most once.
func (o *Orchestrator) Run(ctx context.Context, s *Session) error {
	st := s.State()
	if st.Status != domain.FlowIdle {
		return fmt.Errorf("run %s already %s", st.RunID, st.Status)
	}

	log := o.logger.WithFields(map[string]interface{}{"run_id": st.RunID, "scenario": st.Scenario})
	sc, ok := LookupScenario(st.Scenario)
	if !ok {
		err := errors.Wrap(errors.ErrUnknownScenario, string(st.Scenario))
		s.Emit(domain.ErrorEvent(err, s.State().ReportText()))
		return err
	}

	r := &run{
		session:     s,
		client:      o.client,
		provisioner: o.provisioner,
		params:      o.params,
		wallets:     map[domain.Role]*ledger.Wallet{},
		logger:      log,
		deleted:     map[string]bool{},
	}

	s.Emit(domain.StateEvent(domain.StatePatch{
		Status:       domain.Ptr(domain.FlowRunning),
		AppendReport: reportHeader(st.RunID, sc, st.StartedAt),
	}))
	log.Info("Run started", nil)

	for i, p := range sc.phases() {
		if err := r.runPhase(ctx, p); err != nil {
			log.Error("Run failed", map[string]interface{}{"phase": i, "error": err})
			s.Emit(domain.ReportEvent(reportSummary(s.State(), domain.FlowError)...))
			s.Emit(domain.ReportEvent("", "ERROR: "+err.Error()))
			s.Emit(domain.ErrorEvent(err, s.State().ReportText()))
			return err
		}
	}

	s.Emit(domain.ReportEvent(reportSummary(s.State(), domain.FlowCompleted)...))
	s.Emit(domain.CompleteEvent(s.State().ReportText()))
	log.Info("Run completed", nil)
	return nil
}

// runPhase starts every member and waits for all of them. The first failing
// member in declaration order is the phase's error.
func (r *run) runPhase(ctx context.Context, p phase) error {
	if len(p) == 1 {
		return p[0](ctx, r)
	}

	errs := make([]error, len(p))
	var wg sync.WaitGroup
	for i, fn := range p {
		wg.Add(1)
		go func(i int, fn stepFunc) {
			defer wg.Done()
			errs[i] = fn(ctx, r)
		}(i, fn)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
