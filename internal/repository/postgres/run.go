package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"loanflow/internal/domain"
	"loanflow/pkg/errors"

	"github.com/jmoiron/sqlx"
)

// RunRepository archives finished flow runs.
type RunRepository struct {
	db *sqlx.DB
}

func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save upserts the run. The full state is stored as JSON next to the
// columns List reads.
func (r *RunRepository) Save(ctx context.Context, st domain.FlowState) error {
	state, err := json.Marshal(st.Redacted())
	if err != nil {
		return errors.Wrap(err, "failed to encode run state")
	}

	query := `
		INSERT INTO flow_runs (
			id, scenario, status, vault_id, broker_id, loan_id, error,
			report, state, started_at, finished_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			$8, $9, $10, $11
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			vault_id = EXCLUDED.vault_id,
			broker_id = EXCLUDED.broker_id,
			loan_id = EXCLUDED.loan_id,
			error = EXCLUDED.error,
			report = EXCLUDED.report,
			state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at
	`
	s := domain.SummaryOf(st)
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.Scenario, s.Status, s.VaultID, s.BrokerID, s.LoanID, s.Error,
		st.ReportText(), state, s.StartedAt, s.FinishedAt,
	)
	return errors.Wrap(err, "failed to save run")
}

func (r *RunRepository) Get(ctx context.Context, runID string) (domain.FlowState, error) {
	var raw []byte
	err := r.db.GetContext(ctx, &raw, `SELECT state FROM flow_runs WHERE id = $1`, runID)
	if err == sql.ErrNoRows {
		return domain.FlowState{}, errors.ErrRunNotFound
	}
	if err != nil {
		return domain.FlowState{}, errors.Wrap(err, "failed to find run")
	}

	var st domain.FlowState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.FlowState{}, errors.Wrap(err, "failed to decode run state")
	}
	return st, nil
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	query := `
		SELECT
			id, scenario, status,
			COALESCE(vault_id, '') AS vault_id, COALESCE(broker_id, '') AS broker_id,
			COALESCE(loan_id, '') AS loan_id, COALESCE(error, '') AS error,
			started_at, finished_at
		FROM flow_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	runs := []domain.RunSummary{}
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	return runs, nil
}
