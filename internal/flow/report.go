package flow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"loanflow/internal/domain"
)

func reportHeader(runID string, sc Scenario, started time.Time) []string {
	return []string{
		"XRPL lending flow report",
		"Run:      " + runID,
		fmt.Sprintf("Scenario: %s (%s)", sc.Title, sc.ID),
		"Started:  " + started.UTC().Format(time.RFC3339),
	}
}

// stepBlock renders a finished step for the text report.
func stepBlock(rec domain.StepRecord) []string {
	lines := []string{
		"",
		fmt.Sprintf("[%s] %s (%s)", strings.ToUpper(string(rec.Status)), rec.Title, rec.ID),
	}
	if rec.TxType != "" {
		lines = append(lines, "  tx_type: "+rec.TxType)
	}
	if rec.TxHash != "" {
		lines = append(lines, "  tx_hash: "+rec.TxHash)
	}
	if summary, ok := rec.Result.(domain.TxSummary); ok {
		lines = append(lines, "  result:  "+summary.Code)
		if summary.Fee != "" {
			lines = append(lines, "  fee:     "+summary.Fee)
		}
	}

	keys := make([]string, 0, len(rec.Details))
	for k := range rec.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", k, rec.Details[k]))
	}
	if rec.Error != "" {
		lines = append(lines, "  error: "+rec.Error)
	}
	return lines
}

func reportSummary(st domain.FlowState, status domain.FlowStatus) []string {
	lines := []string{"", "Summary"}
	for _, p := range st.Parties {
		line := fmt.Sprintf("  %-12s %s", p.Label+":", orNone(p.Address))
		if p.XRPBalance != "" {
			line += " (" + p.XRPBalance + " XRP"
			if p.TokenBalance != "" {
				line += ", " + p.TokenBalance + " token"
			}
			line += ")"
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		"  Vault ID:    "+orNone(st.VaultID),
		"  Broker ID:   "+orNone(st.BrokerID),
		"  Loan ID:     "+orNone(st.LoanID),
		"  Status:      "+string(status),
	)
	return lines
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
