package main

import (
	"sort"
	"strings"

	"loanflow/internal/domain"

	"github.com/pterm/pterm"
)

// renderer prints progress events as they arrive. Session subscribers are
// called serially, so it needs no locking. Parallel steps interleave, so each
// line names its step instead of using a spinner.
type renderer struct {
	started int
}

func newRenderer() *renderer {
	return &renderer{}
}

func (r *renderer) handle(e domain.Event, st domain.FlowState) {
	switch e.Type {
	case domain.EventStepUpdate:
		r.step(*e.Step)
	case domain.EventStateUpdate:
		for _, line := range e.State.AppendReport {
			if strings.HasPrefix(line, "NOTE:") {
				pterm.Warning.Println(strings.TrimSpace(strings.TrimPrefix(line, "NOTE:")))
			}
		}
	case domain.EventFlowError:
		pterm.Error.Printfln("Run failed: %s", e.Error)
	case domain.EventFlowComplete:
		pterm.Success.Printfln("Run completed (%d steps)", r.started)
	}
}

func (r *renderer) step(rec domain.StepRecord) {
	switch rec.Status {
	case domain.StepRunning:
		r.started++
		pterm.Info.Printfln("%s ...", rec.Title)
	case domain.StepSuccess:
		msg := rec.Title
		if rec.TxHash != "" {
			msg += pterm.Gray("  " + rec.TxHash)
		}
		pterm.Success.Println(msg)
	case domain.StepFailed:
		pterm.Error.Printfln("%s: %s", rec.Title, rec.Error)
	}
}

func (r *renderer) summary(st domain.FlowState) {
	pterm.Println()

	parties := pterm.TableData{{"Role", "Address", "XRP", "Token"}}
	for _, p := range st.Parties {
		parties = append(parties, []string{p.Label, p.Address, p.XRPBalance, p.TokenBalance})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(parties).Render()

	ids := pterm.TableData{{"Object", "ID"}}
	for _, row := range [][2]string{{"Vault", st.VaultID}, {"Loan Broker", st.BrokerID}, {"Loan", st.LoanID}} {
		if row[1] != "" {
			ids = append(ids, []string{row[0], row[1]})
		}
	}
	if len(ids) > 1 {
		pterm.Println()
		_ = pterm.DefaultTable.WithHasHeader().WithData(ids).Render()
	}

	if verify, ok := st.Step("verify"); ok && len(verify.Details) > 0 {
		keys := make([]string, 0, len(verify.Details))
		for k := range verify.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]pterm.BulletListItem, 0, len(keys))
		for _, k := range keys {
			items = append(items, pterm.BulletListItem{Level: 0, Text: k + ": " + verify.Details[k]})
		}
		pterm.Println()
		pterm.DefaultSection.Println("Verification")
		_ = pterm.DefaultBulletList.WithItems(items).Render()
	}
}
