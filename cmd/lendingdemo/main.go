// Command lendingdemo runs one lending scenario from the terminal and writes
// the run report to a file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loanflow/internal/domain"
	"loanflow/internal/flow"
	"loanflow/internal/ledger"
	"loanflow/internal/ledger/network"
	"loanflow/internal/lending"
	"loanflow/pkg/config"
	"loanflow/pkg/logger"
	"loanflow/pkg/validator"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
)

// openFunc connects to the ledger a run talks to.
type openFunc func(ctx context.Context, cfg config.LedgerConfig, log logger.Logger) (ledger.Client, ledger.Faucet, error)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], network.Open))
}

// run returns the process exit code: 0 on a completed run, 1 when the run or
// the connection fails, 2 on bad input.
func run(args []string, open openFunc) int {
	fs := flag.NewFlagSet("lendingdemo", flag.ContinueOnError)
	scenario := fs.String("scenario", "", "scenario id; prompts when empty")
	out := fs.String("out", "", "report file (default lending-report-<scenario>-<time>.txt)")
	simulate := fs.Bool("simulate", false, "use the in-memory ledger simulator")
	list := fs.Bool("list", false, "list scenarios and exit")
	logLevel := fs.String("log-level", "warn", "log level for diagnostics on stderr")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if *list {
		printScenarios()
		return 0
	}

	cfg := config.Load()
	if *simulate {
		cfg.Ledger.Simulate = true
	}
	log := logger.NewWithWriter("lendingdemo", os.Stderr, *logLevel)

	if err := cfg.ValidateLedger(); err != nil {
		pterm.Error.Println(err.Error())
		return 2
	}
	params := lending.ParamsFromConfig(cfg.Flow)
	if err := params.Validate(validator.New()); err != nil {
		pterm.Error.Printfln("Invalid flow parameters: %s", err)
		return 2
	}

	s, err := chooseScenario(domain.ScenarioID(*scenario))
	if err != nil {
		pterm.Error.Println(err.Error())
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pterm.DefaultHeader.WithFullWidth().Println("XRPL Lending Flow")
	pterm.Info.Printfln("Scenario: %s (%s)", s.Title, s.ID)

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to the ledger ...")
	client, faucet, err := open(ctx, cfg.Ledger, log)
	if err != nil {
		spinner.Fail(err.Error())
		return 1
	}
	defer client.Close()
	spinner.Success("Ledger ready")

	session := flow.NewSession(uuid.NewString(), s.ID)
	r := newRenderer()
	_, unsubscribe := session.Subscribe(r.handle)
	defer unsubscribe()

	runErr := flow.NewOrchestrator(client, faucet, params, log).Run(ctx, session)

	final := session.State()
	r.summary(final)

	path := *out
	if path == "" {
		path = fmt.Sprintf("lending-report-%s-%s.txt", s.ID, time.Now().Format("20060102-150405"))
	}
	if err := os.WriteFile(path, []byte(final.ReportText()), 0o644); err != nil {
		pterm.Error.Printfln("Failed to write report: %s", err)
	} else {
		pterm.Info.Printfln("Report written to %s", path)
	}

	if runErr != nil {
		return 1
	}
	return 0
}

func chooseScenario(id domain.ScenarioID) (flow.Scenario, error) {
	if id == "" {
		options := make([]string, 0, len(flow.Scenarios()))
		for _, s := range flow.Scenarios() {
			options = append(options, string(s.ID))
		}
		selected, err := pterm.DefaultInteractiveSelect.
			WithDefaultText("Select a scenario").
			WithOptions(options).
			Show()
		if err != nil {
			return flow.Scenario{}, err
		}
		id = domain.ScenarioID(selected)
	}
	s, ok := flow.LookupScenario(id)
	if !ok {
		return flow.Scenario{}, fmt.Errorf("unknown scenario %q (use -list)", id)
	}
	return s, nil
}

func printScenarios() {
	data := pterm.TableData{{"ID", "Title", "Description"}}
	for _, s := range flow.Scenarios() {
		data = append(data, []string{string(s.ID), s.Title, s.Description})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
