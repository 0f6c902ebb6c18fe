package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"epex-trade-report/internal/aggregator"
	"epex-trade-report/internal/api"
	"epex-trade-report/internal/config"
	"epex-trade-report/internal/database"
	"epex-trade-report/internal/logger"
	"epex-trade-report/internal/models"
	"epex-trade-report/internal/reportclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every subcommand needs once flags and config are resolved.
type app struct {
	configDir string
	remoteURL string

	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "report",
		Short: "Volume and PnL report over an EPEX trade ledger",
		Long: `Report prints the total traded volume per side and the PnL of each
strategy found in an EPEX intraday trade ledger.

Figures are computed by the database from the SQLite ledger configured in
config.yml, or fetched from a running report server with --remote.

Examples:
  report
  report volume buy
  report pnl strategy_1
  report strategies
  report --remote http://localhost:8080 pnl strategy_2
  report demo`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { _ = a.log.Sync() },
		Args:              cobra.NoArgs,
		RunE:              a.runSummary,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configDir, "config", "c", "./configs", "directory holding config.yml")
	rootCmd.PersistentFlags().StringVar(&a.remoteURL, "remote", "", "report server base URL (overrides remote.base_url)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "volume <buy|sell>",
			Short: "Print the total traded volume for one side",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runVolume,
		},
		&cobra.Command{
			Use:   "pnl <strategy>",
			Short: "Print the PnL of one strategy",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runPnL,
		},
		&cobra.Command{
			Use:   "strategies",
			Short: "List the strategy ids found in the ledger",
			Args:  cobra.NoArgs,
			RunE:  a.runStrategies,
		},
		&cobra.Command{
			Use:   "demo",
			Short: "Build a sample ledger in a temp dir and report on it",
			Args:  cobra.NoArgs,
			RunE:  a.runDemo,
		},
	)

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(a.configDir)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	if a.remoteURL != "" {
		cfg.Remote.BaseURL = a.remoteURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("could not initialize logger: %w", err)
	}

	a.cfg = cfg
	a.log = log
	return nil
}

// openLedger returns the configured ledger: the remote server when one is
// set, the SQLite database otherwise. The close func releases the database.
func (a *app) openLedger() (api.Ledger, func(), error) {
	if a.cfg.Remote.BaseURL != "" {
		a.log.Info("Reading report from server", zap.String("url", a.cfg.Remote.BaseURL))
		return reportclient.NewClient(&a.cfg.Remote, a.log), func() {}, nil
	}

	db, err := database.NewDatabase(a.cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { _ = sqlDB.Close() }

	if err := database.CheckLedger(db, a.cfg.Ledger.Table); err != nil {
		closeDB()
		return nil, nil, err
	}
	a.log.Debug("Ledger opened", zap.String("table", a.cfg.Ledger.Table))

	return aggregator.NewAggregator(db, a.cfg.Ledger.Table, a.log), closeDB, nil
}

func (a *app) runSummary(cmd *cobra.Command, args []string) error {
	ledger, closeLedger, err := a.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	summary, err := ledger.Summarize(cmd.Context(), a.cfg.Report.Strategies)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func (a *app) runVolume(cmd *cobra.Command, args []string) error {
	ledger, closeLedger, err := a.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	volume, err := ledger.TotalVolume(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Total %s volume: %v\n", args[0], volume)
	return nil
}

func (a *app) runPnL(cmd *cobra.Command, args []string) error {
	ledger, closeLedger, err := a.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	pnl, err := ledger.PnL(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PnL %s: %v\n", args[0], pnl)
	return nil
}

func (a *app) runStrategies(cmd *cobra.Command, args []string) error {
	ledger, closeLedger, err := a.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	ids, err := ledger.Strategies(cmd.Context())
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == "" {
			id = "(none)"
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

// demoTrades is a small two-strategy ledger.
var demoTrades = []models.Trade{
	{Side: models.SideBuy, Quantity: 100, Price: 54.2, Strategy: "strategy_1"},
	{Side: models.SideSell, Quantity: 40, Price: 61.5, Strategy: "strategy_1"},
	{Side: models.SideSell, Quantity: 10, Price: 50, Strategy: "strategy_2"},
	{Side: models.SideBuy, Quantity: 4, Price: 50, Strategy: "strategy_2"},
}

func (a *app) runDemo(cmd *cobra.Command, args []string) error {
	dir, err := os.MkdirTemp("", "epex-demo-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	db, err := database.NewDatabase(filepath.Join(dir, "trades.sqlite"))
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := database.CreateLedger(db, models.DefaultLedgerTable); err != nil {
		return err
	}
	if err := database.InsertTrades(db, models.DefaultLedgerTable, demoTrades); err != nil {
		return err
	}
	a.log.Info("Demo ledger created", zap.String("dir", dir), zap.Int("trades", len(demoTrades)))

	agg := aggregator.NewAggregator(db, models.DefaultLedgerTable, a.log)
	summary, err := agg.Summarize(cmd.Context(), []string{"strategy_1", "strategy_2", "strategy_3"})
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printSummary(w io.Writer, summary *aggregator.Summary) {
	fmt.Fprintf(w, "Total buy volume:  %v\n", summary.BuyVolume)
	fmt.Fprintf(w, "Total sell volume: %v\n", summary.SellVolume)
	for _, s := range summary.Strategies {
		fmt.Fprintf(w, "PnL %s: %v\n", s.Strategy, s.PnL)
	}
}
