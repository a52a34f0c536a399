package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freight-reconciliation-service/cmd/reconciler/config"
	"freight-reconciliation-service/internal/ledger"
	"freight-reconciliation-service/internal/parsers"
	"freight-reconciliation-service/internal/reconciler"
	"freight-reconciliation-service/internal/reporter"
	"freight-reconciliation-service/internal/store"
)

// Flags for the reconcile command
var (
	invoiceFile   string
	shipmentsFile string
	dbPath        string
	outputFormat  string
	outputFile    string
	ratesURL      string
	autoApply     bool
	poolLimit     int
	matchProfile  string
	timeoutSecs   int
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile an extracted carrier invoice against system shipments",
	Long: `Reconcile matches every shipment in an extraction payload against the
system shipment pool, aligns the charges of each matched pair, and
recommends a disposition for every charge line.

The shipment pool comes from either a SQLite database (--db) or a JSON
export (--shipments-file).

Examples:
  # Match against a JSON shipment export
  reconciler reconcile --invoice-file extraction.json --shipments-file shipments.json

  # Match against a SQLite pool and apply approved charges
  reconciler reconcile --invoice-file extraction.json --db shipments.db --auto-apply

  # JSON output to a file, stricter matching
  reconciler reconcile --invoice-file extraction.json --db shipments.db \
    --output-format json --output-file result.json --match-profile strict

  # Convert foreign-currency invoices through a rate service
  reconciler reconcile --invoice-file extraction.json --db shipments.db \
    --rates-url http://rates.internal:9000`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&invoiceFile, "invoice-file", "i", "", "path to extraction payload JSON (required)")
	reconcileCmd.Flags().StringVarP(&shipmentsFile, "shipments-file", "s", "", "path to system shipment export JSON")
	reconcileCmd.Flags().StringVar(&dbPath, "db", "", "path to SQLite shipment database")

	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	reconcileCmd.Flags().StringVar(&ratesURL, "rates-url", "", "exchange-rate service base URL (identity rates when unset)")
	reconcileCmd.Flags().BoolVar(&autoApply, "auto-apply", false, "apply approve-recommended charges to the ledger")
	reconcileCmd.Flags().IntVar(&poolLimit, "pool-limit", 500, "maximum candidate pool size")
	reconcileCmd.Flags().StringVar(&matchProfile, "match-profile", "default", "matching profile: default, strict, relaxed")
	reconcileCmd.Flags().IntVar(&timeoutSecs, "timeout", 120, "run timeout in seconds")

	reconcileCmd.MarkFlagRequired("invoice-file")

	viper.BindPFlag("invoice-file", reconcileCmd.Flags().Lookup("invoice-file"))
	viper.BindPFlag("shipments-file", reconcileCmd.Flags().Lookup("shipments-file"))
	viper.BindPFlag("db", reconcileCmd.Flags().Lookup("db"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("rates-url", reconcileCmd.Flags().Lookup("rates-url"))
	viper.BindPFlag("auto-apply", reconcileCmd.Flags().Lookup("auto-apply"))
	viper.BindPFlag("pool-limit", reconcileCmd.Flags().Lookup("pool-limit"))
	viper.BindPFlag("match-profile", reconcileCmd.Flags().Lookup("match-profile"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	invoiceFile = viper.GetString("invoice-file")
	shipmentsFile = viper.GetString("shipments-file")
	dbPath = viper.GetString("db")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	ratesURL = viper.GetString("rates-url")
	autoApply = viper.GetBool("auto-apply")
	poolLimit = viper.GetInt("pool-limit")
	matchProfile = viper.GetString("match-profile")

	if invoiceFile == "" {
		return fmt.Errorf("invoice-file is required")
	}
	if shipmentsFile == "" && dbPath == "" {
		return fmt.Errorf("either shipments-file or db is required")
	}
	if !reporter.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format: %s (use console, json, or csv)", outputFormat)
	}
	if _, err := config.MatcherConfig(matchProfile); err != nil {
		return err
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	invoices, err := parsers.NewExtractionParser().ParseFile(invoiceFile)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	repo, ledgerStore, cleanup, err := buildStores(ctx)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer cleanup()

	service, err := config.BuildService(config.ServiceOptions{
		Repository:   repo,
		LedgerStore:  ledgerStore,
		RatesURL:     ratesURL,
		MatchProfile: matchProfile,
		PoolLimit:    poolLimit,
		AutoApply:    autoApply,
	})
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	result, err := service.ProcessExtraction(ctx, invoices)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	if err := writeReport(result); err != nil {
		os.Exit(handler.HandleError(err))
	}
	return nil
}

// buildStores resolves the shipment pool and ledger backend from the
// flags: SQLite when --db is set, otherwise an in-memory pool loaded
// from the JSON export.
func buildStores(ctx context.Context) (reconciler.ShipmentRepository, ledger.Store, func(), error) {
	if dbPath != "" {
		db, err := store.Open(dbPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return db.ShipmentRepository(), db.LedgerStore(), func() { db.Close() }, nil
	}

	shipments, err := parsers.NewShipmentParser().ParseFile(shipmentsFile)
	if err != nil {
		return nil, nil, nil, err
	}
	return config.NewStaticRepository(shipments), ledger.NewMemoryStore(), func() {}, nil
}

func writeReport(result *reconciler.RunResult) error {
	reportConfig := reporter.DefaultReportConfig()
	reportConfig.Format = reporter.OutputFormat(outputFormat)

	generator, err := reporter.NewReportGenerator(reportConfig)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	return generator.GenerateReport(result, out)
}
