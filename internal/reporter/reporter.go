// Package reporter renders processing-run results for people and for
// downstream tooling.
//
// Supported output formats:
//   - Console: human-readable tabular output for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one comparison row per line for spreadsheet review
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"freight-reconciliation-service/internal/models"
	"freight-reconciliation-service/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeRows controls whether per-charge comparison rows appear in
	// console output; match summaries always appear.
	IncludeRows bool `json:"include_rows"`

	// CSVHeaders controls the header line in CSV output.
	CSVHeaders bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:      FormatConsole,
		IncludeRows: true,
		CSVHeaders:  true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	return nil
}

// ReportGenerator renders run results in the configured format.
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator.
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes the run result to the provided writer.
func (rg *ReportGenerator) GenerateReport(result *reconciler.RunResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("run result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.RunResult, writer io.Writer) error {
	fmt.Fprintf(writer, "INVOICE PROCESSING REPORT\n")
	fmt.Fprintf(writer, "Run: %s\n", result.RunID)
	fmt.Fprintf(writer, "Started: %s\n", result.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration: %v\n\n", result.Duration)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Shipments processed: %d\n", len(result.Outcomes))
	fmt.Fprintf(writer, "Matched:             %d\n", result.Matched)
	fmt.Fprintf(writer, "Unmatched:           %d\n\n", result.Unmatched)

	for _, outcome := range result.Outcomes {
		rg.printOutcome(outcome, writer)
	}
	return nil
}

func (rg *ReportGenerator) printOutcome(outcome reconciler.ShipmentOutcome, writer io.Writer) {
	label := outcome.Invoice.ShipmentID
	if label == "" {
		label = outcome.Invoice.InvoiceRef
	}

	fmt.Fprintf(writer, "--- Shipment %s ---\n", label)
	if outcome.Match.Matched {
		fmt.Fprintf(writer, "Matched to %s (%.0f%% confidence, %s)\n",
			outcome.Match.MatchedShipmentID, outcome.Match.Confidence, outcome.Match.Method)
	} else {
		fmt.Fprintf(writer, "No match (%s)\n", outcome.Match.Method)
	}

	if rg.config.IncludeRows && len(outcome.Rows) > 0 {
		fmt.Fprintf(writer, "%-6s %-28s %12s %12s %12s %-8s %s\n",
			"CODE", "NAME", "INVOICE", "SYS COST", "VARIANCE", "SIDE", "RECOMMENDATION")
		for _, row := range outcome.Rows {
			fmt.Fprintf(writer, "%-6s %-28s %12s %12s %12s %-8s %s (%.0f%%)\n",
				row.Code, truncate(row.Name, 28),
				row.InvoiceAmount.StringFixed(2),
				row.SystemActualCost.StringFixed(2),
				row.VarianceCost.StringFixed(2),
				rowSide(row),
				row.Recommendation, row.RecommendationConfidence)
		}
	}

	if outcome.AutoApplied != nil {
		fmt.Fprintf(writer, "Auto-applied %d, skipped %d, rejected %d; status %s\n",
			len(outcome.AutoApplied.Applied), len(outcome.AutoApplied.Skipped),
			len(outcome.AutoApplied.Rejected), outcome.AutoApplied.Status)
	}
	fmt.Fprintf(writer, "\n")
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.RunResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func (rg *ReportGenerator) generateCSVReport(result *reconciler.RunResult, writer io.Writer) error {
	w := csv.NewWriter(writer)
	defer w.Flush()

	if rg.config.CSVHeaders {
		if err := w.Write([]string{
			"invoice_shipment", "matched_shipment", "match_confidence", "charge_code", "charge_name",
			"invoice_amount", "system_actual_cost", "variance_cost", "profit",
			"recommendation", "recommendation_confidence",
		}); err != nil {
			return err
		}
	}

	for _, outcome := range result.Outcomes {
		for _, row := range outcome.Rows {
			record := []string{
				outcome.Invoice.ShipmentID,
				outcome.Match.MatchedShipmentID,
				strconv.FormatFloat(outcome.Match.Confidence, 'f', 0, 64),
				row.Code,
				row.Name,
				row.InvoiceAmount.StringFixed(2),
				row.SystemActualCost.StringFixed(2),
				row.VarianceCost.StringFixed(2),
				row.Profit.StringFixed(2),
				string(row.Recommendation),
				strconv.FormatFloat(row.RecommendationConfidence, 'f', 0, 64),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
	}
	return w.Error()
}

func rowSide(row models.ComparisonRow) string {
	switch {
	case row.Matched:
		return "both"
	case row.InvoiceAmount.IsZero():
		return "system"
	default:
		return "invoice"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
