// Package reporter renders ingestion results and batch previews.
//
// Supported output formats:
//   - Console: human-readable summary with committed and rejected tables
//   - JSON: the result as served by the HTTP API
//   - CSV: one row per committed, rejected or previewed record
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GenerateReport(result, os.Stdout)
//	err = generator.GeneratePreview(batch, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"takeout-ingestion-service/internal/ingest"
	"takeout-ingestion-service/internal/matcher"
	"takeout-ingestion-service/internal/models"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats
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

	IncludeTransactions bool `json:"include_transactions"`
	IncludeRejections   bool `json:"include_rejections"`

	// MaxListItems truncates console lists; 0 prints everything
	MaxListItems  int  `json:"max_list_items"`
	TableMaxWidth int  `json:"table_max_width"`
	CSVDelimiter  rune `json:"csv_delimiter"`
	CSVHeaders    bool `json:"csv_headers"`
	SortByAmount  bool `json:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:              FormatConsole,
		IncludeTransactions: true,
		IncludeRejections:   true,
		MaxListItems:        50,
		TableMaxWidth:       120,
		CSVDelimiter:        ',',
		CSVHeaders:          true,
		SortByAmount:        false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}

	return nil
}

// ReportGenerator generates ingestion reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport writes an ingestion result in the configured format
func (rg *ReportGenerator) GenerateReport(result *ingest.IngestResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("ingest result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.writeJSON(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GeneratePreview writes a prepared batch, with duplicate flags and normalization
// rejections, without anything having been committed
func (rg *ReportGenerator) GeneratePreview(batch *matcher.Batch, rejected []ingest.Rejection, writer io.Writer) error {
	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsolePreview(batch, rejected, writer)
	case FormatJSON:
		return rg.writeJSON(NewPreview(batch, rejected), writer)
	case FormatCSV:
		return rg.generateCSVPreview(batch, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// Preview is the JSON shape of a prepared batch
type Preview struct {
	Batch    *matcher.Batch     `json:"batch"`
	Rejected []ingest.Rejection `json:"rejected"`
}

// NewPreview pairs a batch with its normalization rejections
func NewPreview(batch *matcher.Batch, rejected []ingest.Rejection) *Preview {
	if rejected == nil {
		rejected = []ingest.Rejection{}
	}
	return &Preview{Batch: batch, Rejected: rejected}
}

func (rg *ReportGenerator) writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *ingest.IngestResult, writer io.Writer) error {
	fmt.Fprintf(writer, "INGESTION REPORT\n")
	fmt.Fprintf(writer, "File: %s\n", result.FileName)
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", result.Duration)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(result, writer)
	fmt.Fprintf(writer, "\n")

	if result.Owner != nil {
		fmt.Fprintf(writer, "=== OWNER ===\n")
		fmt.Fprintf(writer, "ID:           %s\n", result.Owner.ID)
		fmt.Fprintf(writer, "External Ref: %s\n\n", result.Owner.ExternalRef)
	}

	if rg.config.IncludeTransactions && len(result.Transactions) > 0 {
		fmt.Fprintf(writer, "=== COMMITTED TRANSACTIONS ===\n")
		rg.printFinancialSummary(result.Transactions, writer)
		fmt.Fprintf(writer, "\n")
		rg.printTransactionList(result.Transactions, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeRejections && len(result.Rejected) > 0 {
		fmt.Fprintf(writer, "=== REJECTED RECORDS ===\n")
		if summary := result.ErrorSummary(); summary.Total > 1 {
			fmt.Fprintf(writer, "%s\n", summary.Error())
		}
		rg.printRejections(result.Rejected, writer)
	}

	return nil
}

func (rg *ReportGenerator) generateConsolePreview(batch *matcher.Batch, rejected []ingest.Rejection, writer io.Writer) error {
	fmt.Fprintf(writer, "INGESTION PREVIEW\n")
	fmt.Fprintf(writer, "File: %s\n\n", batch.FileName)

	fmt.Fprintf(writer, "Records:    %d\n", batch.Len())
	fmt.Fprintf(writer, "Duplicates: %d\n", batch.DuplicateCount())
	fmt.Fprintf(writer, "Rejected:   %d\n", len(rejected))
	fmt.Fprintf(writer, "Selected:   %d\n\n", len(batch.Selection))

	selected := make(map[int]bool, len(batch.Selection))
	for _, i := range batch.Selection {
		selected[i] = true
	}

	for i, tx := range batch.Transactions {
		if rg.truncated(i, batch.Len(), writer) {
			break
		}
		marker := " "
		if selected[i] {
			marker = "x"
		}
		fmt.Fprintf(writer, "  [%s] %d. %s", marker, i, rg.describeTransaction(tx))
		if flag, ok := batch.Flags[i]; ok {
			fmt.Fprintf(writer, "  (duplicate of %d)", flag.DuplicateOf)
		}
		fmt.Fprintf(writer, "\n")
	}

	if len(rejected) > 0 {
		fmt.Fprintf(writer, "\n=== REJECTED RECORDS ===\n")
		rg.printRejections(rejected, writer)
	}

	return nil
}

// generateCSVReport writes committed and rejected records as CSV rows
func (rg *ReportGenerator) generateCSVReport(result *ingest.IngestResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders("Outcome")); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	if rg.config.IncludeTransactions {
		for i, tx := range result.Transactions {
			if err := csvWriter.Write(csvRecord("Committed", i, tx, "")); err != nil {
				return fmt.Errorf("failed to write committed record: %w", err)
			}
		}
	}

	if rg.config.IncludeRejections {
		for _, rej := range result.Rejected {
			if err := csvWriter.Write(csvRecord("Rejected "+string(rej.Stage), rej.Index, rej.Transaction, rej.Reason)); err != nil {
				return fmt.Errorf("failed to write rejected record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) generateCSVPreview(batch *matcher.Batch, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders("Selected")); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, entry := range batch.Entries() {
		notes := ""
		if entry.Duplicate != nil {
			notes = fmt.Sprintf("duplicate of %d: %s", entry.Duplicate.DuplicateOf, entry.Duplicate.Reason)
		}
		record := csvRecord(strconv.FormatBool(entry.Selected), entry.Position, entry.Transaction, notes)
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write preview record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func csvHeaders(first string) []string {
	return []string{
		first,
		"Position",
		"ID",
		"Date",
		"Type",
		"Amount",
		"Currency",
		"Category",
		"Description",
		"Recipient",
		"Status",
		"Notes",
	}
}

func csvRecord(outcome string, position int, tx *models.NormalizedTransaction, notes string) []string {
	if tx == nil {
		return []string{outcome, strconv.Itoa(position), "", "", "", "", "", "", "", "", "", notes}
	}
	return []string{
		outcome,
		strconv.Itoa(position),
		tx.ID,
		tx.Date.Format("2006-01-02"),
		string(tx.Type),
		tx.Amount.StringFixed(2),
		tx.Currency,
		string(tx.Category),
		tx.Description,
		tx.Recipient,
		string(tx.Status),
		notes,
	}
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(result *ingest.IngestResult, writer io.Writer) {
	fmt.Fprintf(writer, "Found:      %d\n", result.FoundCount)
	fmt.Fprintf(writer, "Selected:   %d\n", result.SelectedCount)
	fmt.Fprintf(writer, "Committed:  %d (%.1f%%)\n",
		result.CommittedCount, rg.calculatePercentage(result.CommittedCount, result.FoundCount))
	fmt.Fprintf(writer, "Rejected:   %d (%.1f%%)\n",
		result.RejectedCount(), rg.calculatePercentage(result.RejectedCount(), result.FoundCount))
	fmt.Fprintf(writer, "Duplicates: %d\n", result.DuplicateCount)
}

// printFinancialSummary prints income and expense totals per currency
func (rg *ReportGenerator) printFinancialSummary(transactions []*models.NormalizedTransaction, writer io.Writer) {
	type totals struct{ income, expense decimal.Decimal }
	byCurrency := make(map[string]*totals)
	for _, tx := range transactions {
		t, ok := byCurrency[tx.Currency]
		if !ok {
			t = &totals{}
			byCurrency[tx.Currency] = t
		}
		if tx.Type == models.TransactionTypeIncome {
			t.income = t.income.Add(tx.Amount)
		} else {
			t.expense = t.expense.Add(tx.Amount)
		}
	}

	currencies := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	for _, c := range currencies {
		t := byCurrency[c]
		fmt.Fprintf(writer, "%s  Income: %s  Expense: %s  Net: %s\n",
			c, t.income.StringFixed(2), t.expense.StringFixed(2), t.income.Sub(t.expense).StringFixed(2))
	}
}

func (rg *ReportGenerator) printTransactionList(transactions []*models.NormalizedTransaction, writer io.Writer) {
	list := transactions
	if rg.config.SortByAmount {
		list = append([]*models.NormalizedTransaction(nil), transactions...)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Amount.GreaterThan(list[j].Amount)
		})
	}

	for i, tx := range list {
		if rg.truncated(i, len(list), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s\n", i+1, rg.describeTransaction(tx))
	}
}

func (rg *ReportGenerator) printRejections(rejected []ingest.Rejection, writer io.Writer) {
	for i, rej := range rejected {
		if rg.truncated(i, len(rejected), writer) {
			break
		}
		where := fmt.Sprintf("#%d", rej.Index)
		if rej.Position != nil {
			where += fmt.Sprintf(" (position %d)", *rej.Position)
		}
		fmt.Fprintf(writer, "  - %s %s [%s]: %s\n", rej.Stage, where, rej.Code, rej.Reason)
	}
}

// truncated prints the overflow line and reports true once MaxListItems is reached
func (rg *ReportGenerator) truncated(i, total int, writer io.Writer) bool {
	if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
		fmt.Fprintf(writer, "  ... and %d more\n", total-rg.config.MaxListItems)
		return true
	}
	return false
}

func (rg *ReportGenerator) describeTransaction(tx *models.NormalizedTransaction) string {
	description := tx.Description
	limit := rg.config.TableMaxWidth / 2
	if runes := []rune(description); len(runes) > limit {
		description = string(runes[:limit-3]) + "..."
	}
	return fmt.Sprintf("%s  %-7s %10s %s  %-18s %s",
		tx.Date.Format("2006-01-02"),
		tx.Type,
		tx.Amount.StringFixed(2),
		tx.Currency,
		tx.Category,
		strings.TrimSpace(description))
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
