package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"takeout-ingestion-service/cmd/ingestor/config"
	"takeout-ingestion-service/internal/ingest"
	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/internal/owner"
	"takeout-ingestion-service/internal/reporter"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the ingest command
var (
	inputFile    string
	externalRef  string
	ownerID      string
	displayName  string
	email        string
	selectIdx    []int
	selectNone   bool
	previewOnly  bool
	outputFormat string
	outputFile   string
	showProgress bool
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a Takeout activity export",
	Long: `Ingest extracts the payments of one Google Pay Takeout activity export,
normalizes and categorizes them, flags likely duplicates and stores the
selected records for the owner given by --owner-id or --external-ref.

By default every record not flagged as a duplicate is stored. Use --select
to pick records by position (as listed by --preview), or --select-none to
store nothing.

Examples:
  # Preview what would be stored
  ingestor ingest --file "My Activity.html" --preview

  # Store the default selection for an owner
  ingestor ingest --file "My Activity.html" --external-ref 0xabc

  # Store chosen records and write a CSV report
  ingestor ingest --file activity.html --external-ref 0xabc --select 0,2 \
    --output-format csv --output-file report.csv`,

	PreRunE: validateIngestFlags,
	RunE:    runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&inputFile, "file", "f", "", "path to the Takeout activity HTML file (required)")

	ingestCmd.Flags().StringVar(&externalRef, "external-ref", "", "external owner reference (created on first use)")
	ingestCmd.Flags().StringVar(&ownerID, "owner-id", "", "id of an existing owner")
	ingestCmd.Flags().StringVar(&displayName, "display-name", "", "display name for a newly created owner")
	ingestCmd.Flags().StringVar(&email, "email", "", "email for a newly created owner")

	ingestCmd.Flags().IntSliceVar(&selectIdx, "select", nil, "comma-separated record positions to store")
	ingestCmd.Flags().BoolVar(&selectNone, "select-none", false, "store nothing")
	ingestCmd.Flags().BoolVar(&previewOnly, "preview", false, "list extracted records without storing anything")

	ingestCmd.Flags().StringVarP(&outputFormat, "output-format", "o", "console", "output format: console, json, csv")
	ingestCmd.Flags().StringVar(&outputFile, "output-file", "", "output file path (default: stdout)")
	ingestCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	_ = ingestCmd.MarkFlagRequired("file")
	ingestCmd.MarkFlagsMutuallyExclusive("select", "select-none")

	bindIngestFlags()
}

func bindIngestFlags() {
	_ = viper.BindPFlag("output-format", ingestCmd.Flags().Lookup("output-format"))
	_ = viper.BindPFlag("output-file", ingestCmd.Flags().Lookup("output-file"))
	_ = viper.BindPFlag("progress", ingestCmd.Flags().Lookup("progress"))
}

func validateIngestFlags(cmd *cobra.Command, args []string) error {
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	showProgress = viper.GetBool("progress")

	if err := validateFileExists(inputFile, "activity export"); err != nil {
		return err
	}

	if !reporter.OutputFormat(outputFormat).IsValid() {
		return errors.ValidationError(errors.CodeInvalidValue, "output-format", outputFormat, nil).
			WithSuggestion("use console, json or csv")
	}

	for _, i := range selectIdx {
		if i < 0 {
			return errors.ValidationError(errors.CodeOutOfRange, "select", i, nil).
				WithSuggestion("record positions start at 0")
		}
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.ValidationError(errors.CodeInvalidValue, "output-file", outputFile, err).
					WithSuggestion("create the output directory first")
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	return nil
}

// selection maps the selection flags onto the request selection; nil means the default policy
func selection() []int {
	switch {
	case selectNone:
		return []int{}
	case len(selectIdx) > 0:
		return selectIdx
	default:
		return nil
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetGlobalLogger().WithComponent("cli")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(inputFile)
	if err != nil {
		return errors.InvalidDocumentError(fmt.Sprintf("cannot read %s: %v", inputFile, err))
	}
	doc := models.RawDocument{Content: string(content), FileName: filepath.Base(inputFile)}

	stores, err := cfg.OpenStores(ctx)
	if err != nil {
		return err
	}
	defer stores.Close()

	orchestrator, err := cfg.BuildOrchestrator(stores, log, nil)
	if err != nil {
		return err
	}
	if showProgress {
		orchestrator.AddProgressCallback(func(p ingest.Progress) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\r[%d/%d] %s (%.1f%% complete)",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
		})
	}

	generator, err := reporter.NewSafeReportGenerator(config.ReportConfig(outputFormat), log)
	if err != nil {
		return err
	}

	output, closeOutput, err := openOutput(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOutput()

	if previewOnly {
		batch, rejected, err := orchestrator.Prepare(ctx, doc)
		if err != nil {
			return err
		}
		if sel := selection(); sel != nil {
			if _, err := batch.Select(sel); err != nil {
				return err
			}
		} else {
			batch.SelectDefault()
		}
		return generator.GeneratePreviewSafely(batch, rejected, output)
	}

	result, err := orchestrator.Ingest(ctx, &ingest.IngestRequest{
		Document:  doc,
		Hints:     owner.Hints{OwnerID: ownerID, ExternalRef: externalRef, DisplayName: displayName, Email: email},
		Selection: selection(),
	})
	if showProgress {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return err
	}

	if err := generator.GenerateReportSafely(result, output); err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"file":      doc.FileName,
		"found":     result.FoundCount,
		"committed": result.CommittedCount,
		"rejected":  result.RejectedCount(),
		"duration":  result.Duration,
	}).Debug("Ingestion completed")

	return nil
}

func openOutput(stdout io.Writer) (io.Writer, func(), error) {
	if outputFile == "" {
		return stdout, func() {}, nil
	}
	file, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return file, func() { file.Close() }, nil
}
