package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"takeout-ingestion-service/internal/ingest"
	"takeout-ingestion-service/internal/matcher"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with format and output fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
	stderr io.Writer
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          logger.OrGlobal(log).WithComponent("reporter"),
		stderr:          os.Stderr,
	}, nil
}

// GenerateReportSafely renders an ingestion result, falling back to console
// format or a backup file when the primary attempt fails
func (srg *SafeReportGenerator) GenerateReportSafely(result *ingest.IngestResult, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a valid ingest result")
	}
	return srg.run("report", writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateReport(result, w)
	})
}

// GeneratePreviewSafely renders a prepared batch with the same fallbacks
func (srg *SafeReportGenerator) GeneratePreviewSafely(batch *matcher.Batch, rejected []ingest.Rejection, writer io.Writer) error {
	if batch == nil {
		return errors.ValidationError(errors.CodeMissingField, "batch", nil, nil).
			WithSuggestion("Provide a prepared batch")
	}
	return srg.run("preview", writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GeneratePreview(batch, rejected, w)
	})
}

type renderFunc func(rg *ReportGenerator, w io.Writer) error

func (srg *SafeReportGenerator) run(kind string, writer io.Writer, render renderFunc) error {
	log := srg.logger.WithFields(logger.Fields{
		"kind":   kind,
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	})
	log.Info("Starting report generation")

	if writer == nil {
		err := errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
		log.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(writer, render); err != nil {
		log.WithError(err).Error("Report generation failed")
		return err
	}

	log.Info("Report generation completed successfully")
	return nil
}

func (srg *SafeReportGenerator) generateWithFallback(writer io.Writer, render renderFunc) error {
	err := render(srg.ReportGenerator, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.shouldAttemptOutputFallback(err, writer) {
		return srg.generateWithOutputFallback(writer, render, err)
	}

	if srg.config.Format != FormatConsole {
		return srg.generateWithFormatFallback(writer, render, err)
	}

	return srg.wrapGenerationError(err)
}

func (srg *SafeReportGenerator) generateWithFormatFallback(writer io.Writer, render renderFunc, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := render(fallbackGenerator, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated successfully using format fallback")
	return nil
}

func (srg *SafeReportGenerator) shouldAttemptOutputFallback(err error, writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok && file.Name() != "" {
		return isFileError(err)
	}
	return false
}

func (srg *SafeReportGenerator) generateWithOutputFallback(writer io.Writer, render renderFunc, originalErr error) error {
	file, ok := writer.(*os.File)
	if !ok {
		return srg.wrapGenerationError(originalErr)
	}

	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	backupFile, err := os.Create(backupPath)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}
	defer backupFile.Close()

	if err := render(srg.ReportGenerator, backupFile); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Info("Report generated successfully using output fallback")
	fmt.Fprintf(srg.stderr, "Warning: Could not write to %s, report saved to %s\n", originalPath, backupPath)

	return nil
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if ingestErr, ok := errors.AsIngestError(err); ok {
		return ingestErr
	}

	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case nil:
		return "none"
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
