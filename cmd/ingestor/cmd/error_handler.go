package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler turns command errors into user-facing messages and exit codes
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a handler writing to out
func NewCLIErrorHandler(out io.Writer) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if ingestErr, ok := errors.AsIngestError(err); ok {
		return h.handleIngestError(ingestErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleIngestError(err *errors.IngestError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryDocument:
		return `Document error help:
• Export your activity from Google Takeout as HTML ("My Activity" for Google Pay)
• Pass the exported .html file itself, not the Takeout archive
• Check that the file is not empty or truncated`

	case errors.CategoryExtraction:
		return `Extraction error help:
• Check that the export contains payment activity
• Try extraction.mode=external with a converter if the layout is unusual
• Run with --verbose to see which extraction strategy was used`

	case errors.CategoryExternal:
		return `External extractor help:
• Check that extraction.command is installed and on PATH
• Raise extraction.timeout for very large exports
• Run the command by hand on the file to see its diagnostics`

	case errors.CategoryNormalization, errors.CategoryValidation:
		return `Validation error help:
• Check flag values such as --select positions and --output-format
• Use --preview to list record positions before selecting
• Check amounts, dates and currencies in the export`

	case errors.CategoryOwner:
		return `Owner error help:
• Pass --owner-id for an existing owner or --external-ref to create one
• Check that the owner id exists in the configured store`

	case errors.CategoryPersistence, errors.CategoryInternal:
		return `Storage error help:
• Check store.driver and store.url in the configuration
• Verify the database is reachable and the user can write
• Records already stored are reported; retrying may flag them as duplicates`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and INGESTOR_* environment variables
• Verify configuration file syntax if using --config
• Use 'ingestor ingest --help' to see all available options`

	default:
		return `For more help:
• Use 'ingestor --help' for general help
• Use 'ingestor ingest --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory") ||
		strings.Contains(err.Error(), "does not exist")
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) || errors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied")
}

func isDiskFullError(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") || strings.Contains(errStr, "disk full")
}
