package errors

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the ingestion stage that produced them
type ErrorCategory string

const (
	CategoryDocument      ErrorCategory = "document"
	CategoryExtraction    ErrorCategory = "extraction"
	CategoryExternal      ErrorCategory = "external"
	CategoryNormalization ErrorCategory = "normalization"
	CategoryOwner         ErrorCategory = "owner"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryValidation    ErrorCategory = "validation"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Document errors
	CodeInvalidDocument ErrorCode = "invalid_document"

	// Extraction errors
	CodeExtractionEmpty ErrorCode = "extraction_empty"

	// External extraction service errors
	CodeExternalProcess ErrorCode = "external_process"
	CodeExternalTimeout ErrorCode = "external_timeout"
	CodeExternalOutput  ErrorCode = "external_output"

	// Per-record errors
	CodeNormalizationFailed ErrorCode = "normalization_failed"
	CodePersistenceFailed   ErrorCode = "persistence_failed"

	// Owner errors
	CodeMissingOwnerRef ErrorCode = "missing_owner_ref"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Validation errors
	CodeMissingField ErrorCode = "missing_field"
	CodeOutOfRange   ErrorCode = "out_of_range"
	CodeInvalidValue ErrorCode = "invalid_value"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeStoreFailure    ErrorCode = "store_failure"
)

// IngestError is the base error type for all application errors
type IngestError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *IngestError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *IngestError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate process exit code for the error
func (e *IngestError) GetExitCode() int {
	switch e.Category {
	case CategoryDocument, CategoryExtraction:
		return 2
	case CategoryNormalization, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryOwner, CategoryPersistence, CategoryInternal:
		return 5
	case CategoryExternal:
		return 6
	default:
		return 1
	}
}

// HTTPStatus maps the error onto the status an HTTP caller should see
func (e *IngestError) HTTPStatus() int {
	switch e.Category {
	case CategoryDocument, CategoryOwner, CategoryValidation:
		return http.StatusBadRequest
	case CategoryExtraction, CategoryNormalization:
		return http.StatusUnprocessableEntity
	case CategoryExternal:
		if e.Code == CodeExternalTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Recoverable reports whether the error only affects a single record and
// the surrounding ingestion may continue
func (e *IngestError) Recoverable() bool {
	return e.Category == CategoryNormalization || e.Category == CategoryPersistence
}

// WithContext adds context information to the error
func (e *IngestError) WithContext(key string, value interface{}) *IngestError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *IngestError) WithSuggestion(suggestion string) *IngestError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IngestError
func New(category ErrorCategory, code ErrorCode, message string) *IngestError {
	return &IngestError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with IngestError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *IngestError {
	if err == nil {
		return nil
	}

	return &IngestError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newOrWrap(err error, category ErrorCategory, code ErrorCode, message string) *IngestError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// InvalidDocumentError reports input that is empty, not markup, or not a provider export
func InvalidDocumentError(reason string) *IngestError {
	return New(CategoryDocument, CodeInvalidDocument, fmt.Sprintf("invalid document: %s", reason)).
		WithSuggestion("upload the HTML activity file from a Google Takeout export").
		WithContext("reason", reason)
}

// ExtractionEmptyError reports a well-formed document with no recognizable transactions
func ExtractionEmptyError(fileName string) *IngestError {
	message := "no transactions found in document"
	if fileName != "" {
		message = fmt.Sprintf("no transactions found in %s", fileName)
	}
	return New(CategoryExtraction, CodeExtractionEmpty, message).
		WithSuggestion("check that the export contains payment activity with amounts and dates").
		WithContext("file_name", fileName)
}

// ExternalProcessError reports a failed, timed-out, or unparseable external extraction run
func ExternalProcessError(code ErrorCode, diagnostic string, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeExternalTimeout:
		message = "external extraction service timed out"
		suggestion = "increase extraction.timeout or switch extraction.mode to local"
	case CodeExternalOutput:
		message = "external extraction service returned unreadable output"
		suggestion = "ensure the extraction command prints a JSON array of transactions to stdout"
	default:
		code = CodeExternalProcess
		message = "external extraction service failed"
		suggestion = "check extraction.command and its diagnostic output"
	}

	return newOrWrap(err, CategoryExternal, code, message).
		WithSuggestion(suggestion).
		WithContext("diagnostic", diagnostic)
}

// NormalizationError reports a candidate that could not be coerced into a transaction
func NormalizationError(field string, value interface{}, err error) *IngestError {
	message := fmt.Sprintf("cannot normalize field '%s': %v", field, value)
	return newOrWrap(err, CategoryNormalization, CodeNormalizationFailed, message).
		WithSuggestion("the record was skipped; the rest of the document was still processed").
		WithContext("field", field).
		WithContext("value", value)
}

// MissingOwnerRefError reports that no owner could be identified for a commit
func MissingOwnerRefError() *IngestError {
	return New(CategoryOwner, CodeMissingOwnerRef, "no owner identifier supplied").
		WithSuggestion("provide an owner id or an external reference such as a wallet address")
}

// PersistenceError reports a store failure for a single selected record
func PersistenceError(index int, err error) *IngestError {
	return newOrWrap(err, CategoryPersistence, CodePersistenceFailed,
		fmt.Sprintf("failed to persist transaction at position %d", index)).
		WithSuggestion("retry the ingestion; already committed records are not duplicated by the owner lookup").
		WithContext("index", index)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return newOrWrap(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use default values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeStoreFailure:
		message = fmt.Sprintf("store failure during %s", operation)
		suggestion = "check database connectivity and try again"
	default:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	}

	return newOrWrap(err, CategoryInternal, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*IngestError        `json:"errors"`
	SampleErrors []*IngestError        `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*IngestError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*IngestError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	categories := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// AsIngestError extracts an IngestError from an error chain
func AsIngestError(err error) (*IngestError, bool) {
	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code anywhere in its chain
func IsCode(err error, code ErrorCode) bool {
	ingestErr, ok := AsIngestError(err)
	return ok && ingestErr.Code == code
}

// WrapIfNeeded wraps an error if it's not already an IngestError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *IngestError {
	if err == nil {
		return nil
	}

	if ingestErr, ok := AsIngestError(err); ok {
		return ingestErr
	}

	return Wrap(err, category, code, message)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
