package parsers

import (
	"strings"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Reasons reported by DocumentValidator
const (
	ReasonEmpty       = "document has no content"
	ReasonNotMarkup   = "document is not HTML markup"
	ReasonNotProvider = "document does not look like a Google Takeout export"
)

// DocumentValidator rejects input that cannot be a provider activity export
type DocumentValidator struct {
	markers []string
	logger  logger.Logger
}

// NewDocumentValidator creates a validator using the provider markers from config
func NewDocumentValidator(config *ParserConfig, log logger.Logger) (*DocumentValidator, error) {
	if config == nil {
		config = DefaultParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingestion", config, err)
	}

	markers := make([]string, 0, len(config.ProviderMarkers))
	for _, marker := range config.ProviderMarkers {
		markers = append(markers, strings.ToLower(strings.TrimSpace(marker)))
	}

	return &DocumentValidator{
		markers: markers,
		logger:  logger.OrGlobal(log).WithComponent("document_validator"),
	}, nil
}

// Validate returns nil for an acceptable document or an InvalidDocumentError naming the reason
func (v *DocumentValidator) Validate(doc models.RawDocument) error {
	if strings.TrimSpace(doc.Content) == "" {
		return v.reject(doc, ReasonEmpty)
	}

	if !looksLikeMarkup(doc.Content) {
		return v.reject(doc, ReasonNotMarkup)
	}

	lower := strings.ToLower(doc.Content)
	for _, marker := range v.markers {
		if strings.Contains(lower, marker) {
			return nil
		}
	}

	return v.reject(doc, ReasonNotProvider)
}

func (v *DocumentValidator) reject(doc models.RawDocument, reason string) error {
	v.logger.WithFields(logger.Fields{
		"file_name": doc.FileName,
		"reason":    reason,
		"bytes":     len(doc.Content),
	}).Debug("Rejected document")
	return errors.InvalidDocumentError(reason).WithContext("file_name", doc.FileName)
}

// looksLikeMarkup tokenizes the content and requires an html or body element
func looksLikeMarkup(content string) bool {
	z := html.NewTokenizer(strings.NewReader(content))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Html, atom.Body:
				return true
			}
		}
	}
}
