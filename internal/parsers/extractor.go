// Package parsers turns an uploaded provider activity export into candidate transactions.
//
// Google Takeout activity exports carry no schema: payments show up as table rows,
// Material Design cards, or free text, and the markup changes between export versions.
// This package therefore works heuristically and in layers:
//
//   - DocumentValidator rejects empty input, non-markup input, and markup that carries
//     no provider marker, before any extraction work is done.
//   - HTMLExtractor runs a structured pass over row-like nodes, requiring both a
//     currency-prefixed amount and a date in the same node, and falls back to a bounded
//     scan of the whole body text only when the structured pass finds nothing.
//   - ExternalExtractor hands the document to an external command through a temporary
//     file and reads a JSON array of transactions back from its standard output.
//
// Both extractors implement Extractor, and NewExtractor picks one from configuration so
// callers never branch on the extraction strategy themselves.
//
// Example usage:
//
//	validator, _ := NewDocumentValidator(DefaultParserConfig(), nil)
//	if err := validator.Validate(doc); err != nil {
//		return err
//	}
//	extractor, _ := NewHTMLExtractor(DefaultParserConfig(), nil, time.Now)
//	candidates, err := extractor.Extract(ctx, doc)
//
// Extraction never produces zero-amount records; a numeral that does not survive decimal
// parsing is skipped rather than emitted.
package parsers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extractor pulls candidate records out of a validated document
type Extractor interface {
	Extract(ctx context.Context, doc models.RawDocument) ([]*models.CandidateRecord, error)
}

// NewExtractor returns the Extractor configured by mode
func NewExtractor(mode ExtractionMode, parserConfig *ParserConfig, externalConfig *ExternalConfig, log logger.Logger, now func() time.Time) (Extractor, error) {
	switch mode {
	case ModeLocal, "":
		return NewHTMLExtractor(parserConfig, log, now)
	case ModeExternal:
		return NewExternalExtractor(externalConfig, log)
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extraction.mode", mode,
			fmt.Errorf("mode must be %q or %q", ModeLocal, ModeExternal))
	}
}

// HTMLExtractor is the in-process two-pass Extractor
type HTMLExtractor struct {
	config *ParserConfig
	logger logger.Logger
	now    func() time.Time
}

// NewHTMLExtractor creates a local extractor; now supplies the ingestion time for undated records
func NewHTMLExtractor(config *ParserConfig, log logger.Logger, now func() time.Time) (*HTMLExtractor, error) {
	if config == nil {
		config = DefaultParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingestion", config, err)
	}
	if now == nil {
		now = time.Now
	}

	return &HTMLExtractor{
		config: config,
		logger: logger.OrGlobal(log).WithComponent("html_extractor"),
		now:    now,
	}, nil
}

// Extract runs the structured pass and, if it yields nothing, the fallback pass
func (e *HTMLExtractor) Extract(ctx context.Context, doc models.RawDocument) ([]*models.CandidateRecord, error) {
	root, err := html.Parse(strings.NewReader(doc.Content))
	if err != nil {
		return nil, errors.InvalidDocumentError(ReasonNotMarkup).WithContext("file_name", doc.FileName)
	}

	log := e.logger.WithField("file_name", doc.FileName)

	candidates, err := e.structuredPass(ctx, root)
	if err != nil {
		return nil, err
	}
	log.WithField("candidates", len(candidates)).Debug("Structured pass finished")

	if len(candidates) == 0 {
		candidates, err = e.fallbackPass(ctx, root)
		if err != nil {
			return nil, err
		}
		log.WithField("candidates", len(candidates)).Debug("Fallback pass finished")
	}

	if len(candidates) == 0 {
		return nil, errors.ExtractionEmptyError(doc.FileName)
	}

	return candidates, nil
}

// structuredPass walks the tree and emits one candidate per innermost matching row node
func (e *HTMLExtractor) structuredPass(ctx context.Context, root *html.Node) ([]*models.CandidateRecord, error) {
	var candidates []*models.CandidateRecord

	var visit func(n *html.Node) (bool, error)
	visit = func(n *html.Node) (bool, error) {
		if isSkippable(n) {
			return false, nil
		}

		emitted := false
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			childEmitted, err := visit(child)
			if err != nil {
				return false, err
			}
			emitted = emitted || childEmitted
		}
		if emitted || !e.isRowNode(n) {
			return emitted, nil
		}

		if err := ctx.Err(); err != nil {
			return false, err
		}

		if candidate := e.candidateFromRow(nodeText(n)); candidate != nil {
			candidates = append(candidates, candidate)
			return true, nil
		}
		return false, nil
	}

	if _, err := visit(root); err != nil {
		return nil, err
	}
	return candidates, nil
}

// candidateFromRow builds a candidate when text holds both an amount and a date
func (e *HTMLExtractor) candidateFromRow(text string) *models.CandidateRecord {
	amounts := findAmounts(text)
	if len(amounts) == 0 {
		return nil
	}
	dateLoc := datePattern.FindStringIndex(text)
	if dateLoc == nil {
		return nil
	}

	amount := amounts[0]
	dateText := text[dateLoc[0]:dateLoc[1]]

	preceding := text[:amount.start]
	if dateLoc[1] <= amount.start {
		preceding = text[:dateLoc[0]] + " " + text[dateLoc[1]:amount.start]
	}
	preceding = collapseWhitespace(preceding)

	tail := text[amount.end:]
	if dateLoc[0] >= amount.end {
		tail = text[amount.end:dateLoc[0]]
	}
	details := mineDetails(text, tail)

	value := amount.value
	if value.IsPositive() && hasIncomeKeyword(preceding, e.config.IncomeKeywords) {
		value = value.Neg()
	}

	candidate := &models.CandidateRecord{
		AmountText:            amount.text,
		AmountValue:           value,
		Currency:              amount.currency,
		TimestampText:         dateText,
		DescriptionText:       e.describe(preceding, details.recipient),
		Recipient:             details.recipient,
		PaymentMethod:         details.paymentMethod,
		MaskedAccountNumber:   details.account,
		ExternalTransactionID: details.transactionID,
		StatusText:            details.status,
		Source:                models.SourceStructured,
	}
	if ts, err := models.ParseTimeWithFormats(dateText); err == nil {
		candidate.TimestampValue = ts
	}

	return candidate
}

// describe applies the description length rules, preferring a recipient over the placeholder
func (e *HTMLExtractor) describe(preceding, recipient string) string {
	description := truncateRunes(preceding, e.config.MaxDescriptionLength)
	if len([]rune(description)) >= e.config.MinDescriptionLength {
		return description
	}
	if recipient != "" {
		return truncateRunes(recipient, e.config.MaxDescriptionLength)
	}
	return e.config.DescriptionPlaceholder
}

// fallbackPass scans the body text for amounts regardless of structure
func (e *HTMLExtractor) fallbackPass(ctx context.Context, root *html.Node) ([]*models.CandidateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scope := findElement(root, atom.Body)
	if scope == nil {
		scope = root
	}

	ingestedAt := e.now()
	var candidates []*models.CandidateRecord
	for _, amount := range findAmounts(nodeText(scope)) {
		if len(candidates) >= e.config.FallbackLimit {
			break
		}
		candidates = append(candidates, &models.CandidateRecord{
			AmountText:      amount.text,
			AmountValue:     amount.value.Abs(),
			Currency:        amount.currency,
			TimestampValue:  ingestedAt,
			DescriptionText: fmt.Sprintf("%s %d", e.config.FallbackDescriptionPrefix, len(candidates)+1),
			Source:          models.SourceFallback,
		})
	}

	return candidates, nil
}

// isRowNode reports whether n is a table row or carries one of the row class hints
func (e *HTMLExtractor) isRowNode(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if n.DataAtom == atom.Tr {
		return true
	}
	class := strings.ToLower(attr(n, "class"))
	if class == "" {
		return false
	}
	for _, hint := range e.config.RowClassHints {
		if hint != "" && strings.Contains(class, hint) {
			return true
		}
	}
	return false
}

func isSkippable(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		return true
	}
	return false
}

// nodeText concatenates the visible text below n with single spaces
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isSkippable(n) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Br {
			b.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return collapseWhitespace(b.String())
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
