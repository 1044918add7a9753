package parsers

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"takeout-ingestion-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// amountPattern matches a currency symbol or ISO code followed by a numeral run.
	// The numeral run is deliberately loose so malformed tokens like "$1.2.3" are seen and then skipped.
	amountPattern = regexp.MustCompile(`[-−]?(?:[$₹€£¥]|\b(?:USD|INR|EUR|GBP|JPY)\s?)\s?[-−]?\d[\d.,]*`)

	datePattern = regexp.MustCompile(`\b(?:\d{4}[/-]\d{1,2}[/-]\d{1,2}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4})\b`)

	recipientPattern = regexp.MustCompile(`(?i)^\s*(?:to|from)\s+(.+?)(?:\s+(?:using|via|with|on)\b.*)?$`)
	methodPattern    = regexp.MustCompile(`(?i)\busing\s+(.+?)(?:\s+(?:[Xx*•]{2,}\s?\d{2,}|ending\b).*)?$`)
	accountPattern   = regexp.MustCompile(`(?i)(?:[Xx*•]{2,}\s?\d{2,4}\b|ending(?:\s+in)?\s+\d{2,4}\b)`)
	txnIDPattern     = regexp.MustCompile(`(?i)\b(?:upi\s+)?(?:transaction|txn|ref(?:erence)?)\s*(?:id|no\.?|number)?\s*[:#]?\s*([A-Za-z0-9]*\d[A-Za-z0-9-]{4,})`)
	statusPattern    = regexp.MustCompile(`(?i)\b(completed|pending|failed|cancell?ed|processing)\b`)
)

// amountToken is one currency-prefixed number found in a text run
type amountToken struct {
	text     string
	value    decimal.Decimal
	currency string
	start    int
	end      int
}

// findAmounts returns every parseable amount token in text, skipping malformed numerals
func findAmounts(text string) []amountToken {
	var tokens []amountToken
	for _, loc := range amountPattern.FindAllStringIndex(text, -1) {
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,")
		value, currency, err := models.ParseAmount(raw)
		if err != nil || value.IsZero() {
			continue
		}
		tokens = append(tokens, amountToken{
			text:     raw,
			value:    value,
			currency: currency,
			start:    loc[0],
			end:      loc[0] + len(raw),
		})
	}
	return tokens
}

// collapseWhitespace replaces whitespace runs with single spaces and trims the ends
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most n runes without splitting a character
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// rowDetails holds the optional fields mined from a row's text around the amount
type rowDetails struct {
	recipient     string
	paymentMethod string
	account       string
	transactionID string
	status        string
}

// mineDetails pulls recipient, payment method, account fragment, transaction id and status
// out of the text following the amount token
func mineDetails(full, tail string) rowDetails {
	var d rowDetails

	if m := recipientPattern.FindStringSubmatch(tail); m != nil {
		d.recipient = truncateRunes(collapseWhitespace(m[1]), 60)
	}
	if m := methodPattern.FindStringSubmatch(tail); m != nil {
		d.paymentMethod = truncateRunes(collapseWhitespace(m[1]), 60)
	}
	if m := accountPattern.FindString(full); m != "" {
		d.account = m
	}
	if m := txnIDPattern.FindStringSubmatch(full); m != nil {
		d.transactionID = m[1]
	}
	if m := statusPattern.FindString(full); m != "" {
		d.status = m
	}

	return d
}

// hasIncomeKeyword reports whether text starts with or contains a money-in verb
func hasIncomeKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
