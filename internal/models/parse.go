package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a document gives no usable currency
const DefaultCurrency = "USD"

// currencySymbols maps the symbols seen in exports to ISO codes
var currencySymbols = map[string]string{
	"$": "USD",
	"₹": "INR",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

// SupportedCurrencies is the default set of codes the normalizer keeps as-is
var SupportedCurrencies = []string{"USD", "INR", "EUR", "GBP", "JPY"}

// CurrencyForSymbol returns the ISO code for a currency symbol or code, or "" if unknown
func CurrencyForSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if code, ok := currencySymbols[symbol]; ok {
		return code
	}
	upper := strings.ToUpper(symbol)
	for _, code := range SupportedCurrencies {
		if upper == code {
			return code
		}
	}
	return ""
}

// groupedNumeral accepts thousands grouping (1,234,567.89) and lakh grouping (1,23,45,678.90)
var groupedNumeral = regexp.MustCompile(`^(?:\d{1,3}(?:,\d{3})*|\d{1,2}(?:,\d{2})*,\d{3})(?:\.\d+)?$`)

// ParseAmount parses a currency-prefixed amount such as "$1,234.56", "-₹500" or "USD 12".
// It returns the signed value and the ISO currency code when one could be recognized.
func ParseAmount(s string) (decimal.Decimal, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, "", fmt.Errorf("amount string cannot be empty")
	}

	negative := false
	currency := ""
	var digits strings.Builder

	rest := s
	for code := range currencySymbols {
		if strings.Contains(rest, code) {
			currency = currencySymbols[code]
			rest = strings.ReplaceAll(rest, code, "")
			break
		}
	}
	if currency == "" {
		upper := strings.ToUpper(rest)
		for _, code := range SupportedCurrencies {
			if idx := strings.Index(upper, code); idx >= 0 {
				currency = code
				rest = rest[:idx] + rest[idx+len(code):]
				break
			}
		}
	}

	for _, r := range rest {
		switch {
		case r == '-' || r == '−':
			if digits.Len() > 0 {
				return decimal.Zero, currency, fmt.Errorf("invalid amount format '%s'", s)
			}
			negative = true
		case unicode.IsSpace(r):
		case r == ',' || r == '.' || unicode.IsDigit(r):
			digits.WriteRune(r)
		default:
			return decimal.Zero, currency, fmt.Errorf("invalid amount format '%s'", s)
		}
	}

	numeric := strings.TrimRight(digits.String(), ".,")
	if strings.Trim(numeric, ".,") == "" {
		return decimal.Zero, currency, fmt.Errorf("amount '%s' has no digits", s)
	}
	if strings.Contains(numeric, ",") {
		if !groupedNumeral.MatchString(numeric) {
			return decimal.Zero, currency, fmt.Errorf("invalid digit grouping in amount '%s'", s)
		}
		numeric = strings.ReplaceAll(numeric, ",", "")
	}

	d, err := decimal.NewFromString(numeric)
	if err != nil {
		return decimal.Zero, currency, fmt.Errorf("invalid decimal format '%s': %w", numeric, err)
	}
	if negative {
		d = d.Neg()
	}

	return d, currency, nil
}

// dateFormats are tried in order; month-first forms win over day-first ones
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-1-2",
	"2006/01/02",
	"2006/1/2",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"02/01/2006",
	"2/1/2006",
	"01-02-2006",
	"1-2-2006",
	"02-01-2006",
	"2-1-2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006, 3:04:05 PM",
}

// ParseTimeWithFormats attempts to parse time from string using the formats seen in exports
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	var lastErr error
	for _, format := range dateFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// MaskAccountNumber reduces an account number to its last four digits, e.g. "****1234".
// Values without digits yield "".
func MaskAccountNumber(raw string) string {
	var digits []rune
	for _, r := range raw {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) == 0 {
		return ""
	}
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return "****" + string(digits)
}

// SameDay reports whether a and b fall on the same calendar day in their own locations
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
