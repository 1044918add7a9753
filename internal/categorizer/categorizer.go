// Package categorizer assigns a spending category to free transaction text.
//
// Categorization is a pure keyword lookup over an ordered rule table: the first rule with
// a keyword matching whole words of the folded text wins, and text matching no rule falls into the
// catch-all category. The same text always yields the same category.
package categorizer

import (
	"fmt"
	"strings"
	"unicode"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/textfold"
)

// DefaultCategory is assigned when no rule matches
const DefaultCategory = models.CategoryShopping

// Rule maps a set of keywords to a category
type Rule struct {
	Category models.Category `json:"category" mapstructure:"category"`
	Keywords []string        `json:"keywords" mapstructure:"keywords"`
}

// DefaultRules returns the built-in rule table in priority order
func DefaultRules() []Rule {
	return []Rule{
		{Category: models.CategoryFoodDining, Keywords: []string{
			"restaurant", "food", "dining", "cafe", "coffee", "pizza", "burger", "kitchen", "eatery", "meal",
		}},
		{Category: models.CategoryTransportation, Keywords: []string{
			"uber", "lyft", "taxi", "cab", "transport", "gas", "fuel", "parking", "metro", "train", "bus",
		}},
		{Category: models.CategoryEntertainment, Keywords: []string{
			"movie", "cinema", "netflix", "spotify", "entertainment", "game", "concert", "theatre",
		}},
		{Category: models.CategoryShopping, Keywords: []string{
			"amazon", "shop", "store", "mall", "retail", "purchase", "buy", "market",
		}},
		{Category: models.CategoryBillsUtilities, Keywords: []string{
			"electric", "water", "gas", "bill", "utility", "internet", "phone", "mobile",
		}},
		{Category: models.CategoryIncome, Keywords: []string{
			"salary", "income", "payment received", "deposit", "transfer in", "received", "refund", "cashback",
		}},
	}
}

// Categorizer is an immutable, concurrency-safe keyword categorizer
type Categorizer struct {
	rules []Rule
}

// New validates and copies rules; a nil or empty table uses DefaultRules
func New(rules []Rule) (*Categorizer, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	copied := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		if !rule.Category.IsValid() || rule.Category == models.CategoryUncategorized {
			return nil, fmt.Errorf("rule %d: category %q is not an assignable category", i, rule.Category)
		}

		keywords := make([]string, 0, len(rule.Keywords))
		for _, keyword := range rule.Keywords {
			if words := joinWords(keyword); words != "" {
				keywords = append(keywords, words)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): at least one keyword is required", i, rule.Category)
		}

		copied = append(copied, Rule{Category: rule.Category, Keywords: keywords})
	}

	return &Categorizer{rules: copied}, nil
}

// Default returns a categorizer over DefaultRules
func Default() *Categorizer {
	c, err := New(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Categorize returns the category of the first rule matching text, or DefaultCategory.
// Keywords match whole words of the folded text; a trailing plural "s" or "es" is allowed.
func (c *Categorizer) Categorize(text string) models.Category {
	words := joinWords(text)
	if words == "" {
		return DefaultCategory
	}
	padded := " " + words + " "

	for _, rule := range c.rules {
		for _, keyword := range rule.Keywords {
			if matchesWord(padded, keyword) {
				return rule.Category
			}
		}
	}

	return DefaultCategory
}

// joinWords folds s and joins its letter/digit runs with single spaces
func joinWords(s string) string {
	return strings.Join(strings.FieldsFunc(textfold.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func matchesWord(padded, keyword string) bool {
	for _, suffix := range []string{"", "s", "es"} {
		if strings.Contains(padded, " "+keyword+suffix+" ") {
			return true
		}
	}
	return false
}

// Rules returns a copy of the rule table in priority order
func (c *Categorizer) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, rule := range c.rules {
		out[i] = Rule{Category: rule.Category, Keywords: append([]string(nil), rule.Keywords...)}
	}
	return out
}
