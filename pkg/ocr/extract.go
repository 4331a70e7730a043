package ocr

import (
	"regexp"
	"strings"
)

// Rule is one heuristic of the transaction-ID extractor. When Group is non-zero
// the submatch with that index is the candidate, otherwise the whole match.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Group   int
}

// DefaultRules are tried in order and the first match wins. Explicitly labelled
// references come first so incidental numbers (dates, amounts, phone numbers)
// elsewhere in the screenshot are only used when no label is present.
var DefaultRules = []Rule{
	{
		Name:    "tagged",
		Pattern: regexp.MustCompile(`(?i)\b(?:transaction\s*id|txn\s*id|ref(?:erence)?(?:\s*(?:no\.?|number|#))?|tid|payment\s*id|order\s*id)\s*[:\-]\s*([a-z0-9][a-z0-9-]{5,24})`),
		Group:   1,
	},
	{Name: "fixed17", Pattern: regexp.MustCompile(`(?i)\b[a-z0-9]{17}\b`)},
	{Name: "numeric", Pattern: regexp.MustCompile(`\b[0-9]{10,20}\b`)},
	{Name: "alnum", Pattern: regexp.MustCompile(`(?i)\b[a-z0-9]{8,25}\b`)},
}

// Match is an extracted transaction ID together with the rule that produced it.
type Match struct {
	ID   string
	Rule string
}

// Extractor applies an ordered list of rules to recognized text.
type Extractor struct {
	Rules []Rule
}

// NewExtractor returns an extractor over rules, or over DefaultRules when none are given.
func NewExtractor(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Extractor{Rules: rules}
}

// Extract normalizes text and returns the first rule match, upper-cased.
// It returns ErrNoTransactionID when nothing matches.
func (e *Extractor) Extract(text string) (Match, error) {
	norm := NormalizeText(text)
	if norm == "" {
		return Match{}, ErrNoTransactionID
	}
	for _, r := range e.Rules {
		m := r.Pattern.FindStringSubmatch(norm)
		if len(m) <= r.Group {
			continue
		}
		if id := strings.TrimSpace(m[r.Group]); id != "" {
			return Match{ID: strings.ToUpper(id), Rule: r.Name}, nil
		}
	}
	return Match{}, ErrNoTransactionID
}

var defaultExtractor = NewExtractor()

// ExtractTransactionID guesses a transaction/reference identifier in raw OCR text
// using DefaultRules. The result is a best-effort candidate, not a verified ID.
func ExtractTransactionID(text string) (string, error) {
	m, err := defaultExtractor.Extract(text)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}
