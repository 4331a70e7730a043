package ocr

import "strings"

// snippet returns a shortened version of text for logging.
func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// NormalizeText replaces newlines and vertical bars (table borders read by OCR)
// with spaces, collapses whitespace runs and trims the result.
func NormalizeText(t string) string {
	t = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ", "|", " ").Replace(t)
	return strings.Join(strings.Fields(t), " ")
}
