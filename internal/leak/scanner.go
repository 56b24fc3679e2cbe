// Package leak implements the final-mile scanner: a pure, deterministic
// check for residual absolute-date-like text in output that is about to
// leave the system. Any non-zero count blocks submission; the gate fails
// closed, never open.
package leak

import "regexp"

// Result is the transient outcome of one scan. Recomputed on demand,
// never persisted.
type Result struct {
	Count int `json:"count"`
}

var (
	// tokenRe matches only the exact token shapes this system emits:
	// bare markers like [EMAIL], date tokens [DATE: T-42 DAYS] and
	// [DATE: REDACTED], and bundle headers [DOC:OPERATIVE SEQ:2 T+14].
	// Anything else in brackets is ordinary text and stays in scope;
	// a raw date must not be able to hide behind brackets.
	tokenRe = regexp.MustCompile(`\[(?:[A-Z]+|DATE: (?:T[+-]\d+ DAYS|REDACTED)|DOC:[^][]* SEQ:\d+ T[+-]\d+)\]`)

	// Three independent date shapes. Independent on purpose: a missed
	// class in one grammar must not silence the others.
	isoDateRe     = regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b`)
	numericDateRe = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)
	namedDateRe   = regexp.MustCompile(`(?i)\b(?:\d{1,2}[\s\-])?(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?[\s\-,]+\d{1,4}(?:,?\s+\d{2,4})?\b`)
)

// Scan counts residual date-like substrings. Recognized system tokens
// are excluded from scanning, but their payloads are still checked for
// date shapes first: a token-shaped fragment carrying a real date counts
// as a leak, it is never silently discarded.
func Scan(text string) Result {
	count := 0
	stripped := tokenRe.ReplaceAllStringFunc(text, func(token string) string {
		count += countDates(token)
		return " "
	})
	count += countDates(stripped)

	return Result{Count: count}
}

func countDates(s string) int {
	return len(isoDateRe.FindAllStringIndex(s, -1)) +
		len(numericDateRe.FindAllStringIndex(s, -1)) +
		len(namedDateRe.FindAllStringIndex(s, -1))
}

// Clean reports whether text carries no residual date-like content.
func Clean(text string) bool {
	return Scan(text).Count == 0
}
