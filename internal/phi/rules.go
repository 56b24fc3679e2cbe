package phi

import "regexp"

// Rule is a single pattern-detection rule. When the expression contains a
// capture group, the span covers group 1 only; this is how anchored rules
// (keyword + value) report just the value, e.g. "DOB: 03/15/1980" yields a
// span over "03/15/1980".
type Rule struct {
	Name       string
	Label      Label
	Pattern    *regexp.Regexp
	Confidence float64
}

// Confidence constants are calibrated by format specificity: an anchored
// keyword match carries less false-positive risk than a bare pattern, so it
// scores higher (anchored DOB 0.90 vs bare numeric date 0.83).
const (
	confEmail       = 0.95
	confSSN         = 0.92
	confAnchoredDOB = 0.90
	confMRN         = 0.90
	confURL         = 0.90
	confAccount     = 0.88
	confISODate     = 0.85
	confNamedDate   = 0.85
	confPhone       = 0.85
	confNumericDate = 0.83
	confProvider    = 0.80
	confIPv4        = 0.70
)

const monthAbbrev = `(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)`

// DefaultRules returns the fixed battery of format-specific matchers.
// Order matters only for stable output; overlap resolution happens in the
// merge engine, and exact-range duplicates are collapsed by the detector.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "email",
			Label:      LabelEmail,
			Pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			Confidence: confEmail,
		},
		{
			Name:       "ssn",
			Label:      LabelSSN,
			Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Confidence: confSSN,
		},
		{
			Name:       "mrn",
			Label:      LabelMRN,
			Pattern:    regexp.MustCompile(`(?i)\b(?:MRN|medical record (?:number|no\.?|#))\s*[:#]?\s*([A-Za-z0-9\-]{4,12})\b`),
			Confidence: confMRN,
		},
		{
			Name:       "account",
			Label:      LabelAccount,
			Pattern:    regexp.MustCompile(`(?i)\b(?:account|acct\.?)\s*(?:number|no\.?|#)?\s*[:#]?\s*(\d{4,16})\b`),
			Confidence: confAccount,
		},
		{
			Name:       "dob_anchored",
			Label:      LabelDate,
			Pattern:    regexp.MustCompile(`(?i)\b(?:DOB|date of birth|birth\s?date)\s*[:\-]?\s*(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`),
			Confidence: confAnchoredDOB,
		},
		{
			Name:       "date_iso",
			Label:      LabelDate,
			Pattern:    regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b`),
			Confidence: confISODate,
		},
		{
			Name:       "date_numeric",
			Label:      LabelDate,
			Pattern:    regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`),
			Confidence: confNumericDate,
		},
		{
			Name:       "date_day_month",
			Label:      LabelDate,
			Pattern:    regexp.MustCompile(`(?i)\b\d{1,2}[\s\-]` + monthAbbrev + `[a-z]*\.?[\s\-,]+\d{2,4}\b`),
			Confidence: confNamedDate,
		},
		{
			Name:       "date_month_day",
			Label:      LabelDate,
			Pattern:    regexp.MustCompile(`(?i)\b` + monthAbbrev + `[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{2,4})?\b`),
			Confidence: confNamedDate,
		},
		{
			Name:       "phone",
			Label:      LabelPhone,
			Pattern:    regexp.MustCompile(`(?:\+?1[-.\s])?\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b`),
			Confidence: confPhone,
		},
		{
			Name:       "url",
			Label:      LabelURL,
			Pattern:    regexp.MustCompile(`\bhttps?://[^\s<>"]+`),
			Confidence: confURL,
		},
		{
			Name:       "ipv4",
			Label:      LabelIP,
			Pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Confidence: confIPv4,
		},
		{
			Name:       "provider_name",
			Label:      LabelProvider,
			Pattern:    regexp.MustCompile(`\b(?:Dr\.?|Doctor)\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`),
			Confidence: confProvider,
		},
	}
}
