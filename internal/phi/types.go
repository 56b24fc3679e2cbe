package phi

import "sort"

// Label classifies the kind of protected health information a span carries.
type Label string

// Supported PHI labels.
const (
	LabelEmail    Label = "EMAIL"
	LabelPhone    Label = "PHONE"
	LabelSSN      Label = "SSN"
	LabelMRN      Label = "MRN"
	LabelAccount  Label = "ACCOUNT"
	LabelURL      Label = "URL"
	LabelIP       Label = "IP"
	LabelDate     Label = "DATE"
	LabelProvider Label = "PROVIDER"
	LabelOther    Label = "OTHER"
)

// Source identifies which detector produced a span.
type Source string

const (
	SourcePattern Source = "pattern"
	SourceModel   Source = "model"
	SourceManual  Source = "manual"
)

// Span is a half-open character range [Start,End) in a text buffer with an
// associated label, confidence and provenance. End must be strictly greater
// than Start; IDs are unique within a detection session.
type Span struct {
	ID         string  `json:"id"`
	Label      Label   `json:"label"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// Valid reports whether the span is a usable half-open range within a text
// of the given length. Pass a negative length to skip the bounds check.
func (s Span) Valid(textLen int) bool {
	if s.End <= s.Start || s.Start < 0 {
		return false
	}
	if textLen >= 0 && s.End > textLen {
		return false
	}
	return true
}

// Overlaps reports whether two half-open ranges intersect.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// SortSpans orders spans ascending by start, ties broken by descending end,
// so a longer match at the same start is visited first by any consumer that
// scans left to right and skips enclosed spans.
func SortSpans(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
}
