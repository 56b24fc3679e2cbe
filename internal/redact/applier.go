// Package redact converts a finalized span set plus the original note text
// into redacted output. Replacements run right-to-left over the immutable
// input so no substitution can shift the offsets of spans still to be
// processed; violating that ordering corrupts every later span, which is
// why the ordering lives in exactly one place.
package redact

import (
	"strings"

	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/dates"
	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/phi"
)

// Options controls date handling during redaction.
type Options struct {
	// TranslateDates replaces DATE spans with relative-offset tokens
	// instead of generic markers. Requires Anchor.
	TranslateDates bool
	// Anchor is the episode index date offsets are computed against.
	Anchor *dates.Date
}

// Result carries the redacted text plus PHI-safe processing metadata.
type Result struct {
	Text string
	// Warnings holds per-span tokenizer warnings keyed by span ID.
	// Warning text never contains the raw substring.
	Warnings map[string]string
	// LabelCounts counts applied replacements per label.
	LabelCounts map[string]int
}

// dateRedactedMarker is the non-reversible fallback when a DATE span cannot
// be resolved to a calendar date. The raw substring must never survive.
const dateRedactedMarker = "[DATE: REDACTED]"

// Apply substitutes every span in text with its marker. Overlapping spans
// are grouped into clusters and each cluster's full covered range is
// replaced as one unit, so no original matched character can survive
// overlap. A span fully enclosed by text the cluster already covers adds
// no marker of its own. Spans outside the text bounds are skipped.
func Apply(text string, spans []phi.Span, opts Options, log *logger.Logger) Result {
	if log == nil {
		log = logger.Nop()
	}

	valid := make([]phi.Span, 0, len(spans))
	for _, span := range spans {
		if !span.Valid(len(text)) {
			log.Debug("Invalid span skipped",
				zap.String("span_id", span.ID),
				zap.Int("start", span.Start),
				zap.Int("end", span.End),
			)
			continue
		}
		valid = append(valid, span)
	}
	phi.SortSpans(valid)

	result := Result{
		Warnings:    make(map[string]string),
		LabelCounts: make(map[string]int),
	}

	// A cluster covers the contiguous range [start,end); every span added
	// to it either lies inside that range or extends end.
	type cluster struct {
		start, end int
		markers    []string
	}
	var clusters []cluster

	for _, span := range valid {
		if n := len(clusters); n > 0 && span.Start < clusters[n-1].end {
			c := &clusters[n-1]
			if span.End <= c.end {
				continue
			}
			marker, warning := markerFor(text[span.Start:span.End], span, opts)
			if warning != "" {
				result.Warnings[span.ID] = warning
			}
			c.markers = append(c.markers, marker)
			c.end = span.End
			result.LabelCounts[string(span.Label)]++
			continue
		}

		marker, warning := markerFor(text[span.Start:span.End], span, opts)
		if warning != "" {
			result.Warnings[span.ID] = warning
		}
		clusters = append(clusters, cluster{
			start:   span.Start,
			end:     span.End,
			markers: []string{marker},
		})
		result.LabelCounts[string(span.Label)]++
	}

	// Right-to-left so each splice leaves earlier offsets untouched.
	out := text
	for i := len(clusters) - 1; i >= 0; i-- {
		c := clusters[i]
		out = out[:c.start] + strings.Join(c.markers, "") + out[c.end:]
	}

	result.Text = out
	return result
}

// markerFor picks the replacement for one span. The label switch is
// exhaustive: every label resolves to a fixed marker, and unknown labels
// fall through to the generic one.
func markerFor(matched string, span phi.Span, opts Options) (marker, warning string) {
	if span.Label == phi.LabelDate && opts.TranslateDates && opts.Anchor != nil {
		return dateToken(matched, *opts.Anchor)
	}

	switch span.Label {
	case phi.LabelEmail:
		return "[EMAIL]", ""
	case phi.LabelPhone:
		return "[PHONE]", ""
	case phi.LabelSSN:
		return "[SSN]", ""
	case phi.LabelMRN:
		return "[MRN]", ""
	case phi.LabelAccount:
		return "[ACCOUNT]", ""
	case phi.LabelURL:
		return "[URL]", ""
	case phi.LabelIP:
		return "[IP]", ""
	case phi.LabelDate:
		return dateRedactedMarker, ""
	case phi.LabelProvider:
		return "[PROVIDER]", ""
	default:
		return "[REDACTED]", ""
	}
}

// dateToken converts a raw date substring into an anchored relative-offset
// token. Any tokenizer failure yields the non-reversible marker, never the
// raw substring.
func dateToken(matched string, anchor dates.Date) (string, string) {
	parsed := dates.Parse(matched)
	if parsed.Date == nil {
		return dateRedactedMarker, "unparseable date: " + parsed.Warning
	}

	offset := dates.OffsetDays(anchor, *parsed.Date)
	token := "[DATE: " + dates.FormatOffset(offset) + " DAYS]"
	return token, parsed.Warning
}

// ContainsOriginal reports whether any applied span's original substring
// survived into the output. Test helper for the no-leak property.
func ContainsOriginal(output, original string, spans []phi.Span) bool {
	for _, span := range spans {
		if !span.Valid(len(original)) {
			continue
		}
		if strings.Contains(output, original[span.Start:span.End]) {
			return true
		}
	}
	return false
}
