// Package phi implements the deterministic pattern detector: a fixed
// battery of format-specific regex matchers over clinical note text.
// Detection is pure, synchronous and side-effect free; all offsets are
// half-open byte ranges into the exact input text.
package phi

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/logger"
)

// Detector runs the pattern rule battery.
type Detector struct {
	rules   []Rule
	enabled map[string]bool
	logger  *logger.Logger
}

// NewDetector creates a pattern detector with the given rules enabled.
// Pass []string{"all"} to enable every rule; unknown rule names error.
func NewDetector(enabledRules []string, log *logger.Logger) (*Detector, error) {
	if log == nil {
		log = logger.Nop()
	}

	d := &Detector{
		rules:   DefaultRules(),
		enabled: make(map[string]bool),
		logger:  log,
	}

	if err := d.configureRules(enabledRules); err != nil {
		return nil, fmt.Errorf("failed to configure detector: %w", err)
	}

	log.Info("Pattern detector initialized",
		zap.Int("total_rules", len(d.rules)),
		zap.Int("enabled_rules", d.countEnabled()),
	)

	return d, nil
}

// configureRules enables rules by name, supporting the "all" wildcard.
func (d *Detector) configureRules(names []string) error {
	for _, rule := range d.rules {
		d.enabled[rule.Name] = false
	}

	for _, name := range names {
		if name == "all" {
			for _, rule := range d.rules {
				d.enabled[rule.Name] = true
			}
			continue
		}

		found := false
		for _, rule := range d.rules {
			if rule.Name == name {
				d.enabled[rule.Name] = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown rule: %s", name)
		}
	}

	return nil
}

// Detect runs every enabled rule over text and returns the detected spans
// sorted ascending by start, ties broken by descending end. Exact-range
// duplicates (an anchored rule and a bare rule hitting the same substring)
// collapse to the highest-confidence match. Never errors; text with no
// matches yields an empty slice.
func (d *Detector) Detect(text string) []Span {
	spans := make([]Span, 0)

	for _, rule := range d.rules {
		if !d.enabled[rule.Name] {
			continue
		}

		for _, m := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			// Anchored rules report the captured value, not the keyword.
			if len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}

			span := Span{
				ID:         uuid.NewString(),
				Label:      rule.Label,
				Start:      start,
				End:        end,
				Confidence: rule.Confidence,
				Source:     SourcePattern,
			}
			if !span.Valid(len(text)) {
				continue
			}
			spans = append(spans, span)
		}
	}

	spans = dedupeExactRanges(spans)
	SortSpans(spans)

	if len(spans) > 0 {
		counts := make(map[string]int, len(spans))
		for _, span := range spans {
			counts[string(span.Label)]++
		}
		d.logger.LogDetection(string(SourcePattern), len(spans), counts)
	}

	return spans
}

// EnabledRules returns the names of enabled rules.
func (d *Detector) EnabledRules() []string {
	var names []string
	for _, rule := range d.rules {
		if d.enabled[rule.Name] {
			names = append(names, rule.Name)
		}
	}
	return names
}

func (d *Detector) countEnabled() int {
	count := 0
	for _, on := range d.enabled {
		if on {
			count++
		}
	}
	return count
}

// dedupeExactRanges collapses spans covering the identical [start,end)
// range, keeping the highest-confidence one.
func dedupeExactRanges(spans []Span) []Span {
	type key struct{ start, end int }
	best := make(map[key]int, len(spans))
	out := spans[:0]

	for _, span := range spans {
		k := key{span.Start, span.End}
		if i, seen := best[k]; seen {
			if span.Confidence > out[i].Confidence {
				out[i] = span
			}
			continue
		}
		best[k] = len(out)
		out = append(out, span)
	}

	return out
}
