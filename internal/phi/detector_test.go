package phi

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/notescrub/notescrub/internal/logger"
)

func findByLabel(spans []Span, label Label) []Span {
	var out []Span
	for _, s := range spans {
		if s.Label == label {
			out = append(out, s)
		}
	}
	return out
}

// TestNewDetector tests detector construction and rule selection
func TestNewDetector(t *testing.T) {
	t.Run("AllRules", func(t *testing.T) {
		d, err := NewDetector([]string{"all"}, nil)
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}
		if got, want := len(d.EnabledRules()), len(DefaultRules()); got != want {
			t.Errorf("Enabled %d rules, want %d", got, want)
		}
	})

	t.Run("SubsetOfRules", func(t *testing.T) {
		d, err := NewDetector([]string{"email", "ssn"}, nil)
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}
		if got := len(d.EnabledRules()); got != 2 {
			t.Errorf("Enabled %d rules, want 2", got)
		}

		spans := d.Detect("Contact jane@example.com or call (555) 123-4567")
		if len(findByLabel(spans, LabelEmail)) != 1 {
			t.Error("Email rule should still fire")
		}
		if len(findByLabel(spans, LabelPhone)) != 0 {
			t.Error("Disabled phone rule should not fire")
		}
	})

	t.Run("UnknownRule", func(t *testing.T) {
		if _, err := NewDetector([]string{"no_such_rule"}, nil); err == nil {
			t.Error("Unknown rule name should error")
		}
	})
}

// TestDetect tests the pattern rule battery against clinical note fragments
func TestDetect(t *testing.T) {
	d, err := NewDetector([]string{"all"}, nil)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	t.Run("Email", func(t *testing.T) {
		text := "Reach the clinic at frontdesk@clinic.example.org for scheduling."
		spans := findByLabel(d.Detect(text), LabelEmail)
		if len(spans) != 1 {
			t.Fatalf("Expected 1 email span, got %d", len(spans))
		}
		if got := text[spans[0].Start:spans[0].End]; got != "frontdesk@clinic.example.org" {
			t.Errorf("Email span covers %q", got)
		}
	})

	t.Run("SSN", func(t *testing.T) {
		spans := findByLabel(d.Detect("SSN 123-45-6789 on file."), LabelSSN)
		if len(spans) != 1 {
			t.Fatalf("Expected 1 SSN span, got %d", len(spans))
		}
		if spans[0].Confidence != 0.92 {
			t.Errorf("SSN confidence = %f, want 0.92", spans[0].Confidence)
		}
	})

	t.Run("AnchoredDOBCoversValueOnly", func(t *testing.T) {
		text := "DOB: 03/15/1980"
		spans := findByLabel(d.Detect(text), LabelDate)
		if len(spans) != 1 {
			t.Fatalf("Expected exactly 1 date span, got %d", len(spans))
		}
		if got := text[spans[0].Start:spans[0].End]; got != "03/15/1980" {
			t.Errorf("Date span covers %q, want the value only", got)
		}
		// The anchored rule and the bare numeric rule hit the same range;
		// the duplicate collapses to the higher-confidence anchored match.
		if spans[0].Confidence != 0.90 {
			t.Errorf("Confidence = %f, want the anchored 0.90", spans[0].Confidence)
		}
	})

	t.Run("MRNCoversValueOnly", func(t *testing.T) {
		text := "MRN: 88421937, admitted yesterday."
		spans := findByLabel(d.Detect(text), LabelMRN)
		if len(spans) != 1 {
			t.Fatalf("Expected 1 MRN span, got %d", len(spans))
		}
		if got := text[spans[0].Start:spans[0].End]; got != "88421937" {
			t.Errorf("MRN span covers %q", got)
		}
	})

	t.Run("ProviderName", func(t *testing.T) {
		text := "Seen by Dr. Amelia Park in clinic."
		spans := findByLabel(d.Detect(text), LabelProvider)
		if len(spans) != 1 {
			t.Fatalf("Expected 1 provider span, got %d", len(spans))
		}
		if got := text[spans[0].Start:spans[0].End]; got != "Dr. Amelia Park" {
			t.Errorf("Provider span covers %q", got)
		}
	})

	t.Run("NamedDates", func(t *testing.T) {
		if n := len(findByLabel(d.Detect("Follow-up on March 15, 2024."), LabelDate)); n == 0 {
			t.Error("Month-day date not detected")
		}
		if n := len(findByLabel(d.Detect("Discharged 15 Mar 2024."), LabelDate)); n == 0 {
			t.Error("Day-month date not detected")
		}
	})

	t.Run("NoMatches", func(t *testing.T) {
		spans := d.Detect("Patient tolerated the procedure well.")
		if len(spans) != 0 {
			t.Errorf("Expected no spans, got %d", len(spans))
		}
	})

	t.Run("SortedOutput", func(t *testing.T) {
		spans := d.Detect("Call (555) 123-4567 or email a@b.co; DOB: 1980-03-15.")
		for i := 1; i < len(spans); i++ {
			if spans[i].Start < spans[i-1].Start {
				t.Fatal("Spans not sorted by start")
			}
		}
	})

	t.Run("ByteOffsetsIntoInput", func(t *testing.T) {
		text := "naïve patient, email x@y.io"
		spans := findByLabel(d.Detect(text), LabelEmail)
		if len(spans) != 1 {
			t.Fatalf("Expected 1 email span, got %d", len(spans))
		}
		if got := text[spans[0].Start:spans[0].End]; got != "x@y.io" {
			t.Errorf("Offsets are not byte offsets: span covers %q", got)
		}
	})
}

// TestDetectLogging tests that each detection pass is logged as labels and
// counts, never the matched text
func TestDetectLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	d, err := NewDetector([]string{"all"}, log)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	text := "Email frontdesk@clinic.example.org, SSN 123-45-6789."
	spans := d.Detect(text)
	if len(spans) == 0 {
		t.Fatal("Expected spans for the test fragment")
	}

	entries := logs.FilterMessage("Detection completed").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 detection log entry, got %d", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["source"] != "pattern" {
		t.Errorf("source = %v, want pattern", fields["source"])
	}
	if fields["span_count"] != int64(len(spans)) {
		t.Errorf("span_count = %v, want %d", fields["span_count"], len(spans))
	}
	if rendered := fmt.Sprintf("%v", fields); strings.Contains(rendered, "frontdesk@clinic.example.org") {
		t.Error("Matched text must never reach the log")
	}
}

// TestSpanHelpers tests Span validity and overlap checks
func TestSpanHelpers(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		if (Span{Start: 0, End: 5}).Valid(10) != true {
			t.Error("In-bounds span should be valid")
		}
		if (Span{Start: 5, End: 5}).Valid(10) {
			t.Error("Empty span should be invalid")
		}
		if (Span{Start: 6, End: 4}).Valid(10) {
			t.Error("Inverted span should be invalid")
		}
		if (Span{Start: 0, End: 11}).Valid(10) {
			t.Error("Out-of-bounds span should be invalid")
		}
		if !(Span{Start: 0, End: 11}).Valid(-1) {
			t.Error("Negative length should skip the bounds check")
		}
	})

	t.Run("Overlaps", func(t *testing.T) {
		a := Span{Start: 0, End: 5}
		b := Span{Start: 4, End: 8}
		c := Span{Start: 5, End: 8}
		if !a.Overlaps(b) {
			t.Error("[0,5) and [4,8) should overlap")
		}
		if a.Overlaps(c) {
			t.Error("Adjacent half-open ranges should not overlap")
		}
	})

	t.Run("SortSpansTieBreak", func(t *testing.T) {
		spans := []Span{
			{ID: "short", Start: 3, End: 5},
			{ID: "long", Start: 3, End: 9},
		}
		SortSpans(spans)
		if spans[0].ID != "long" {
			t.Error("Longer span at same start should sort first")
		}
	})
}
