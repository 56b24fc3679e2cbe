// Package dates implements the date tokenizer: parsing raw date substrings
// into canonical calendar dates and converting them to signed day offsets
// relative to a per-episode anchor date. Offsets, not absolute dates, are
// what leaves this system, so parsing is deliberately strict: anything that
// cannot be resolved unambiguously fails with a reason instead of guessing
// silently.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Pattern identifies which grammar matched a raw date substring.
type Pattern string

const (
	PatternISO      Pattern = "iso"
	PatternNumeric  Pattern = "numeric"
	PatternDayMonth Pattern = "dd_mmm"
	PatternMonthDay Pattern = "mmm_dd"
	PatternNone     Pattern = "none"
)

// Date is a calendar date. It is only meaningful after round-tripping
// through proleptic Gregorian construction (see validate); the accepted
// range is [1800,2200].
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// ParseResult carries the outcome of parsing one raw date substring.
// A nil Date means the substring cannot be anchored; callers must fall back
// to a non-reversible redaction marker, never to leaving the raw text.
type ParseResult struct {
	Date          *Date
	NormalizedISO string
	Pattern       Pattern
	Warning       string
}

const (
	minYear = 1800
	maxYear = 2200

	// Two-digit years 00-30 resolve to the 2000s, 31-99 to the 1900s.
	// A heuristic, not a law of nature; deployments with older archives
	// change this constant.
	pivotYear = 30
)

var (
	isoRe      = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
	numericRe  = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})[-/](\d{2,4})$`)
	dayMonthRe = regexp.MustCompile(`^(\d{1,2})[\s\-]([A-Za-z]{3,9})\.?[\s\-,]+(\d{2,4})$`)
	monthDayRe = regexp.MustCompile(`^([A-Za-z]{3,9})\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{2,4}))?$`)
)

var monthsByPrefix = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// Parse resolves a raw date substring to a canonical calendar date.
// Grammars are attempted in order (ISO, numeric, day-month, month-day);
// the first match wins. On failure the result carries a nil Date and a
// warning naming the reason.
func Parse(raw string) ParseResult {
	cleaned := strings.Trim(raw, " \t\r\n.,;:_*\"'`()[]{}<>")
	if cleaned == "" {
		return ParseResult{Pattern: PatternNone, Warning: "empty date"}
	}

	if m := isoRe.FindStringSubmatch(cleaned); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return validate(y, mo, d, PatternISO, "")
	}

	if m := numericRe.FindStringSubmatch(cleaned); m != nil {
		return parseNumeric(m)
	}

	if m := dayMonthRe.FindStringSubmatch(cleaned); m != nil {
		mo, ok := monthsByPrefix[strings.ToLower(m[2])[:3]]
		if !ok {
			return ParseResult{Pattern: PatternDayMonth, Warning: fmt.Sprintf("unknown month %q", m[2])}
		}
		d, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[3])
		return validate(expandYear(y, len(m[3])), mo, d, PatternDayMonth, "")
	}

	if m := monthDayRe.FindStringSubmatch(cleaned); m != nil {
		mo, ok := monthsByPrefix[strings.ToLower(m[1])[:3]]
		if !ok {
			return ParseResult{Pattern: PatternMonthDay, Warning: fmt.Sprintf("unknown month %q", m[1])}
		}
		if m[3] == "" {
			// A yearless date cannot be anchored to anything.
			return ParseResult{Pattern: PatternMonthDay, Warning: "missing year"}
		}
		d, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		return validate(expandYear(y, len(m[3])), mo, d, PatternMonthDay, "")
	}

	return ParseResult{Pattern: PatternNone, Warning: "unrecognized date format"}
}

// parseNumeric disambiguates N/N/N dates. First number > 12 with second
// <= 12 reads as day/month; both <= 12 defaults to month/day with an
// ambiguity warning; first <= 12 with second > 12 is an unambiguous
// month/day; both > 12 cannot be a date.
func parseNumeric(m []string) ParseResult {
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	y, _ := strconv.Atoi(m[3])
	year := expandYear(y, len(m[3]))

	switch {
	case a > 12 && b <= 12:
		return validate(year, b, a, PatternNumeric, "interpreted as D/M")
	case a <= 12 && b <= 12:
		return validate(year, a, b, PatternNumeric, "ambiguous; interpreted as M/D")
	case a <= 12 && b > 12:
		return validate(year, a, b, PatternNumeric, "")
	default:
		return ParseResult{Pattern: PatternNumeric, Warning: "neither field is a valid month"}
	}
}

// expandYear applies the two-digit pivot. Years written with three digits
// are passed through and rejected later by the range check.
func expandYear(y, digits int) int {
	if digits != 2 {
		return y
	}
	if y <= pivotYear {
		return 2000 + y
	}
	return 1900 + y
}

// validate reconstructs the date through proleptic Gregorian construction
// and requires field equality, which rejects impossible dates such as
// Feb 30 (time.Date would silently normalize them to Mar 1/2).
func validate(year, month, day int, pattern Pattern, warning string) ParseResult {
	if year < minYear || year > maxYear {
		return ParseResult{Pattern: pattern, Warning: fmt.Sprintf("year %d out of range [%d,%d]", year, minYear, maxYear)}
	}

	t := time.Date(year, time.Month(month), day, 12, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return ParseResult{Pattern: pattern, Warning: "invalid calendar date"}
	}

	date := &Date{Year: year, Month: month, Day: day}
	return ParseResult{
		Date:          date,
		NormalizedISO: date.ISO(),
		Pattern:       pattern,
		Warning:       warning,
	}
}

// ISO renders the date as YYYY-MM-DD.
func (d Date) ISO() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time pins the date to noon UTC. Differencing at a fixed midday instant
// sidesteps daylight-saving and midnight-rounding errors.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 12, 0, 0, 0, time.UTC)
}

var strictISORe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseISO parses a strict YYYY-MM-DD string, for anchor dates supplied by
// callers rather than extracted from note text. Note-text leniencies (slash
// separators, unpadded fields) are rejected here.
func ParseISO(s string) (Date, error) {
	if !strictISORe.MatchString(strings.TrimSpace(s)) {
		return Date{}, fmt.Errorf("anchor date %q must be ISO formatted (YYYY-MM-DD)", s)
	}
	res := Parse(s)
	if res.Date == nil {
		return Date{}, fmt.Errorf("invalid anchor date %q: %s", s, res.Warning)
	}
	return *res.Date, nil
}
