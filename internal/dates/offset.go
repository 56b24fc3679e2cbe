package dates

import (
	"fmt"
	"math"
)

const millisPerDay = 86400000

// Anchor is the fixed reference date for one episode or bundle; every other
// date in the bundle is expressed relative to it.
type Anchor struct {
	IndexDate Date `json:"index_date"`
}

// OffsetDays returns the signed whole-day distance from anchor to target.
// Both dates are pinned to noon UTC before differencing, so the result is
// immune to DST transitions and leap-second noise.
func OffsetDays(anchor, target Date) int {
	deltaMs := target.Time().UnixMilli() - anchor.Time().UnixMilli()
	return int(math.Round(float64(deltaMs) / millisPerDay))
}

// AddDays returns the calendar date n days after d (negative n goes back).
func AddDays(d Date, n int) Date {
	t := d.Time().AddDate(0, 0, n)
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// FormatOffset renders a day offset as T+<n> or T-<n>. Zero is always
// rendered as T+0, never as a negative zero.
func FormatOffset(days int) string {
	if days < 0 {
		return fmt.Sprintf("T-%d", -days)
	}
	return fmt.Sprintf("T+%d", days)
}
