package bundle

import (
	"fmt"
	"strings"

	"github.com/notescrub/notescrub/internal/dates"
)

// HeaderToken is the compact non-PHI metadata prefixed to each bundled
// document: the document's role, its unique sequence number within the
// bundle, and its day offset from the bundle anchor.
type HeaderToken struct {
	Role       string `json:"role"`
	Sequence   int    `json:"sequence"`
	OffsetDays int    `json:"offset_days"`
}

// BuildHeader renders the token as a single line, e.g.
// "[DOC:OPERATIVE SEQ:2 T+14]". This exact shape is one the leak scanner
// recognizes as a system token, and nothing in it is PHI.
func BuildHeader(role string, sequence int, offsetDays int) (string, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		return "", fmt.Errorf("header role must not be empty")
	}
	if strings.ContainsAny(role, "[]") {
		return "", fmt.Errorf("header role must not contain brackets: %q", role)
	}
	if sequence <= 0 {
		return "", fmt.Errorf("header sequence must be positive, got %d", sequence)
	}

	return fmt.Sprintf("[DOC:%s SEQ:%d %s]", role, sequence, dates.FormatOffset(offsetDays)), nil
}
