// Package bundle assembles tokenized documents into a multi-document
// submission sharing one anchor date. The assembler owns the document set
// for one submission and enforces the bundle invariants: unique sequence
// numbers, resolved offsets, and a final aggregate leak scan that fails
// closed.
package bundle

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/dates"
	"github.com/notescrub/notescrub/internal/leak"
	"github.com/notescrub/notescrub/internal/logger"
)

// Document is one tokenized document accepted into a bundle. OffsetDays is
// a pointer because an unresolved offset (missing anchor or unparseable
// document date) is a rejection, not a zero.
type Document struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Sequence   int    `json:"sequence"`
	OffsetDays *int   `json:"offset_days"`
	Text       string `json:"text"`
}

// Bundle is the successful submission output: the ordered document list
// plus the earliest offset per role, which lets a downstream consumer
// reconstruct the procedure timeline without ever seeing a real date.
type Bundle struct {
	Anchor      dates.Anchor   `json:"anchor"`
	Documents   []Document     `json:"documents"`
	RoleOffsets map[string]int `json:"role_offsets"`
}

// DuplicateSequenceError rejects a document whose sequence number is
// already present in the bundle.
type DuplicateSequenceError struct {
	Sequence int
}

func (e *DuplicateSequenceError) Error() string {
	return fmt.Sprintf("duplicate sequence %d in bundle", e.Sequence)
}

// MissingOffsetError rejects a document whose day offset never resolved.
type MissingOffsetError struct {
	DocumentID string
	Role       string
}

func (e *MissingOffsetError) Error() string {
	return fmt.Sprintf("document %s (role %s) has no resolved day offset", e.DocumentID, e.Role)
}

// LeakError blocks submission because residual date-like text survived in
// one or more documents. The exact count lets the caller re-run detection
// and redaction.
type LeakError struct {
	Count     int
	Documents []string // IDs of the failing documents
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("leak scan failed: %d residual date-like fragment(s) in document(s) %s",
		e.Count, strings.Join(e.Documents, ", "))
}

// Assembler collects documents for one bundle submission.
type Assembler struct {
	mu sync.Mutex

	anchor    dates.Anchor
	logger    *logger.Logger
	documents []Document
	sequences map[int]bool
}

// NewAssembler creates an empty assembler fixed to the given anchor. The
// anchor cannot change for the lifetime of the bundle.
func NewAssembler(anchor dates.Anchor, log *logger.Logger) *Assembler {
	if log == nil {
		log = logger.Nop()
	}
	return &Assembler{
		anchor:    anchor,
		logger:    log,
		sequences: make(map[int]bool),
	}
}

// Add accepts a document into the bundle. It rejects a sequence number
// already present and any document without a resolved offset; both errors
// are typed and name the offender.
func (a *Assembler) Add(doc Document) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if doc.Sequence <= 0 {
		return fmt.Errorf("document %s: sequence must be positive, got %d", doc.ID, doc.Sequence)
	}
	if a.sequences[doc.Sequence] {
		return &DuplicateSequenceError{Sequence: doc.Sequence}
	}
	if doc.OffsetDays == nil {
		return &MissingOffsetError{DocumentID: doc.ID, Role: doc.Role}
	}

	a.sequences[doc.Sequence] = true
	a.documents = append(a.documents, doc)

	a.logger.Debug("Document added to bundle",
		zap.String("document_id", doc.ID),
		zap.String("role", doc.Role),
		zap.Int("sequence", doc.Sequence),
		zap.Int("offset_days", *doc.OffsetDays),
	)
	return nil
}

// Len returns the number of accepted documents.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.documents)
}

// Submit re-runs the leak scanner over every document and, on success,
// returns the sequence-ordered document list plus the earliest offset per
// role. A non-zero aggregate count refuses submission and names the
// failing documents.
func (a *Assembler) Submit() (*Bundle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ordered := make([]Document, len(a.documents))
	copy(ordered, a.documents)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	totalLeaks := 0
	var failing []string
	for _, doc := range ordered {
		if result := leak.Scan(doc.Text); result.Count > 0 {
			totalLeaks += result.Count
			failing = append(failing, doc.ID)
		}
	}
	if totalLeaks > 0 {
		a.logger.Warn("Bundle submission blocked by leak scan",
			zap.Int("count", totalLeaks),
			zap.Strings("documents", failing),
		)
		return nil, &LeakError{Count: totalLeaks, Documents: failing}
	}

	roleOffsets := make(map[string]int)
	for _, doc := range ordered {
		role := strings.ToUpper(doc.Role)
		if _, seen := roleOffsets[role]; !seen {
			roleOffsets[role] = *doc.OffsetDays
		}
	}

	a.logger.Info("Bundle assembled",
		zap.Int("documents", len(ordered)),
		zap.Int("roles", len(roleOffsets)),
	)

	return &Bundle{
		Anchor:      a.anchor,
		Documents:   ordered,
		RoleOffsets: roleOffsets,
	}, nil
}
