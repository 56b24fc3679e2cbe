// Package session exposes the caller-facing pipeline API: run detection
// over a note, edit the resulting span set, finalize and redact, scan for
// leaks, and assemble multi-document bundles. A session is the unit of
// ownership for one note's PHI state; sessions live in a TTL-bounded
// in-memory registry so abandoned PHI never outlives its operator.
package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/notescrub/notescrub/internal/dates"
	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/merge"
	"github.com/notescrub/notescrub/internal/model"
	"github.com/notescrub/notescrub/internal/phi"
	"github.com/notescrub/notescrub/internal/redact"
)

// Session is one editable detection session. The embedded engine owns the
// canonical span set; the session adds the note text, the model stream
// plumbing and cancellation.
type Session struct {
	id     string
	text   string
	engine *merge.Engine
	logger *logger.Logger

	cancelModel context.CancelFunc
	modelDone   chan struct{}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Policy returns the merge policy the session runs under.
func (s *Session) Policy() merge.Policy { return s.engine.Policy() }

// State returns the engine lifecycle phase.
func (s *Session) State() merge.State { return s.engine.State() }

// Spans returns the current merged editable view.
func (s *Session) Spans() []phi.Span { return s.engine.Spans() }

// AddManual adds an operator span over [start,end).
func (s *Session) AddManual(label phi.Label, start, end int) (phi.Span, error) {
	return s.engine.AddManual(label, start, end)
}

// Exclude vetoes a span by ID.
func (s *Session) Exclude(id string) error { return s.engine.Exclude(id) }

// Include reverses an exclusion.
func (s *Session) Include(id string) error { return s.engine.Include(id) }

// Relabel overrides a span's label.
func (s *Session) Relabel(id string, label phi.Label) error {
	return s.engine.Relabel(id, label)
}

// ModelFailed reports whether the probabilistic detector failed and the
// session is running pattern-only.
func (s *Session) ModelFailed() bool { return s.engine.ModelFailed() }

// CancelModel stops the probabilistic detector. Safe at any point; spans
// already merged stay, and the engine remains valid pattern-only.
func (s *Session) CancelModel() {
	if s.cancelModel != nil {
		s.cancelModel()
	}
}

// Wait blocks until the probabilistic detector reached its terminal state
// or ctx expires. With the detector disabled it returns immediately.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.modelDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FinalizeAndRedact freezes the span set and produces the redacted text.
// DATE spans become anchored offset tokens when opts asks for it; every
// other label becomes its fixed marker.
func (s *Session) FinalizeAndRedact(opts redact.Options) redact.Result {
	plan := s.engine.Finalize()
	return redact.Apply(s.text, plan, opts, s.logger)
}

// newSession wires a session's model stream into its engine. The stream
// goroutine is the only writer of modelDone; merging happens through the
// engine's own locking, so there is no shared mutable state between the
// caller thread and the detector task.
func newSession(text string, patternSpans []phi.Span, policy merge.Policy, detector model.Detector, log *logger.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:        id,
		text:      text,
		engine:    merge.NewEngine(policy, log.WithSession(id)),
		logger:    log.WithSession(id),
		modelDone: make(chan struct{}),
	}

	s.engine.BeginDetection(patternSpans)
	if detector == nil {
		s.engine.CompleteDetection(nil)
		close(s.modelDone)
		return s
	}

	// Detached from any request context: the session outlives the HTTP
	// request that created it. Cancellation is explicit or via registry
	// eviction.
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelModel = cancel

	stream := detector.Detect(ctx, text, model.Config{
		ConfidenceThreshold: policy.ConfidenceThreshold,
		MergeMode:           string(policy.Mode),
		ProtectProviders:    policy.ProtectProviders,
	})

	go func() {
		for batch := range stream.Batches() {
			s.engine.AddModelBatch(batch)
		}
		s.engine.CompleteDetection(stream.Err())
		close(s.modelDone)
	}()

	return s
}

// anchorOf is a small helper for bundle assembly.
func anchorOf(d dates.Date) dates.Anchor {
	return dates.Anchor{IndexDate: d}
}
