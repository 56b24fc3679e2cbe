package session

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/bundle"
	"github.com/notescrub/notescrub/internal/dates"
	"github.com/notescrub/notescrub/internal/leak"
	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/merge"
	"github.com/notescrub/notescrub/internal/model"
	"github.com/notescrub/notescrub/internal/phi"
	"github.com/notescrub/notescrub/internal/redact"
)

// Pipeline composes the pattern detector, the optional probabilistic
// detector transport, and the session registry. It is the composition
// root the CLI and HTTP server both build on.
type Pipeline struct {
	pattern  PatternDetector
	detector model.Detector
	sessions *gocache.Cache
	logger   *logger.Logger
}

// PatternDetector is what the pipeline needs from internal/phi.
type PatternDetector interface {
	Detect(text string) []phi.Span
}

// NewPipeline creates a pipeline. detector may be nil (pattern-only).
// Sessions expire after ttl; eviction cancels any still-running model
// detection so no goroutine outlives its session.
func NewPipeline(pattern PatternDetector, detector model.Detector, ttl, cleanup time.Duration, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}

	sessions := gocache.New(ttl, cleanup)
	sessions.OnEvicted(func(id string, value interface{}) {
		if s, ok := value.(*Session); ok {
			s.CancelModel()
		}
	})

	return &Pipeline{
		pattern:  pattern,
		detector: detector,
		sessions: sessions,
		logger:   log.WithComponent("pipeline"),
	}
}

// RunDetection starts a new detection session: the pattern detector runs
// synchronously, the probabilistic detector streams in concurrently, and
// the returned session is immediately editable.
func (p *Pipeline) RunDetection(text string, policy merge.Policy) *Session {
	patternSpans := p.pattern.Detect(text)
	s := newSession(text, patternSpans, policy, p.detector, p.logger)
	p.sessions.SetDefault(s.ID(), s)

	p.logger.Info("Detection session started",
		zap.String("session_id", s.ID()),
		zap.Int("pattern_spans", len(patternSpans)),
		zap.String("mode", string(policy.Mode)),
	)
	return s
}

// Get looks up a live session by ID.
func (p *Pipeline) Get(id string) (*Session, bool) {
	value, ok := p.sessions.Get(id)
	if !ok {
		return nil, false
	}
	s, ok := value.(*Session)
	return s, ok
}

// Drop removes a session from the registry, cancelling its model stream.
func (p *Pipeline) Drop(id string) {
	p.sessions.Delete(id)
}

// ScanForLeaks runs the final-mile scanner over arbitrary output text.
func (p *Pipeline) ScanForLeaks(text string) leak.Result {
	return leak.Scan(text)
}

// BundleInput is one document submitted for bundle assembly.
type BundleInput struct {
	Role         string `json:"role"`
	Sequence     int    `json:"sequence"`
	Text         string `json:"text"`
	DocumentDate string `json:"document_date"`
}

// AssembleBundle runs the full pipeline over every document: detect,
// wait for the model stream, redact with date translation against the
// shared anchor, prefix the header token, and hand the result to the
// assembler. Assembly is fail-closed: a duplicate sequence, an
// unresolvable document date, or a residual leak rejects the bundle.
func (p *Pipeline) AssembleBundle(ctx context.Context, docs []BundleInput, anchor dates.Date, policy merge.Policy) (*bundle.Bundle, error) {
	asm := bundle.NewAssembler(anchorOf(anchor), p.logger.WithComponent("bundle"))

	for _, doc := range docs {
		s := p.RunDetection(doc.Text, policy)
		if err := s.Wait(ctx); err != nil {
			s.CancelModel()
			return nil, fmt.Errorf("document seq %d: detection interrupted: %w", doc.Sequence, err)
		}

		result := s.FinalizeAndRedact(redact.Options{
			TranslateDates: true,
			Anchor:         &anchor,
		})
		p.Drop(s.ID())

		var offsetDays *int
		parsed := dates.Parse(doc.DocumentDate)
		if parsed.Date != nil {
			offset := dates.OffsetDays(anchor, *parsed.Date)
			offsetDays = &offset
		}

		text := result.Text
		if offsetDays != nil {
			header, err := bundle.BuildHeader(doc.Role, doc.Sequence, *offsetDays)
			if err != nil {
				return nil, fmt.Errorf("document seq %d: %w", doc.Sequence, err)
			}
			text = header + "\n" + text
		}

		if err := asm.Add(bundle.Document{
			ID:         s.ID(),
			Role:       doc.Role,
			Sequence:   doc.Sequence,
			OffsetDays: offsetDays,
			Text:       text,
		}); err != nil {
			return nil, err
		}
	}

	return asm.Submit()
}
