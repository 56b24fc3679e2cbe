// Package merge owns the canonical span set for one detection session.
// It combines the pattern detector's spans with the probabilistic model's
// streamed batches under a caller-supplied policy, accepts manual edits,
// and freezes the set when redaction is requested.
package merge

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/phi"
)

// Mode selects the overlap-resolution strategy.
type Mode string

const (
	// ModeUnion keeps all spans from both detectors; only an explicit
	// exclude removes a span. Preserves recall until an operator vetoes.
	ModeUnion Mode = "union"
	// ModeBestOf keeps the higher-confidence span when two overlap.
	// Legacy behavior.
	ModeBestOf Mode = "best_of"
)

// Policy is the immutable per-run merge configuration. Callers resolve
// environment or stored settings once and pass the value in explicitly;
// the engine never reads ambient state.
type Policy struct {
	Mode                Mode    `json:"mode"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	ProtectProviders    bool    `json:"protect_providers"`
}

// State is the session lifecycle phase.
type State string

const (
	StateEmpty     State = "EMPTY"
	StateDetecting State = "DETECTING"
	StateMerged    State = "MERGED"
	StateFinalized State = "FINALIZED"
)

var (
	ErrUnknownSpan  = errors.New("unknown span id")
	ErrFinalized    = errors.New("span set is finalized")
	ErrInvalidRange = errors.New("span end must be greater than start")
)

// Engine merges detector outputs into one editable span set.
type Engine struct {
	mu sync.Mutex

	policy Policy
	logger *logger.Logger

	state       State
	pattern     []phi.Span
	model       []phi.Span
	manual      []phi.Span
	seenModel   map[string]bool
	excluded    map[string]bool
	relabels    map[string]phi.Label
	modelFailed bool
}

// NewEngine creates an engine in the EMPTY state.
func NewEngine(policy Policy, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		policy:    policy,
		logger:    log,
		state:     StateEmpty,
		seenModel: make(map[string]bool),
		excluded:  make(map[string]bool),
		relabels:  make(map[string]phi.Label),
	}
}

// BeginDetection installs the pattern detector's spans and moves the
// session to DETECTING. Calling it again re-detects: all prior state,
// including manual edits and exclusions, is discarded first.
func (e *Engine) BeginDetection(patternSpans []phi.Span) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reset()
	e.pattern = filterValid(patternSpans)
	e.state = StateDetecting

	e.logger.Debug("Detection started",
		zap.Int("pattern_spans", len(e.pattern)),
		zap.String("mode", string(e.policy.Mode)),
	)
}

// AddModelBatch ingests one streamed batch from the probabilistic detector.
// Batches are deduplicated by span ID, so redelivery of the same batch is a
// no-op and progressive re-merging stays idempotent. Batches arriving after
// finalization are dropped.
func (e *Engine) AddModelBatch(spans []phi.Span) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateFinalized || e.state == StateEmpty {
		return
	}

	added := 0
	for _, span := range filterValid(spans) {
		if e.seenModel[span.ID] {
			continue
		}
		e.seenModel[span.ID] = true
		span.Source = phi.SourceModel
		e.model = append(e.model, span)
		added++
	}

	if added > 0 {
		e.logger.Debug("Model batch merged", zap.Int("added", added))
	}
}

// CompleteDetection records the probabilistic detector's terminal signal
// and moves the session to MERGED. A detector failure never aborts the
// pipeline: the engine proceeds pattern-only and callers read the flag
// via ModelFailed.
func (e *Engine) CompleteDetection(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateDetecting {
		return
	}
	if err != nil {
		e.modelFailed = true
		e.logger.Warn("Probabilistic detector failed, proceeding pattern-only", zap.Error(err))
	}
	e.state = StateMerged
}

// AddManual appends an operator-added span. Manual spans always carry
// source=manual and confidence 1.0 and are never deduplicated against
// machine detections: an operator marking a range the machine also found
// is legitimate.
func (e *Engine) AddManual(label phi.Label, start, end int) (phi.Span, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateFinalized {
		return phi.Span{}, ErrFinalized
	}
	if end <= start || start < 0 {
		return phi.Span{}, fmt.Errorf("%w: [%d,%d)", ErrInvalidRange, start, end)
	}

	span := phi.Span{
		ID:         uuid.NewString(),
		Label:      label,
		Start:      start,
		End:        end,
		Confidence: 1.0,
		Source:     phi.SourceManual,
	}
	e.manual = append(e.manual, span)

	e.logger.Debug("Manual span added",
		zap.String("label", string(label)),
		zap.Int("start", start),
		zap.Int("end", end),
	)
	return span, nil
}

// Exclude vetoes a span so the redaction plan skips it.
func (e *Engine) Exclude(id string) error {
	return e.setExcluded(id, true)
}

// Include reverses a prior exclusion.
func (e *Engine) Include(id string) error {
	return e.setExcluded(id, false)
}

func (e *Engine) setExcluded(id string, excluded bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateFinalized {
		return ErrFinalized
	}
	if !e.hasSpan(id) {
		return fmt.Errorf("%w: %s", ErrUnknownSpan, id)
	}
	if excluded {
		e.excluded[id] = true
	} else {
		delete(e.excluded, id)
	}
	return nil
}

// Relabel overrides the label of an existing span.
func (e *Engine) Relabel(id string, label phi.Label) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateFinalized {
		return ErrFinalized
	}
	if !e.hasSpan(id) {
		return fmt.Errorf("%w: %s", ErrUnknownSpan, id)
	}
	e.relabels[id] = label
	return nil
}

// Spans returns the full merged view under the policy, exclusions still
// present, sorted start-ascending / end-descending. The result is a copy;
// callers cannot mutate engine state through it.
func (e *Engine) Spans() []phi.Span {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computeMerged()
}

// Plan returns the redaction plan: the merged set minus excluded spans.
func (e *Engine) Plan() []phi.Span {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computePlan()
}

// Finalize freezes the span set for redaction and returns the plan.
// After finalization edits are rejected until BeginDetection resets the
// session.
func (e *Engine) Finalize() []phi.Span {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan := e.computePlan()
	e.state = StateFinalized

	e.logger.Info("Span set finalized",
		zap.Int("plan_spans", len(plan)),
		zap.Int("excluded", len(e.excluded)),
	)
	return plan
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ModelFailed reports whether the probabilistic detector terminated with
// an error and the merge proceeded pattern-only.
func (e *Engine) ModelFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelFailed
}

// Policy returns the immutable policy the engine was created with.
func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) reset() {
	e.pattern = nil
	e.model = nil
	e.manual = nil
	e.seenModel = make(map[string]bool)
	e.excluded = make(map[string]bool)
	e.relabels = make(map[string]phi.Label)
	e.modelFailed = false
	e.state = StateEmpty
}

func (e *Engine) hasSpan(id string) bool {
	for _, span := range e.computeMerged() {
		if span.ID == id {
			return true
		}
	}
	return false
}

// computeMerged recomputes the merged view from the raw inputs. It is a
// pure function of engine inputs, which is what makes progressive
// re-merging idempotent.
func (e *Engine) computeMerged() []phi.Span {
	machine := make([]phi.Span, 0, len(e.pattern)+len(e.model))
	for _, span := range e.pattern {
		if e.admit(span) {
			machine = append(machine, span)
		}
	}
	for _, span := range e.model {
		if e.admit(span) {
			machine = append(machine, span)
		}
	}

	if e.policy.Mode == ModeBestOf {
		machine = mergeBestOf(machine)
	}

	// Manual spans bypass both the threshold and overlap resolution.
	merged := append(machine, e.manual...)

	for i, span := range merged {
		if label, ok := e.relabels[span.ID]; ok {
			merged[i].Label = label
		}
	}

	phi.SortSpans(merged)
	return merged
}

func (e *Engine) computePlan() []phi.Span {
	merged := e.computeMerged()
	plan := merged[:0]
	for _, span := range merged {
		if !e.excluded[span.ID] {
			plan = append(plan, span)
		}
	}
	return plan
}

// admit applies per-span policy filtering to machine detections.
func (e *Engine) admit(span phi.Span) bool {
	if span.Confidence < e.policy.ConfidenceThreshold {
		return false
	}
	if e.policy.ProtectProviders && span.Label == phi.LabelProvider {
		return false
	}
	return true
}

// mergeBestOf resolves overlaps by keeping the higher-confidence span.
// Equal confidence breaks deterministically: pattern beats model beats
// manual, then the longer span, then the lower start, then the ID. Sort
// stability is never relied on.
func mergeBestOf(spans []phi.Span) []phi.Span {
	ranked := make([]phi.Span, len(spans))
	copy(ranked, spans)

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if sourceRank(a.Source) != sourceRank(b.Source) {
			return sourceRank(a.Source) < sourceRank(b.Source)
		}
		if a.End-a.Start != b.End-b.Start {
			return a.End-a.Start > b.End-b.Start
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})

	kept := make([]phi.Span, 0, len(ranked))
	for _, candidate := range ranked {
		conflict := false
		for _, winner := range kept {
			if candidate.Overlaps(winner) {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func sourceRank(s phi.Source) int {
	switch s {
	case phi.SourcePattern:
		return 0
	case phi.SourceModel:
		return 1
	default:
		return 2
	}
}

func filterValid(spans []phi.Span) []phi.Span {
	out := make([]phi.Span, 0, len(spans))
	for _, span := range spans {
		if span.Valid(-1) {
			out = append(out, span)
		}
	}
	return out
}
