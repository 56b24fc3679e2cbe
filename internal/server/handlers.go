package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/bundle"
	"github.com/notescrub/notescrub/internal/dates"
	"github.com/notescrub/notescrub/internal/merge"
	"github.com/notescrub/notescrub/internal/phi"
	"github.com/notescrub/notescrub/internal/redact"
	"github.com/notescrub/notescrub/internal/session"
)

// policyPayload overrides pieces of the default merge policy per request.
type policyPayload struct {
	Mode                *string  `json:"mode,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	ProtectProviders    *bool    `json:"protect_providers,omitempty"`
}

func (s *Server) resolvePolicy(p *policyPayload) merge.Policy {
	policy := s.defaultPolicy()
	if p == nil {
		return policy
	}
	if p.Mode != nil {
		policy.Mode = merge.Mode(*p.Mode)
	}
	if p.ConfidenceThreshold != nil {
		policy.ConfidenceThreshold = *p.ConfidenceThreshold
	}
	if p.ProtectProviders != nil {
		policy.ProtectProviders = *p.ProtectProviders
	}
	return policy
}

type detectRequest struct {
	Text   string         `json:"text"`
	Policy *policyPayload `json:"policy,omitempty"`
	// Wait blocks until the probabilistic detector finishes (bounded by
	// the request context) instead of returning the pattern-only view.
	Wait bool `json:"wait,omitempty"`
}

type detectResponse struct {
	SessionID    string     `json:"session_id"`
	State        string     `json:"state"`
	ModelFailed  bool       `json:"model_failed"`
	ModelPending bool       `json:"model_pending"`
	Spans        []phi.Span `json:"spans"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	sess := s.pipeline.RunDetection(req.Text, s.resolvePolicy(req.Policy))

	modelPending := false
	if req.Wait {
		if err := sess.Wait(r.Context()); err != nil {
			modelPending = true
		}
	} else {
		select {
		case <-r.Context().Done():
		default:
			modelPending = sess.State() == merge.StateDetecting
		}
	}

	writeJSON(w, http.StatusOK, detectResponse{
		SessionID:    sess.ID(),
		State:        string(sess.State()),
		ModelFailed:  sess.ModelFailed(),
		ModelPending: modelPending,
		Spans:        sess.Spans(),
	})
}

type redactRequest struct {
	Text           string         `json:"text"`
	Policy         *policyPayload `json:"policy,omitempty"`
	TranslateDates *bool          `json:"translate_dates,omitempty"`
	AnchorDate     string         `json:"anchor_date,omitempty"`
}

type redactResponse struct {
	Text        string            `json:"text"`
	ModelFailed bool              `json:"model_failed"`
	LabelCounts map[string]int    `json:"label_counts"`
	Warnings    map[string]string `json:"warnings,omitempty"`
	LeakCount   int               `json:"leak_count"`
}

// handleRedact is the one-shot path: detect, wait, finalize, redact, scan.
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	opts, errMsg := s.redactOptions(req.TranslateDates, req.AnchorDate)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	sess := s.pipeline.RunDetection(req.Text, s.resolvePolicy(req.Policy))
	// A caller-level deadline on the request context bounds the wait; on
	// expiry we proceed pattern-only rather than failing.
	_ = sess.Wait(r.Context())

	result := sess.FinalizeAndRedact(opts)
	s.pipeline.Drop(sess.ID())

	writeJSON(w, http.StatusOK, redactResponse{
		Text:        result.Text,
		ModelFailed: sess.ModelFailed(),
		LabelCounts: result.LabelCounts,
		Warnings:    result.Warnings,
		LeakCount:   s.pipeline.ScanForLeaks(result.Text).Count,
	})
}

func (s *Server) redactOptions(translate *bool, anchorDate string) (redact.Options, string) {
	opts := redact.Options{
		TranslateDates: s.currentConfig().Redaction.TranslateDates,
	}
	if translate != nil {
		opts.TranslateDates = *translate
	}
	if anchorDate != "" {
		anchor, err := dates.ParseISO(anchorDate)
		if err != nil {
			return opts, err.Error()
		}
		opts.Anchor = &anchor
	}
	return opts, ""
}

type scanRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.ScanForLeaks(req.Text))
}

type bundleRequest struct {
	AnchorDate string                `json:"anchor_date"`
	Documents  []session.BundleInput `json:"documents"`
	Policy     *policyPayload        `json:"policy,omitempty"`
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents are required")
		return
	}

	anchor, err := dates.ParseISO(req.AnchorDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.pipeline.AssembleBundle(r.Context(), req.Documents, anchor, s.resolvePolicy(req.Policy))
	if err != nil {
		s.writeBundleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeBundleError maps the assembler's typed errors onto status codes.
func (s *Server) writeBundleError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *bundle.DuplicateSequenceError
	var missing *bundle.MissingOffsetError
	var leakErr *bundle.LeakError

	switch {
	case errors.As(err, &dup):
		writeError(w, http.StatusConflict, dup.Error())
	case errors.As(err, &missing):
		writeError(w, http.StatusBadRequest, missing.Error())
	case errors.As(err, &leakErr):
		s.logger.WithRequestID(requestIDFrom(r.Context())).Warn("Bundle blocked by leak scan",
			zap.Int("count", leakErr.Count),
		)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":     "leak_detected",
			"count":     leakErr.Count,
			"documents": leakErr.Documents,
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	id := mux.Vars(r)["id"]
	sess, ok := s.pipeline.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or expired session")
		return nil
	}
	return sess
}

func (s *Server) handleSessionSpans(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, detectResponse{
		SessionID:    sess.ID(),
		State:        string(sess.State()),
		ModelFailed:  sess.ModelFailed(),
		ModelPending: sess.State() == merge.StateDetecting,
		Spans:        sess.Spans(),
	})
}

type manualRequest struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

func (s *Server) handleAddManual(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	span, err := sess.AddManual(phi.Label(req.Label), req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, span)
}

type spanRefRequest struct {
	SpanID string `json:"span_id"`
	Label  string `json:"label,omitempty"`
}

func (s *Server) handleExclude(w http.ResponseWriter, r *http.Request) {
	s.spanOp(w, r, func(sess *session.Session, req spanRefRequest) error {
		return sess.Exclude(req.SpanID)
	})
}

func (s *Server) handleInclude(w http.ResponseWriter, r *http.Request) {
	s.spanOp(w, r, func(sess *session.Session, req spanRefRequest) error {
		return sess.Include(req.SpanID)
	})
}

func (s *Server) handleRelabel(w http.ResponseWriter, r *http.Request) {
	s.spanOp(w, r, func(sess *session.Session, req spanRefRequest) error {
		return sess.Relabel(req.SpanID, phi.Label(req.Label))
	})
}

func (s *Server) spanOp(w http.ResponseWriter, r *http.Request, op func(*session.Session, spanRefRequest) error) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var req spanRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := op(sess, req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, merge.ErrUnknownSpan) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionRedactRequest struct {
	TranslateDates *bool  `json:"translate_dates,omitempty"`
	AnchorDate     string `json:"anchor_date,omitempty"`
}

func (s *Server) handleSessionRedact(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var req sessionRedactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts, errMsg := s.redactOptions(req.TranslateDates, req.AnchorDate)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	result := sess.FinalizeAndRedact(opts)
	s.pipeline.Drop(sess.ID())

	writeJSON(w, http.StatusOK, redactResponse{
		Text:        result.Text,
		ModelFailed: sess.ModelFailed(),
		LabelCounts: result.LabelCounts,
		Warnings:    result.Warnings,
		LeakCount:   s.pipeline.ScanForLeaks(result.Text).Count,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
