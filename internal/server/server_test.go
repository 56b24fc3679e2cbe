package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/notescrub/notescrub/internal/config"
	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/phi"
	"github.com/notescrub/notescrub/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	pattern, err := phi.NewDetector([]string{"all"}, nil)
	if err != nil {
		t.Fatalf("Failed to create pattern detector: %v", err)
	}
	pipeline := session.NewPipeline(pattern, nil, time.Minute, time.Minute, nil)

	cfg := config.GetDefaults()
	cfg.Server.RateLimit.Enabled = false
	return New(cfg, pipeline, logger.Nop())
}

func postJSON(t *testing.T, s *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// TestHealthAndInfo tests the unauthenticated service endpoints
func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/info"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}

// TestDetectEndpoint tests POST /v1/detect
func TestDetectEndpoint(t *testing.T) {
	s := newTestServer(t)

	t.Run("ReturnsSpans", func(t *testing.T) {
		rec := postJSON(t, s, "/v1/detect", map[string]interface{}{
			"text": "DOB: 03/15/1980",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
		}

		var resp detectResponse
		decode(t, rec, &resp)
		if resp.SessionID == "" {
			t.Error("Missing session ID")
		}
		if len(resp.Spans) != 1 || resp.Spans[0].Label != phi.LabelDate {
			t.Errorf("Spans = %v", resp.Spans)
		}
		if resp.ModelFailed {
			t.Error("Pattern-only run flagged model failure")
		}
	})

	t.Run("EmptyTextRejected", func(t *testing.T) {
		rec := postJSON(t, s, "/v1/detect", map[string]interface{}{"text": ""})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("PolicyOverride", func(t *testing.T) {
		rec := postJSON(t, s, "/v1/detect", map[string]interface{}{
			"text": "Seen by Dr. Amelia Park.",
			"policy": map[string]interface{}{
				"protect_providers": true,
			},
		})
		var resp detectResponse
		decode(t, rec, &resp)
		if len(resp.Spans) != 0 {
			t.Errorf("Protected provider still detected: %v", resp.Spans)
		}
	})
}

// TestRedactEndpoint tests the one-shot POST /v1/redact
func TestRedactEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s, "/v1/redact", map[string]interface{}{
		"text":        "Surgery on 2024-01-24 went well.",
		"anchor_date": "2024-01-10",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp redactResponse
	decode(t, rec, &resp)
	if resp.Text != "Surgery on [DATE: T+14 DAYS] went well." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.LeakCount != 0 {
		t.Errorf("LeakCount = %d", resp.LeakCount)
	}
	if resp.LabelCounts["DATE"] != 1 {
		t.Errorf("LabelCounts = %v", resp.LabelCounts)
	}
}

// TestScanEndpoint tests POST /v1/scan
func TestScanEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s, "/v1/scan", map[string]interface{}{
		"text": "recheck 2024-05-01 and 03/15/2024",
	})
	var resp struct {
		Count int `json:"count"`
	}
	decode(t, rec, &resp)
	if resp.Count != 2 {
		t.Errorf("Count = %d, want 2", resp.Count)
	}
}

// TestSessionEndpoints tests the review-and-edit flow over HTTP
func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t)

	var detected detectResponse
	rec := postJSON(t, s, "/v1/detect", map[string]interface{}{"text": "DOB: 03/15/1980 noted."})
	decode(t, rec, &detected)
	if len(detected.Spans) != 1 {
		t.Fatalf("Spans = %v", detected.Spans)
	}
	base := "/v1/sessions/" + detected.SessionID

	t.Run("Spans", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, base+"/spans", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("ManualAndExclude", func(t *testing.T) {
		rec := postJSON(t, s, base+"/manual", map[string]interface{}{
			"label": "OTHER", "start": 16, "end": 21,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Manual add = %d: %s", rec.Code, rec.Body.String())
		}
		var added phi.Span
		decode(t, rec, &added)

		rec = postJSON(t, s, base+"/exclude", map[string]interface{}{"span_id": added.ID})
		if rec.Code != http.StatusOK {
			t.Errorf("Exclude = %d: %s", rec.Code, rec.Body.String())
		}

		rec = postJSON(t, s, base+"/include", map[string]interface{}{"span_id": added.ID})
		if rec.Code != http.StatusOK {
			t.Errorf("Include = %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("UnknownSpanIs404", func(t *testing.T) {
		rec := postJSON(t, s, base+"/exclude", map[string]interface{}{"span_id": "ghost"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want 404", rec.Code)
		}
	})

	t.Run("RedactAndExpire", func(t *testing.T) {
		rec := postJSON(t, s, base+"/redact", map[string]interface{}{
			"anchor_date": "2024-01-10",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Redact = %d: %s", rec.Code, rec.Body.String())
		}

		// The session is dropped after redaction.
		req := httptest.NewRequest(http.MethodGet, base+"/spans", nil)
		get := httptest.NewRecorder()
		s.router.ServeHTTP(get, req)
		if get.Code != http.StatusNotFound {
			t.Errorf("Spans after redact = %d, want 404", get.Code)
		}
	})

	t.Run("UnknownSessionIs404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/nope/spans", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d", rec.Code)
		}
	})
}

// TestBundleEndpoint tests POST /v1/bundle and its error mapping
func TestBundleEndpoint(t *testing.T) {
	s := newTestServer(t)

	docs := func(seq2 int) []map[string]interface{} {
		return []map[string]interface{}{
			{"role": "consult", "sequence": 1, "text": "Consult visit 2024-01-10.", "document_date": "2024-01-10"},
			{"role": "operative", "sequence": seq2, "text": "Operation done 2024-01-24.", "document_date": "2024-01-24"},
		}
	}

	t.Run("HappyPath", func(t *testing.T) {
		rec := postJSON(t, s, "/v1/bundle", map[string]interface{}{
			"anchor_date": "2024-01-10",
			"documents":   docs(2),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Documents   []struct{ Text string } `json:"documents"`
			RoleOffsets map[string]int          `json:"role_offsets"`
		}
		decode(t, rec, &resp)
		if len(resp.Documents) != 2 {
			t.Fatalf("Documents = %d", len(resp.Documents))
		}
		if resp.RoleOffsets["OPERATIVE"] != 14 {
			t.Errorf("RoleOffsets = %v", resp.RoleOffsets)
		}
	})

	t.Run("DuplicateSequenceIs409", func(t *testing.T) {
		rec := postJSON(t, s, "/v1/bundle", map[string]interface{}{
			"anchor_date": "2024-01-10",
			"documents":   docs(1),
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("Status = %d, want 409: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("UnresolvableDateIs400", func(t *testing.T) {
		rec := postJSON(t, s, "/v1/bundle", map[string]interface{}{
			"anchor_date": "2024-01-10",
			"documents": []map[string]interface{}{
				{"role": "consult", "sequence": 1, "text": "No date.", "document_date": "whenever"},
			},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("BadAnchorIs400", func(t *testing.T) {
		rec := postJSON(t, s, "/v1/bundle", map[string]interface{}{
			"anchor_date": "03/15/1980",
			"documents":   docs(2),
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", rec.Code)
		}
	})

	t.Run("MissingDocumentsIs400", func(t *testing.T) {
		rec := postJSON(t, s, "/v1/bundle", map[string]interface{}{
			"anchor_date": "2024-01-10",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", rec.Code)
		}
	})
}
