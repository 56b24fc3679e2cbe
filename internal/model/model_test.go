package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notescrub/notescrub/internal/phi"
)

// TestStream tests the batch stream contract
func TestStream(t *testing.T) {
	t.Run("BatchesThenTerminal", func(t *testing.T) {
		s := NewStream()
		go func() {
			s.Emit(context.Background(), []phi.Span{{ID: "a", Label: phi.LabelDate, Start: 0, End: 3, Confidence: 0.9}})
			s.Emit(context.Background(), []phi.Span{{ID: "b", Label: phi.LabelEmail, Start: 5, End: 9, Confidence: 0.9}})
			s.Finish(nil)
		}()

		var got int
		for batch := range s.Batches() {
			got += len(batch)
		}
		if got != 2 {
			t.Errorf("Received %d spans, want 2", got)
		}
		if s.Err() != nil {
			t.Errorf("Err = %v", s.Err())
		}
	})

	t.Run("TerminalError", func(t *testing.T) {
		s := NewStream()
		want := errors.New("transport broke")
		go s.Finish(want)

		for range s.Batches() {
		}
		if !errors.Is(s.Err(), want) {
			t.Errorf("Err = %v, want %v", s.Err(), want)
		}
	})

	t.Run("EmptyBatchIgnored", func(t *testing.T) {
		s := NewStream()
		go func() {
			s.Emit(context.Background(), nil)
			s.Finish(nil)
		}()

		count := 0
		for range s.Batches() {
			count++
		}
		if count != 0 {
			t.Errorf("Empty batch delivered %d times", count)
		}
	})

	t.Run("DoubleFinishIsSafe", func(t *testing.T) {
		s := NewStream()
		s.Finish(nil)
		s.Finish(errors.New("late"))
		if s.Err() != nil {
			t.Error("Second Finish should not overwrite the terminal result")
		}
	})
}

// TestStubDetector tests the scripted transport
func TestStubDetector(t *testing.T) {
	t.Run("ReplaysBatches", func(t *testing.T) {
		stub := &StubDetector{
			BatchList: [][]phi.Span{
				{{ID: "a", Label: phi.LabelDate, Start: 0, End: 3, Confidence: 0.9}},
				{{ID: "b", Label: phi.LabelSSN, Start: 5, End: 16, Confidence: 0.9}},
			},
		}

		stream := stub.Detect(context.Background(), "some text", Config{})
		var spans []phi.Span
		for batch := range stream.Batches() {
			spans = append(spans, batch...)
		}
		if len(spans) != 2 {
			t.Fatalf("Received %d spans, want 2", len(spans))
		}
		for _, s := range spans {
			if s.Source != phi.SourceModel {
				t.Errorf("Span %s source = %s, want model", s.ID, s.Source)
			}
		}
		if stream.Err() != nil {
			t.Errorf("Err = %v", stream.Err())
		}
	})

	t.Run("CancellationFinishesClean", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		stub := &StubDetector{
			Delay:     time.Minute,
			BatchList: [][]phi.Span{{{ID: "a", Label: phi.LabelDate, Start: 0, End: 3, Confidence: 0.9}}},
		}
		stream := stub.Detect(ctx, "text", Config{})

		select {
		case <-stream.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("Stream never terminated after cancellation")
		}
		if stream.Err() != nil {
			t.Errorf("Cancellation should finish clean, got %v", stream.Err())
		}
	})
}

// TestNewDetector tests provider selection
func TestNewDetector(t *testing.T) {
	t.Run("Off", func(t *testing.T) {
		for _, provider := range []string{"", "off", "OFF"} {
			d, err := NewDetector(ProviderConfig{Provider: provider}, nil)
			if err != nil {
				t.Errorf("Provider %q: err = %v", provider, err)
			}
			if d != nil {
				t.Errorf("Provider %q should disable the detector", provider)
			}
		}
	})

	t.Run("WebsocketRequiresEndpoint", func(t *testing.T) {
		if _, err := NewDetector(ProviderConfig{Provider: "websocket"}, nil); err == nil {
			t.Error("Missing endpoint should error")
		}
		d, err := NewDetector(ProviderConfig{Provider: "ws", Endpoint: "ws://localhost:9000/detect"}, nil)
		if err != nil {
			t.Fatalf("Failed to create ws detector: %v", err)
		}
		if d.Name() != "websocket" {
			t.Errorf("Name = %s", d.Name())
		}
	})

	t.Run("OpenAIRequiresKey", func(t *testing.T) {
		if _, err := NewDetector(ProviderConfig{Provider: "openai"}, nil); err == nil {
			t.Error("Missing API key should error")
		}
		d, err := NewDetector(ProviderConfig{Provider: "openai", APIKey: "sk-test"}, nil)
		if err != nil {
			t.Fatalf("Failed to create openai detector: %v", err)
		}
		if d.Name() != "openai" {
			t.Errorf("Name = %s", d.Name())
		}
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		if _, err := NewDetector(ProviderConfig{Provider: "carrier-pigeon"}, nil); err == nil {
			t.Error("Unknown provider should error")
		}
	})
}

// TestParseModelSpans tests the model payload decoder
func TestParseModelSpans(t *testing.T) {
	t.Run("PlainArray", func(t *testing.T) {
		spans, err := parseModelSpans(`[{"label":"date","start":5,"end":15,"confidence":0.8}]`, 20)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(spans) != 1 {
			t.Fatalf("Got %d spans", len(spans))
		}
		if spans[0].Label != phi.LabelDate || spans[0].Source != phi.SourceModel {
			t.Errorf("Span = %+v", spans[0])
		}
		if spans[0].ID == "" {
			t.Error("Span needs a generated ID")
		}
	})

	t.Run("CodeFenced", func(t *testing.T) {
		payload := "```json\n[{\"label\":\"EMAIL\",\"start\":0,\"end\":6,\"confidence\":0.9}]\n```"
		spans, err := parseModelSpans(payload, 10)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(spans) != 1 {
			t.Errorf("Got %d spans", len(spans))
		}
	})

	t.Run("BadOffsetsDropped", func(t *testing.T) {
		payload := `[
			{"label":"DATE","start":15,"end":5,"confidence":0.8},
			{"label":"DATE","start":0,"end":99,"confidence":0.8},
			{"label":"DATE","start":2,"end":6,"confidence":0.8}
		]`
		spans, err := parseModelSpans(payload, 10)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(spans) != 1 {
			t.Errorf("Got %d spans, want the single in-bounds one", len(spans))
		}
	})

	t.Run("EmptyArray", func(t *testing.T) {
		spans, err := parseModelSpans("[]", 10)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(spans) != 0 {
			t.Errorf("Got %d spans", len(spans))
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		if _, err := parseModelSpans("the patient seems fine", 10); err == nil {
			t.Error("Prose payload should error")
		}
	})
}
