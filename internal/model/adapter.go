// Package model defines the capability boundary to the external
// probabilistic PHI detector. The detector itself runs in another address
// space; this package only knows how to start it, receive its streamed
// span batches, and cancel it. Policy (confidence filtering, overlap
// resolution) lives in the merge engine, which keeps every transport
// policy-free.
package model

import (
	"context"
	"sync"

	"github.com/notescrub/notescrub/internal/phi"
)

// Config is passed to the external detector at start. It mirrors the
// caller's merge policy so the remote side can tune itself, but nothing in
// this package filters on it.
type Config struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MergeMode           string  `json:"merge_mode"`
	ProtectProviders    bool    `json:"protect_providers"`
}

// Detector is the probabilistic detector capability. Detect returns
// immediately with a Stream; cancellation goes through ctx and is safe at
// any point. A transport failure surfaces as the stream's terminal error
// and must never abort the caller's pipeline.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string, cfg Config) *Stream
}

// Stream is an append-only sequence of span batches followed by exactly
// one terminal result. Consumers range over Batches until it closes, then
// read Err.
type Stream struct {
	batches chan []phi.Span

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// NewStream creates a stream for a transport to produce into.
func NewStream() *Stream {
	return &Stream{
		batches: make(chan []phi.Span, 16),
		done:    make(chan struct{}),
	}
}

// Batches returns the batch channel. It is closed after the terminal
// result; no batch is ever a partially-written span set.
func (s *Stream) Batches() <-chan []phi.Span {
	return s.batches
}

// Done is closed once the terminal result is available.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error. Only meaningful after Done is closed;
// nil means the detector completed (or was cancelled) cleanly.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers one batch, giving up if the caller has gone away.
func (s *Stream) Emit(ctx context.Context, spans []phi.Span) {
	if len(spans) == 0 {
		return
	}
	select {
	case s.batches <- spans:
	case <-ctx.Done():
	}
}

// Finish records the terminal result and closes the stream. Safe to call
// once per stream; transports call it from their producing goroutine.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		return
	}
	s.err = err
	close(s.done)
	s.mu.Unlock()
	close(s.batches)
}

func (s *Stream) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
