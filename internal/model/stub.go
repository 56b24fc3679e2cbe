package model

import (
	"context"
	"time"

	"github.com/notescrub/notescrub/internal/phi"
)

// StubDetector replays scripted batches. Used by tests and as the
// detector for model-off deployments (no batches, immediate clean done).
type StubDetector struct {
	BatchList [][]phi.Span
	FinalErr  error
	Delay     time.Duration
}

func (d *StubDetector) Name() string { return "stub" }

func (d *StubDetector) Detect(ctx context.Context, text string, cfg Config) *Stream {
	stream := NewStream()

	go func() {
		for _, batch := range d.BatchList {
			if d.Delay > 0 {
				select {
				case <-time.After(d.Delay):
				case <-ctx.Done():
					stream.Finish(nil)
					return
				}
			}
			stream.Emit(ctx, tagModel(batch))
		}
		stream.Finish(d.FinalErr)
	}()

	return stream
}
