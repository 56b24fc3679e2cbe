package model

import (
	"encoding/json"
	"fmt"
	"time"

	"context"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/phi"
)

const (
	// Time allowed to write a message to the detector
	wsWriteWait = 10 * time.Second
	// Maximum idle time between detector frames before we give up
	wsReadWait = 120 * time.Second
)

// Frame types spoken by the detector service.
const (
	frameBatch = "batch"
	frameDone  = "done"
	frameError = "error"
)

type detectRequest struct {
	Text   string `json:"text"`
	Config Config `json:"config"`
}

type detectFrame struct {
	Type    string     `json:"type"`
	Spans   []phi.Span `json:"spans,omitempty"`
	Message string     `json:"message,omitempty"`
}

// WSDetector reaches a detector service over a websocket and relays its
// incremental batch frames. This is the transport for detectors that
// support partial delivery, so a caller can show progress while the model
// is still working.
type WSDetector struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   *logger.Logger
}

// NewWSDetector creates a websocket transport for the given ws:// or
// wss:// endpoint.
func NewWSDetector(endpoint string, log *logger.Logger) *WSDetector {
	if log == nil {
		log = logger.Nop()
	}
	return &WSDetector{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger: log,
	}
}

func (d *WSDetector) Name() string { return "websocket" }

// Detect dials the detector and streams its batches. Cancelling ctx stops
// emission at the next frame boundary and closes the connection; partial
// batches already delivered stay valid.
func (d *WSDetector) Detect(ctx context.Context, text string, cfg Config) *Stream {
	stream := NewStream()
	go d.run(ctx, text, cfg, stream)
	return stream
}

func (d *WSDetector) run(ctx context.Context, text string, cfg Config, stream *Stream) {
	conn, _, err := d.dialer.DialContext(ctx, d.endpoint, nil)
	if err != nil {
		stream.Finish(fmt.Errorf("dial detector: %w", err))
		return
	}
	defer conn.Close()

	// Close the connection when ctx is cancelled so the blocked read
	// below returns promptly.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "cancelled"),
				time.Now().Add(wsWriteWait))
			_ = conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(detectRequest{Text: text, Config: cfg}); err != nil {
		stream.Finish(fmt.Errorf("send detect request: %w", err))
		return
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation is not a detector failure.
				stream.Finish(nil)
				return
			}
			stream.Finish(fmt.Errorf("read detector frame: %w", err))
			return
		}

		var frame detectFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			stream.Finish(fmt.Errorf("malformed detector frame: %w", err))
			return
		}

		switch frame.Type {
		case frameBatch:
			stream.Emit(ctx, tagModel(frame.Spans))
		case frameDone:
			// The terminal frame carries the full span list; emit any
			// spans the incremental batches may have missed.
			stream.Emit(ctx, tagModel(frame.Spans))
			stream.Finish(nil)
			return
		case frameError:
			stream.Finish(fmt.Errorf("detector error: %s", frame.Message))
			return
		default:
			d.logger.Debug("Ignoring unknown detector frame", zap.String("type", frame.Type))
		}
	}
}

// tagModel stamps provenance on every incoming span. The remote side's
// claim about its own source field is not trusted.
func tagModel(spans []phi.Span) []phi.Span {
	for i := range spans {
		spans[i].Source = phi.SourceModel
	}
	return spans
}
