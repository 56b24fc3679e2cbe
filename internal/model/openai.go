package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/phi"
)

// OpenAIConfig configures the OpenAI-compatible transport. BaseURL makes
// it work against any compatible endpoint, local models included.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIDetector asks an OpenAI-compatible chat endpoint to locate PHI
// spans. Chat completion has no partial delivery for structured output,
// so this transport yields a single terminal batch.
type OpenAIDetector struct {
	client *openai.Client
	model  string
	logger *logger.Logger

	timeout time.Duration
}

// NewOpenAIDetector creates the transport.
func NewOpenAIDetector(cfg OpenAIConfig, log *logger.Logger) (*OpenAIDetector, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai detector: API key is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	m := cfg.Model
	if m == "" {
		m = openai.GPT4oMini
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIDetector{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   m,
		logger:  log,
		timeout: timeout,
	}, nil
}

func (d *OpenAIDetector) Name() string { return "openai" }

const spanPrompt = `You locate protected health information in clinical text.
Return ONLY a JSON array. Each element: {"label": one of
EMAIL|PHONE|SSN|MRN|ACCOUNT|URL|IP|DATE|PROVIDER|OTHER,
"start": byte offset, "end": byte offset (half-open, into the exact input),
"confidence": number in [0,1]}.
Return [] if nothing is found. No prose, no code fences.`

type modelSpan struct {
	Label      string  `json:"label"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Detect runs one chat completion and emits its spans as the terminal
// batch. Offsets the model got wrong (inverted or out of range) are
// dropped here rather than poisoning the merge.
func (d *OpenAIDetector) Detect(ctx context.Context, text string, cfg Config) *Stream {
	stream := NewStream()

	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		resp, err := d.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
			Model: d.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: spanPrompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
			Temperature: 0,
		})
		if err != nil {
			if ctx.Err() != nil {
				stream.Finish(nil)
				return
			}
			stream.Finish(fmt.Errorf("openai detector: %w", err))
			return
		}
		if len(resp.Choices) == 0 {
			stream.Finish(fmt.Errorf("openai detector: empty response"))
			return
		}

		spans, err := parseModelSpans(resp.Choices[0].Message.Content, len(text))
		if err != nil {
			stream.Finish(fmt.Errorf("openai detector: %w", err))
			return
		}

		d.logger.Debug("Model detection completed", zap.Int("span_count", len(spans)))
		stream.Emit(ctx, spans)
		stream.Finish(nil)
	}()

	return stream
}

// parseModelSpans decodes the model's JSON array, tolerating code fences
// some models insist on, and drops spans with impossible offsets.
func parseModelSpans(content string, textLen int) ([]phi.Span, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw []modelSpan
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("malformed span payload: %w", err)
	}

	spans := make([]phi.Span, 0, len(raw))
	for _, m := range raw {
		span := phi.Span{
			ID:         uuid.NewString(),
			Label:      phi.Label(strings.ToUpper(m.Label)),
			Start:      m.Start,
			End:        m.End,
			Confidence: m.Confidence,
			Source:     phi.SourceModel,
		}
		if !span.Valid(textLen) {
			continue
		}
		spans = append(spans, span)
	}
	return spans, nil
}
