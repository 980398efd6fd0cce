package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/tracer"
)

// DefaultSystemPrompt is used for text chat when none is configured.
const DefaultSystemPrompt = "You are a helpful AI assistant. You provide accurate, helpful responses and admit when you don't know something."

// TextReplierConfig holds text-chat settings.
type TextReplierConfig struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// ChunkDelay paces word-by-word delivery when the provider cannot stream.
	// Zero delivers the reply in one chunk.
	ChunkDelay time.Duration
}

// TextReplier answers plain text questions. It streams when the provider
// supports it and otherwise replays the finished reply word by word.
// Text completions are never retried.
type TextReplier struct {
	completer domain.TextCompleter
	budget    *TokenBudget
	cfg       TextReplierConfig
	sleep     Sleeper
	logger    *slog.Logger
}

// NewTextReplier creates a replier. budget may be nil.
func NewTextReplier(completer domain.TextCompleter, budget *TokenBudget, cfg TextReplierConfig, logger *slog.Logger) *TextReplier {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if budget == nil {
		budget = NewTokenBudget(cfg.MaxTokens, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TextReplier{
		completer: completer,
		budget:    budget,
		cfg:       cfg,
		sleep:     contextSleep,
		logger:    logger,
	}
}

// Reply sends history (oldest first, newest user turn last) and returns the
// full reply. onChunk, if set, receives the reply incrementally.
func (r *TextReplier) Reply(ctx context.Context, history []domain.ChatMessage, onChunk func(string)) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "text.complete",
		trace.WithAttributes(
			tracer.StringAttr("text.model", r.cfg.Model),
			tracer.StringAttr("text.provider", r.completer.Name()),
		),
	)
	defer span.End()

	system := domain.ChatMessage{Role: domain.RoleSystem, Content: r.cfg.SystemPrompt}
	req := domain.TextRequest{
		Model:       r.cfg.Model,
		Messages:    r.budget.Fit(&system, history, r.budget.MaxTokens()),
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	}
	span.SetAttributes(tracer.IntAttr("text.messages", len(req.Messages)))

	var (
		reply string
		err   error
	)
	sc, streaming := r.completer.(domain.StreamingTextCompleter)
	span.SetAttributes(tracer.BoolAttr("text.streaming", streaming))
	if streaming {
		reply, err = r.stream(ctx, sc, req, onChunk)
	} else {
		reply, err = r.complete(ctx, req, onChunk)
	}
	if err != nil {
		tracer.RecordError(span, err)
		r.logger.Warn("text completion failed", "provider", r.completer.Name(), "error", err)
		return "", err
	}
	tracer.SetOK(span)
	return reply, nil
}

func (r *TextReplier) stream(ctx context.Context, sc domain.StreamingTextCompleter, req domain.TextRequest, onChunk func(string)) (string, error) {
	req.Stream = true
	ch, err := sc.CompleteStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("stream: %w", err)
	}
	var sb strings.Builder
	for delta := range ch {
		if delta.Content != "" {
			sb.WriteString(delta.Content)
			if onChunk != nil {
				onChunk(delta.Content)
			}
		}
		if delta.Done {
			break
		}
	}
	if sb.Len() == 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", errors.New("no content received from the model")
	}
	return sb.String(), nil
}

func (r *TextReplier) complete(ctx context.Context, req domain.TextRequest, onChunk func(string)) (string, error) {
	resp, err := r.completer.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("no content received from the model")
	}
	if onChunk == nil {
		return resp.Content, nil
	}
	if r.cfg.ChunkDelay <= 0 {
		onChunk(resp.Content)
		return resp.Content, nil
	}
	for i, word := range strings.Split(resp.Content, " ") {
		if i > 0 {
			if err := r.sleep(ctx, r.cfg.ChunkDelay); err != nil {
				break
			}
		}
		onChunk(word + " ")
	}
	return resp.Content, nil
}
