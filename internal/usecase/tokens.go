package usecase

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"pixelchat/internal/domain"
)

// perMessageOverhead approximates role and separator tokens per chat message.
const perMessageOverhead = 4

// TokenCounter counts tokens for text-model history.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding. The encoding is
// loaded lazily; if it cannot be loaded the counter falls back to a
// character heuristic.
type TiktokenCounter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger *slog.Logger
}

// NewTiktokenCounter creates a counter.
func NewTiktokenCounter(logger *slog.Logger) *TiktokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TiktokenCounter{logger: logger}
}

// Count returns the token count of text.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("tiktoken encoding unavailable, estimating tokens", "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// estimateTokens blends word and character estimates (~4 chars per token).
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	n := (words + len(text)/4) / 2
	if n == 0 {
		n = 1
	}
	return n
}

type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int { return estimateTokens(text) }

// TokenBudget trims text-chat history so prompt plus reply fit the budget.
type TokenBudget struct {
	maxTokens int
	counter   TokenCounter
}

// NewTokenBudget creates a budget of maxTokens (default 2048).
func NewTokenBudget(maxTokens int, counter TokenCounter) *TokenBudget {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	if counter == nil {
		counter = heuristicCounter{}
	}
	return &TokenBudget{maxTokens: maxTokens, counter: counter}
}

// MaxTokens returns the configured budget.
func (b *TokenBudget) MaxTokens() int { return b.maxTokens }

// CountMessages sums the tokens of msgs including per-message overhead.
func (b *TokenBudget) CountMessages(msgs []domain.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += b.counter.Count(m.Content) + perMessageOverhead
	}
	return total
}

// Fit keeps the system message (if any) and the most recent history that
// fits within limit tokens. The newest message is always kept.
func (b *TokenBudget) Fit(system *domain.ChatMessage, history []domain.ChatMessage, limit int) []domain.ChatMessage {
	if limit <= 0 {
		limit = b.maxTokens
	}
	used := 0
	if system != nil {
		used = b.CountMessages([]domain.ChatMessage{*system})
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.counter.Count(history[i].Content) + perMessageOverhead
		if used+cost > limit && i < len(history)-1 {
			break
		}
		used += cost
		start = i
	}

	out := make([]domain.ChatMessage, 0, len(history)-start+1)
	if system != nil {
		out = append(out, *system)
	}
	return append(out, history[start:]...)
}
