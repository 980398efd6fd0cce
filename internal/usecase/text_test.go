package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelchat/internal/domain"
)

type fixedCounter struct{ perMessage int }

func (f fixedCounter) Count(string) int { return f.perMessage }

func TestTokenBudgetFitKeepsNewest(t *testing.T) {
	b := NewTokenBudget(100, fixedCounter{perMessage: 10})
	system := domain.ChatMessage{Role: domain.RoleSystem, Content: "sys"}
	var history []domain.ChatMessage
	for i := 0; i < 10; i++ {
		history = append(history, domain.ChatMessage{Role: domain.RoleUser, Content: string(rune('a' + i))})
	}

	// Each message costs 14: system plus six history messages is 98, a seventh would be 112.
	out := b.Fit(&system, history, 100)
	require.Len(t, out, 7)
	assert.Equal(t, domain.RoleSystem, out[0].Role)
	assert.Equal(t, "j", out[len(out)-1].Content)
	assert.Equal(t, "e", out[1].Content)
}

func TestTokenBudgetAlwaysKeepsLatest(t *testing.T) {
	b := NewTokenBudget(10, fixedCounter{perMessage: 50})
	out := b.Fit(nil, []domain.ChatMessage{{Content: "old"}, {Content: "new"}}, 0)
	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].Content)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("a"))
	assert.Greater(t, estimateTokens(strings.Repeat("word ", 100)), 50)
}

func TestTextReplierSendsSystemPromptAndHistory(t *testing.T) {
	text := &mockText{resp: "ok"}
	r := NewTextReplier(text, nil, TextReplierConfig{Model: "m", Temperature: 0.5}, newTestLogger())

	_, err := r.Reply(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	require.Len(t, text.reqs, 1)
	req := text.reqs[0]
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, 2048, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, DefaultSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, "hi", req.Messages[1].Content)
}

func TestTextReplierChunksNonStreamingReply(t *testing.T) {
	text := &mockText{resp: "one two three"}
	r := NewTextReplier(text, nil, TextReplierConfig{ChunkDelay: 50 * time.Millisecond}, newTestLogger())
	sleeper := &recordingSleeper{}
	r.sleep = sleeper.Sleep

	var chunks []string
	reply, err := r.Reply(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "count"}}, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", reply)
	assert.Equal(t, []string{"one ", "two ", "three "}, chunks)
	assert.Len(t, sleeper.delays, 2)
}

func TestTextReplierStreams(t *testing.T) {
	text := &mockStreamText{deltas: []string{"Hel", "lo"}}
	r := NewTextReplier(text, nil, TextReplierConfig{}, newTestLogger())

	var chunks []string
	reply, err := r.Reply(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	require.Len(t, text.reqs, 1)
	assert.True(t, text.reqs[0].Stream)
}

func TestTextReplierEmptyReplyIsError(t *testing.T) {
	r := NewTextReplier(&mockText{resp: "  "}, nil, TextReplierConfig{}, newTestLogger())
	_, err := r.Reply(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, nil)
	assert.Error(t, err)
}
