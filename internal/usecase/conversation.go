package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"pixelchat/internal/domain"
)

// Conversation is the ordered, in-memory message list of one chat session.
// Messages are only removed by TruncateAfter or Reset.
type Conversation struct {
	mu      sync.RWMutex
	msgs    []domain.Message
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
	onAdd   func(domain.Message)
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	t := time.Now()
	return &Conversation{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
		now:     time.Now,
	}
}

// Append adds a message and returns it with ID and timestamp assigned.
func (c *Conversation) Append(role, content string, kind domain.MessageKind, images ...domain.ImageRef) domain.Message {
	c.mu.Lock()
	t := c.now()
	msg := domain.Message{
		ID:        ulid.MustNew(ulid.Timestamp(t), c.entropy).String(),
		Role:      role,
		Content:   content,
		Kind:      kind,
		Images:    append([]domain.ImageRef(nil), images...),
		CreatedAt: t,
	}
	c.msgs = append(c.msgs, msg)
	onAdd := c.onAdd
	c.mu.Unlock()

	if onAdd != nil {
		onAdd(msg)
	}
	return msg
}

// observe registers fn to run after each Append, outside the lock.
func (c *Conversation) observe(fn func(domain.Message)) {
	c.mu.Lock()
	c.onAdd = fn
	c.mu.Unlock()
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}

// Find returns the message with the given ID.
func (c *Conversation) Find(id string) (domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Message{}, false
}

// TruncateAfter rewrites the content of message id and discards every later
// message. The discarded messages are returned so their images can be
// released.
func (c *Conversation) TruncateAfter(id, content string) ([]domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.msgs {
		if c.msgs[i].ID != id {
			continue
		}
		c.msgs[i].Content = content
		removed := append([]domain.Message(nil), c.msgs[i+1:]...)
		c.msgs = c.msgs[:i+1]
		return removed, nil
	}
	return nil, domain.NewDomainError("Conversation.TruncateAfter", domain.ErrMessageNotFound, id)
}

// ReplaceImages swaps the images of message id and returns the old ones.
func (c *Conversation) ReplaceImages(id string, images []domain.ImageRef) ([]domain.ImageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.msgs {
		if c.msgs[i].ID != id {
			continue
		}
		old := c.msgs[i].Images
		c.msgs[i].Images = append([]domain.ImageRef(nil), images...)
		return old, nil
	}
	return nil, domain.NewDomainError("Conversation.ReplaceImages", domain.ErrMessageNotFound, id)
}

// Reset drops every message and returns them.
func (c *Conversation) Reset() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.msgs
	c.msgs = nil
	return removed
}

// ConversationMutator translates pipeline events into conversation entries
// and keeps the candidate pool consistent with the outcome.
type ConversationMutator struct {
	conv   *Conversation
	pool   *ImageCandidatePool
	blobs  domain.BlobStore
	logger *slog.Logger
}

// NewConversationMutator creates a mutator. blobs may be nil, in which case
// user thumbnails reuse the pool's locators.
func NewConversationMutator(conv *Conversation, pool *ImageCandidatePool, blobs domain.BlobStore, logger *slog.Logger) *ConversationMutator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationMutator{conv: conv, pool: pool, blobs: blobs, logger: logger}
}

// CommitUserTurn appends the user's message before any generation attempt.
// Edit requests show the target image and the session references; create
// requests show none.
func (m *ConversationMutator) CommitUserTurn(ctx context.Context, req domain.GenerationRequest, refs []domain.ImageFile) domain.Message {
	return m.conv.Append(domain.RoleUser, req.Prompt, domain.KindText, m.userThumbnails(ctx, req, refs)...)
}

// RefreshUserTurn points an edited user message at the images of its new
// request. It returns the thumbnails no message holds anymore; on error those
// are the ones just created.
func (m *ConversationMutator) RefreshUserTurn(ctx context.Context, id string, req domain.GenerationRequest, refs []domain.ImageFile) ([]domain.ImageRef, error) {
	thumbs := m.userThumbnails(ctx, req, refs)
	old, err := m.conv.ReplaceImages(id, thumbs)
	if err != nil {
		return thumbs, err
	}
	kept := make(map[string]bool, len(thumbs))
	for _, t := range thumbs {
		kept[t.URL] = true
	}
	var stale []domain.ImageRef
	for _, img := range old {
		if !kept[img.URL] {
			stale = append(stale, img)
		}
	}
	return stale, nil
}

func (m *ConversationMutator) userThumbnails(ctx context.Context, req domain.GenerationRequest, refs []domain.ImageFile) []domain.ImageRef {
	if req.Mode != domain.ModeEdit {
		return nil
	}
	var thumbs []domain.ImageRef
	if req.Image != nil {
		thumbs = append(thumbs, m.thumbnail(ctx, *req.Image, req.Image.Name))
	}
	for i, ref := range refs {
		thumbs = append(thumbs, m.thumbnail(ctx, ref, fmt.Sprintf("Reference %d", i+1)))
	}
	return thumbs
}

// CommitAnalysisTurn appends the user's analyze request with its thumbnail.
func (m *ConversationMutator) CommitAnalysisTurn(ctx context.Context, image domain.ImageFile) domain.Message {
	return m.conv.Append(domain.RoleUser, analyzeUserMessage(image.Name), domain.KindText,
		m.thumbnail(ctx, image, image.Name))
}

// AppendRetryNotice records a retry progress notice.
func (m *ConversationMutator) AppendRetryNotice(attempt, maxAttempts int) {
	m.conv.Append(domain.RoleAssistant, retryNotice(attempt, maxAttempts), domain.KindNotice)
}

// AppendGuidance records a validation message. No user turn precedes it.
func (m *ConversationMutator) AppendGuidance(text string) domain.Message {
	return m.conv.Append(domain.RoleAssistant, text, domain.KindGuidance)
}

// AppendAssistant records a plain assistant reply.
func (m *ConversationMutator) AppendAssistant(text string, kind domain.MessageKind) domain.Message {
	return m.conv.Append(domain.RoleAssistant, text, kind)
}

// CommitOutcome appends the assistant side of a finished generation and
// resets transient pool state. prior is the last generated image observed
// before the request started.
func (m *ConversationMutator) CommitOutcome(mode domain.GenerationMode, outcome domain.GenerationOutcome, prior *domain.GeneratedImage) {
	if outcome.Succeeded {
		if retries := outcome.AttemptsUsed - 1; retries > 0 {
			m.conv.Append(domain.RoleAssistant, successAfterRetriesNotice(mode, retries), domain.KindNotice)
		}
		m.conv.Append(domain.RoleAssistant, "", domain.KindImage, domain.ImageRef{
			URL:     outcome.ResultLocator,
			Kind:    domain.ImageOutput,
			Caption: generatedCaption,
		})

		m.pool.RecordGenerationSuccess(outcome.ResultLocator)
		m.pool.clearAfterRequest(&domain.GeneratedImage{Locator: outcome.ResultLocator, Caption: generatedCaption})
		return
	}

	msg := outcome.ErrorMessage
	if strings.TrimSpace(msg) == "" {
		msg = "Unknown error"
	}
	m.conv.Append(domain.RoleAssistant, failureNotice(mode, outcome.AttemptsUsed, msg), domain.KindError)
	m.conv.Append(domain.RoleAssistant, failureHint(mode, outcome.Class), domain.KindNotice)
	m.conv.Append(domain.RoleAssistant, resendSuggestion, domain.KindNotice)

	m.pool.clearAfterRequest(prior)
}

// thumbnail gives the message its own locator so pool clears never strand it.
func (m *ConversationMutator) thumbnail(ctx context.Context, f domain.ImageFile, caption string) domain.ImageRef {
	ref := domain.ImageRef{URL: f.Locator, Kind: domain.ImageInput, Caption: caption}
	if m.blobs == nil || len(f.Data) == 0 {
		return ref
	}
	loc, err := m.blobs.Put(ctx, f)
	if err != nil {
		m.logger.Warn("thumbnail blob unavailable, reusing pool locator", "name", f.Name, "error", err)
		return ref
	}
	ref.URL = loc
	return ref
}
