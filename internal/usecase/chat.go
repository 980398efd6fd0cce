package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/tracer"
)

// surfacedError marks an error whose user-facing text has already been
// appended to the conversation.
type surfacedError struct{ err error }

func (e *surfacedError) Error() string { return e.err.Error() }
func (e *surfacedError) Unwrap() error { return e.err }

func surfaced(err error) error {
	if err == nil {
		return nil
	}
	return &surfacedError{err: err}
}

// IsSurfaced reports whether err is already visible in the conversation, so
// callers should not display it again.
func IsSurfaced(err error) bool {
	var s *surfacedError
	return errors.As(err, &s)
}

// ChatSessionConfig holds per-session settings.
type ChatSessionConfig struct {
	ImageModel       string
	APIKeyConfigured bool
	InitialMode      domain.GenerationMode
}

// ChatSessionDeps are the collaborators of a ChatSession. Text, Blobs,
// Fetcher and Metrics are optional.
type ChatSessionDeps struct {
	Generator    domain.ImageGenerator
	Analyzer     domain.ImageAnalyzer
	Fetcher      domain.ImageFetcher
	Blobs        domain.BlobStore
	Text         *TextReplier
	Metrics      GenerationMetrics
	RetryOptions []RetryOption
	Logger       *slog.Logger
}

// ChatSession is the single facade a UI talks to. It owns the conversation
// and the candidate pool and admits one pipeline at a time.
type ChatSession struct {
	mu           sync.Mutex
	processing   bool
	retryAttempt int
	mode         domain.GenerationMode
	observer     func(domain.Message)

	cfg      ChatSessionConfig
	conv     *Conversation
	pool     *ImageCandidatePool
	builder  *GenerationRequestBuilder
	client   *RetryingGenerationClient
	mutator  *ConversationMutator
	edits    *MessageEditCoordinator
	analyzer domain.ImageAnalyzer
	fetcher  domain.ImageFetcher
	blobs    domain.BlobStore
	text     *TextReplier
	metrics  GenerationMetrics
	logger   *slog.Logger
}

// NewChatSession wires a session from its collaborators.
func NewChatSession(cfg ChatSessionConfig, deps ChatSessionDeps) *ChatSession {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	mode := cfg.InitialMode
	if mode == "" {
		mode = domain.ModeCreate
	}

	s := &ChatSession{
		mode:     mode,
		cfg:      cfg,
		conv:     NewConversation(),
		builder:  NewGenerationRequestBuilder(cfg.ImageModel),
		analyzer: deps.Analyzer,
		fetcher:  deps.Fetcher,
		blobs:    deps.Blobs,
		text:     deps.Text,
		metrics:  metrics,
		logger:   logger,
	}
	s.conv.observe(s.notify)
	s.pool = NewImageCandidatePool(s.releaseLocator, logger)
	opts := append([]RetryOption{WithGenerationMetrics(metrics)}, deps.RetryOptions...)
	s.client = NewRetryingGenerationClient(deps.Generator, logger, opts...)
	s.mutator = NewConversationMutator(s.conv, s.pool, deps.Blobs, logger)
	s.edits = NewMessageEditCoordinator(s.conv)
	return s
}

// SetObserver registers fn to be called after every appended message. It is
// called without session locks held.
func (s *ChatSession) SetObserver(fn func(domain.Message)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

func (s *ChatSession) notify(msg domain.Message) {
	s.mu.Lock()
	fn := s.observer
	s.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Messages returns the conversation in order.
func (s *ChatSession) Messages() []domain.Message { return s.conv.Messages() }

// Processing reports whether a pipeline is in flight.
func (s *ChatSession) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// RetryAttempt returns the attempt number currently being retried (2 or 3),
// or 0 when no retry is running.
func (s *ChatSession) RetryAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryAttempt
}

// PoolSnapshot returns the candidate pool for display.
func (s *ChatSession) PoolSnapshot() PoolSnapshot { return s.pool.Snapshot() }

// Mode returns the current generation mode.
func (s *ChatSession) Mode() domain.GenerationMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SwitchMode changes the generation mode.
func (s *ChatSession) SwitchMode(mode domain.GenerationMode) error {
	if mode != domain.ModeCreate && mode != domain.ModeEdit {
		return fmt.Errorf("switch mode: unknown mode %q", mode)
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return nil
}

// EditState returns the pending edit, if any.
func (s *ChatSession) EditState() EditState { return s.edits.State() }

func (s *ChatSession) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return domain.ErrRequestInFlight
	}
	s.processing = true
	s.retryAttempt = 0
	return nil
}

func (s *ChatSession) end() {
	s.mu.Lock()
	s.processing = false
	s.retryAttempt = 0
	s.mu.Unlock()
}

// Send runs the generation pipeline for text in the current mode. When an
// edit is pending, Send confirms it with text instead. Validation failures
// are appended as guidance and returned as surfaced errors; an exhausted
// generation is reported through the outcome, not the error.
func (s *ChatSession) Send(ctx context.Context, text string) (domain.GenerationOutcome, error) {
	if err := s.begin(); err != nil {
		return domain.GenerationOutcome{}, err
	}
	defer s.end()

	if s.edits.State().Editing {
		return s.confirmEdit(ctx, text)
	}
	return s.runGeneration(ctx, text)
}

// StartEdit puts a user message into editing.
func (s *ChatSession) StartEdit(id string) (EditState, error) {
	if s.Processing() {
		return EditState{}, domain.ErrRequestInFlight
	}
	return s.edits.Start(id)
}

// CancelEdit discards the pending edit without touching the conversation.
func (s *ChatSession) CancelEdit() bool { return s.edits.Cancel() }

// EditMessage rewrites message id, truncates after it and regenerates.
func (s *ChatSession) EditMessage(ctx context.Context, id, newText string) (domain.GenerationOutcome, error) {
	if err := s.begin(); err != nil {
		return domain.GenerationOutcome{}, err
	}
	defer s.end()

	if _, err := s.edits.Start(id); err != nil {
		return domain.GenerationOutcome{}, err
	}
	return s.confirmEdit(ctx, newText)
}

func (s *ChatSession) confirmEdit(ctx context.Context, newText string) (domain.GenerationOutcome, error) {
	id := s.edits.State().MessageID
	text, removed, err := s.edits.Confirm(newText)
	if err != nil {
		return domain.GenerationOutcome{}, err
	}
	s.releaseMessages(removed)
	return s.regenerate(ctx, id, text)
}

// regenerate re-runs the pipeline for the already committed user message id.
// The edited message stays as the user turn with its thumbnails refreshed to
// the new request, so only the assistant side is appended.
func (s *ChatSession) regenerate(ctx context.Context, id, text string) (domain.GenerationOutcome, error) {
	return s.pipeline(ctx, text, id)
}

func (s *ChatSession) runGeneration(ctx context.Context, text string) (domain.GenerationOutcome, error) {
	return s.pipeline(ctx, text, "")
}

// pipeline builds and executes one generation. An empty editedID commits a
// new user turn; otherwise that message is reused.
func (s *ChatSession) pipeline(ctx context.Context, text, editedID string) (domain.GenerationOutcome, error) {
	mode := s.Mode()
	ctx, span := tracer.StartSpan(ctx, "chat.send",
		trace.WithAttributes(
			tracer.StringAttr("chat.mode", string(mode)),
			tracer.IntAttr("chat.prompt_length", len(text)),
		),
	)
	defer span.End()

	if !s.cfg.APIKeyConfigured {
		s.mutator.AppendGuidance(guidanceMissingAPIKey)
		return domain.GenerationOutcome{}, surfaced(domain.NewDomainError("ChatSession.Send", domain.ErrMissingAPIKey, ""))
	}

	prior := s.pool.LastGenerated()
	refs := s.pool.Snapshot().References

	req, err := s.builder.BuildFromPool(ctx, mode, text, s.pool, s.fetcher)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingPrompt):
			s.mutator.AppendGuidance(guidanceCreateNeedsPrompt)
		case errors.Is(err, domain.ErrNoImageAvailable):
			s.mutator.AppendGuidance(guidanceEditNeedsImage)
		default:
			tracer.RecordError(span, err)
			return domain.GenerationOutcome{}, err
		}
		return domain.GenerationOutcome{}, surfaced(err)
	}

	if editedID == "" {
		s.mutator.CommitUserTurn(ctx, req, refs)
	} else {
		s.refreshEditedTurn(ctx, editedID, req, refs)
	}

	outcome := s.client.Execute(ctx, req, func(attempt, maxAttempts int) {
		s.mu.Lock()
		s.retryAttempt = attempt
		s.mu.Unlock()
		s.mutator.AppendRetryNotice(attempt, maxAttempts)
	})
	s.mutator.CommitOutcome(req.Mode, outcome, prior)

	if outcome.Succeeded {
		tracer.SetOK(span)
	} else {
		span.SetAttributes(tracer.StringAttr("chat.failure_class", string(outcome.Class)))
	}
	return outcome, nil
}

// AnalyzeImage describes file, or the main candidate when file is nil, with a
// single analyzer call. An empty question uses DefaultAnalysisQuestion.
func (s *ChatSession) AnalyzeImage(ctx context.Context, file *domain.ImageFile, question string) (string, error) {
	if err := s.begin(); err != nil {
		return "", err
	}
	defer s.end()

	var image *domain.ImageFile
	if file != nil {
		f := *file
		if f.Size == 0 && len(f.Data) > 0 {
			f.Size = int64(len(f.Data))
		}
		if err := domain.ValidateImageFile(f); err != nil {
			s.mutator.AppendGuidance(invalidFileGuidance(f.Name, err))
			return "", surfaced(err)
		}
		image = &f
	} else {
		image = s.pool.ResolveMainCandidate()
	}
	if image == nil {
		s.mutator.AppendGuidance(guidanceNoImageToAnalyze)
		return "", surfaced(domain.NewDomainError("ChatSession.AnalyzeImage", domain.ErrNoImageAvailable, ""))
	}
	if s.analyzer == nil {
		s.mutator.AppendGuidance("⚠️ Image analysis is not available with the configured image backend.")
		return "", surfaced(domain.NewDomainError("ChatSession.AnalyzeImage", domain.ErrAnalysisFailed, "no analyzer"))
	}
	if !s.cfg.APIKeyConfigured {
		s.mutator.AppendGuidance(guidanceMissingAPIKey)
		return "", surfaced(domain.NewDomainError("ChatSession.AnalyzeImage", domain.ErrMissingAPIKey, ""))
	}
	if len(image.Data) == 0 && image.Locator != "" && s.fetcher != nil {
		if fetched, err := s.fetcher.Fetch(ctx, image.Locator); err == nil && fetched != nil {
			fetched.Name = image.Name
			image = fetched
		}
	}
	if strings.TrimSpace(question) == "" {
		question = DefaultAnalysisQuestion
	}

	s.mutator.CommitAnalysisTurn(ctx, *image)

	ctx, span := tracer.StartSpan(ctx, "image.analyze",
		trace.WithAttributes(tracer.StringAttr("image.name", image.Name)),
	)
	defer span.End()

	description, err := s.analyzer.Analyze(ctx, *image, question)
	if err == nil && strings.TrimSpace(description) == "" {
		err = domain.ErrEmptyResult
	}
	s.metrics.ObserveAnalysis(err == nil)
	if err != nil {
		tracer.RecordError(span, err)
		s.logger.Warn("image analysis failed", "image", image.Name, "error", err)
		s.mutator.AppendAssistant(analysisFailure(err.Error()), domain.KindError)
		return "", surfaced(fmt.Errorf("%w: %w", domain.ErrAnalysisFailed, err))
	}
	tracer.SetOK(span)
	s.mutator.AppendAssistant(description, domain.KindText)
	return description, nil
}

// Ask sends text to the text model and appends its reply. onChunk receives
// incremental output while the reply is produced.
func (s *ChatSession) Ask(ctx context.Context, text string, onChunk func(string)) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.NewDomainError("ChatSession.Ask", domain.ErrMissingPrompt, "")
	}
	if s.text == nil {
		return "", errors.New("ask: text chat not configured")
	}
	if err := s.begin(); err != nil {
		return "", err
	}
	defer s.end()

	s.conv.Append(domain.RoleUser, text, domain.KindText)

	reply, err := s.text.Reply(ctx, s.textHistory(), onChunk)
	if err != nil {
		s.mutator.AppendAssistant(textChatFailure, domain.KindError)
		return "", surfaced(err)
	}
	s.mutator.AppendAssistant(reply, domain.KindText)
	return reply, nil
}

// textHistory converts the textual part of the conversation into model
// messages. Image results, notices and guidance are left out.
func (s *ChatSession) textHistory() []domain.ChatMessage {
	msgs := s.conv.Messages()
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind != domain.KindText || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// RegisterUpload validates files, stores the valid ones in the blob store and
// slots them into the pool. Every rejected file is reported in the
// conversation and in the returned list. Uploads are refused with
// ErrRequestInFlight while a pipeline runs, since its commit resets the slots.
func (s *ChatSession) RegisterUpload(ctx context.Context, files []domain.ImageFile, designation domain.UploadDesignation) ([]UploadRejection, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	var (
		accepted []domain.ImageFile
		rejected []UploadRejection
	)
	for _, f := range files {
		if f.Size == 0 && len(f.Data) > 0 {
			f.Size = int64(len(f.Data))
		}
		if err := domain.ValidateImageFile(f); err != nil {
			rejected = append(rejected, UploadRejection{Name: f.Name, Err: err})
			continue
		}
		if s.blobs != nil {
			loc, err := s.blobs.Put(ctx, f)
			if err != nil {
				s.logger.Warn("blob store rejected upload, keeping bytes in memory", "name", f.Name, "error", err)
			} else {
				f.Locator = loc
			}
		}
		accepted = append(accepted, f)
	}

	rejected = append(rejected, s.pool.RegisterUpload(accepted, designation)...)
	for _, r := range rejected {
		s.mutator.AppendGuidance(invalidFileGuidance(r.Name, r.Err))
	}
	s.logger.Debug("upload registered",
		"designation", designation, "accepted", len(accepted), "rejected", len(rejected))
	return rejected, nil
}

// ClearTransient empties main, session references and the last generated
// image. It fails with ErrRequestInFlight while a pipeline runs.
func (s *ChatSession) ClearTransient() error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	s.pool.ClearTransient()
	return nil
}

// ClearPersistent empties the persistent reference set. It fails with
// ErrRequestInFlight while a pipeline runs.
func (s *ChatSession) ClearPersistent() error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	s.pool.ClearPersistent()
	return nil
}

// Reset clears the conversation, the pool and any pending edit.
func (s *ChatSession) Reset() error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	s.edits.Cancel()
	s.releaseMessages(s.conv.Reset())
	s.pool.ClearTransient()
	s.pool.ClearPersistent()
	return nil
}

func (s *ChatSession) releaseLocator(loc string) {
	if s.blobs == nil || !domain.IsBlobLocator(loc) {
		return
	}
	if err := s.blobs.Release(context.Background(), loc); err != nil && !errors.Is(err, domain.ErrBlobNotFound) {
		s.logger.Warn("blob release failed", "locator", loc, "error", err)
	}
}

func (s *ChatSession) refreshEditedTurn(ctx context.Context, id string, req domain.GenerationRequest, refs []domain.ImageFile) {
	stale, err := s.mutator.RefreshUserTurn(ctx, id, req, refs)
	if err != nil {
		s.logger.Warn("edited message missing, thumbnails not refreshed", "id", id, "error", err)
	}
	for _, img := range stale {
		if img.Kind == domain.ImageInput {
			s.releaseLocator(img.URL)
		}
	}
}

func (s *ChatSession) releaseMessages(msgs []domain.Message) {
	for _, m := range msgs {
		for _, img := range m.Images {
			if img.Kind == domain.ImageInput {
				s.releaseLocator(img.URL)
			}
		}
	}
}
