package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelchat/internal/domain"
)

type sessionFixture struct {
	session  *ChatSession
	gen      *mockGenerator
	analyzer *mockAnalyzer
	fetcher  *mockFetcher
	blobs    *memBlobs
	sleeper  *recordingSleeper
	metrics  *countingMetrics
}

func newSessionFixture(t *testing.T, results ...mockResult) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		gen:      &mockGenerator{results: results},
		analyzer: &mockAnalyzer{},
		fetcher:  &mockFetcher{files: map[string]domain.ImageFile{}},
		blobs:    newMemBlobs(),
		sleeper:  &recordingSleeper{},
		metrics:  &countingMetrics{},
	}
	f.session = NewChatSession(ChatSessionConfig{APIKeyConfigured: true}, ChatSessionDeps{
		Generator:    f.gen,
		Analyzer:     f.analyzer,
		Fetcher:      f.fetcher,
		Blobs:        f.blobs,
		Metrics:      f.metrics,
		RetryOptions: []RetryOption{WithSleeper(f.sleeper.Sleep)},
		Logger:       newTestLogger(),
	})
	return f
}

func TestSendCreateEndToEnd(t *testing.T) {
	f := newSessionFixture(t, mockResult{locator: "https://svc/img1.png"})

	out, err := f.session.Send(context.Background(), "a red bicycle")
	require.NoError(t, err)
	assert.True(t, out.Succeeded)

	msgs := f.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "a red bicycle", msgs[0].Content)
	assert.Empty(t, msgs[0].Images)

	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "", msgs[1].Content)
	require.Len(t, msgs[1].Images, 1)
	assert.Equal(t, domain.ImageOutput, msgs[1].Images[0].Kind)
	assert.Equal(t, "https://svc/img1.png", msgs[1].Images[0].URL)

	assert.False(t, f.session.Processing())
}

func TestSendCreateEmptyPromptMakesNoCalls(t *testing.T) {
	f := newSessionFixture(t, mockResult{locator: "https://svc/x.png"})

	_, err := f.session.Send(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrMissingPrompt)
	assert.True(t, IsSurfaced(err))
	assert.Equal(t, 0, f.gen.callCount())

	msgs := f.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.KindGuidance, msgs[0].Kind)
	assert.Contains(t, msgs[0].Content, "Text description needed for creation")
}

func TestSendEditWithoutImageMakesNoCalls(t *testing.T) {
	f := newSessionFixture(t, mockResult{locator: "https://svc/x.png"})
	require.NoError(t, f.session.SwitchMode(domain.ModeEdit))

	_, err := f.session.Send(context.Background(), "make it blue")
	assert.ErrorIs(t, err, domain.ErrNoImageAvailable)
	assert.Equal(t, 0, f.gen.callCount())
	assert.Empty(t, f.fetcher.calls)

	msgs := f.session.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "Image needed to edit")
}

func TestSendMissingAPIKey(t *testing.T) {
	gen := &mockGenerator{}
	s := NewChatSession(ChatSessionConfig{}, ChatSessionDeps{Generator: gen, Logger: newTestLogger()})

	_, err := s.Send(context.Background(), "a cat")
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)
	assert.Equal(t, 0, gen.callCount())
	assert.Contains(t, s.Messages()[0].Content, "OpenRouter API Key not configured")
}

func TestEditUsesLastGeneratedNotOriginalUpload(t *testing.T) {
	f := newSessionFixture(t,
		mockResult{locator: "https://svc/gen1.png"},
		mockResult{locator: "https://svc/gen2.png"},
	)
	f.fetcher.files["https://svc/gen1.png"] = domain.ImageFile{ContentType: "image/png", Data: []byte("gen1"), Size: 4}

	f.session.RegisterUpload(context.Background(), []domain.ImageFile{pngFile("orig.png", 8)}, domain.DesignationPrimary)
	_, err := f.session.Send(context.Background(), "a portrait")
	require.NoError(t, err)

	require.NoError(t, f.session.SwitchMode(domain.ModeEdit))
	out, err := f.session.Send(context.Background(), "add a hat")
	require.NoError(t, err)
	require.True(t, out.Succeeded)

	require.Len(t, f.gen.calls, 2)
	edit := f.gen.calls[1]
	require.NotNil(t, edit.Image)
	assert.Equal(t, []byte("gen1"), edit.Image.Data)
	assert.Equal(t, domain.ModeEdit, edit.Mode)
	assert.True(t, strings.HasPrefix(edit.EnrichedPrompt, "Edit this image: add a hat"))
	assert.Equal(t, "https://svc/gen2.png", f.session.PoolSnapshot().LastGenerated.Locator)
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	f := newSessionFixture(t,
		mockResult{err: errors.New("API error 503: busy")},
		mockResult{err: errors.New("API error 503: busy")},
		mockResult{locator: "https://svc/ok.png"},
	)

	out, err := f.session.Send(context.Background(), "a castle")
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	assert.Equal(t, 3, out.AttemptsUsed)

	var contents []string
	for _, m := range f.session.Messages() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{
		"a castle",
		"🔄 Retry attempt 2/3...",
		"🔄 Retry attempt 3/3...",
		"✅ Successfully created your image after 2 retries!",
		"",
	}, contents)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeper.delays)
}

func TestSendExhaustedFailure(t *testing.T) {
	f := newSessionFixture(t, mockResult{err: errors.New("API error 503: down")})
	f.session.RegisterUpload(context.Background(), []domain.ImageFile{pngFile("a.png", 1), pngFile("b.png", 2)}, domain.DesignationPrimary)

	out, err := f.session.Send(context.Background(), "a castle")
	require.NoError(t, err)
	assert.False(t, out.Succeeded)
	assert.Equal(t, 3, out.AttemptsUsed)
	assert.Equal(t, 3, f.gen.callCount())

	msgs := f.session.Messages()
	n := len(msgs)
	require.GreaterOrEqual(t, n, 4)
	assert.True(t, strings.HasPrefix(msgs[n-3].Content, "❌ Image creation failed after 3 attempts:"))
	assert.Equal(t, "💡 Tip: This is a temporary server issue. You can try again in a few minutes.", msgs[n-2].Content)
	assert.Equal(t, resendSuggestion, msgs[n-1].Content)

	snap := f.session.PoolSnapshot()
	assert.Nil(t, snap.Main)
	assert.Empty(t, snap.References)
	assert.Nil(t, snap.LastGenerated)
	assert.Len(t, snap.Persistent, 2)
}

func TestSendWhileProcessingIsRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gen := &blockingGenerator{started: started, release: release}
	s := NewChatSession(ChatSessionConfig{APIKeyConfigured: true}, ChatSessionDeps{Generator: gen, Logger: newTestLogger()})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Send(context.Background(), "first")
	}()
	<-started

	before := len(s.Messages())
	_, err := s.Send(context.Background(), "second")
	assert.ErrorIs(t, err, domain.ErrRequestInFlight)
	assert.Len(t, s.Messages(), before)
	assert.True(t, s.Processing())

	close(release)
	wg.Wait()
	assert.False(t, s.Processing())
}

func TestPoolMutationsWhileProcessingAreRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gen := &blockingGenerator{started: started, release: release}
	s := NewChatSession(ChatSessionConfig{APIKeyConfigured: true}, ChatSessionDeps{Generator: gen, Logger: newTestLogger()})
	s.pool.RecordGenerationSuccess("https://svc/prev.png")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Send(context.Background(), "a cat")
	}()
	<-started

	assert.ErrorIs(t, s.ClearTransient(), domain.ErrRequestInFlight)
	assert.ErrorIs(t, s.ClearPersistent(), domain.ErrRequestInFlight)
	assert.ErrorIs(t, s.Reset(), domain.ErrRequestInFlight)
	rejected, err := s.RegisterUpload(context.Background(), []domain.ImageFile{pngFile("late.png", 2)}, domain.DesignationPrimary)
	assert.ErrorIs(t, err, domain.ErrRequestInFlight)
	assert.Empty(t, rejected)

	snap := s.PoolSnapshot()
	require.NotNil(t, snap.LastGenerated)
	assert.Equal(t, "https://svc/prev.png", snap.LastGenerated.Locator)
	assert.Nil(t, snap.Main)
	assert.True(t, s.Processing())

	close(release)
	wg.Wait()

	snap = s.PoolSnapshot()
	require.NotNil(t, snap.LastGenerated)
	assert.Equal(t, "https://svc/slow.png", snap.LastGenerated.Locator)

	require.NoError(t, s.ClearTransient())
	assert.Nil(t, s.PoolSnapshot().LastGenerated)
}

type blockingGenerator struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingGenerator) Generate(ctx context.Context, _ domain.GenerationRequest) (string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return "https://svc/slow.png", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *blockingGenerator) Name() string { return "blocking" }

func TestEditMessageTruncatesAndRegenerates(t *testing.T) {
	f := newSessionFixture(t,
		mockResult{locator: "https://svc/1.png"},
		mockResult{locator: "https://svc/2.png"},
		mockResult{locator: "https://svc/3.png"},
	)
	ctx := context.Background()
	_, _ = f.session.Send(ctx, "m1")
	_, _ = f.session.Send(ctx, "m3")
	require.Len(t, f.session.Messages(), 4)

	target := f.session.Messages()[2]
	out, err := f.session.EditMessage(ctx, target.ID, "m3 edited")
	require.NoError(t, err)
	require.True(t, out.Succeeded)

	msgs := f.session.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, target.ID, msgs[2].ID)
	assert.Equal(t, "m3 edited", msgs[2].Content)
	img, ok := msgs[3].OutputImage()
	require.True(t, ok)
	assert.Equal(t, "https://svc/3.png", img.URL)
	assert.Equal(t, "m3 edited", f.gen.calls[2].Prompt)
}

func TestEditMessageRefreshesThumbnails(t *testing.T) {
	f := newSessionFixture(t,
		mockResult{locator: "https://svc/1.png"},
		mockResult{locator: "https://svc/2.png"},
	)
	f.fetcher.files["https://svc/1.png"] = domain.ImageFile{ContentType: "image/png", Data: []byte("gen1"), Size: 4}
	ctx := context.Background()

	_, err := f.session.RegisterUpload(ctx, []domain.ImageFile{pngFile("orig.png", 8)}, domain.DesignationPrimary)
	require.NoError(t, err)
	require.NoError(t, f.session.SwitchMode(domain.ModeEdit))
	_, err = f.session.Send(ctx, "add a hat")
	require.NoError(t, err)

	target := f.session.Messages()[0]
	require.Len(t, target.Images, 1)
	assert.Equal(t, "orig.png", target.Images[0].Caption)
	oldThumb := target.Images[0].URL

	out, err := f.session.EditMessage(ctx, target.ID, "add a scarf")
	require.NoError(t, err)
	require.True(t, out.Succeeded)

	require.Len(t, f.gen.calls, 2)
	assert.Equal(t, []byte("gen1"), f.gen.calls[1].Image.Data)

	edited := f.session.Messages()[0]
	assert.Equal(t, target.ID, edited.ID)
	require.Len(t, edited.Images, 1)
	assert.Equal(t, "generated-image.png", edited.Images[0].Caption)
	assert.NotEqual(t, oldThumb, edited.Images[0].URL)
	assert.Contains(t, f.blobs.releasedLocators(), oldThumb)
}

func TestSendConfirmsPendingEdit(t *testing.T) {
	f := newSessionFixture(t, mockResult{locator: "https://svc/1.png"}, mockResult{locator: "https://svc/2.png"})
	ctx := context.Background()
	_, _ = f.session.Send(ctx, "a cat")
	first := f.session.Messages()[0]

	_, err := f.session.StartEdit(first.ID)
	require.NoError(t, err)
	_, err = f.session.Send(ctx, "a dog")
	require.NoError(t, err)

	msgs := f.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a dog", msgs[0].Content)
	assert.False(t, f.session.EditState().Editing)
}

func TestCancelEditDoesNotMutate(t *testing.T) {
	f := newSessionFixture(t, mockResult{locator: "https://svc/1.png"})
	_, _ = f.session.Send(context.Background(), "a cat")
	first := f.session.Messages()[0]

	_, err := f.session.StartEdit(first.ID)
	require.NoError(t, err)
	assert.True(t, f.session.CancelEdit())
	assert.Len(t, f.session.Messages(), 2)
	assert.Equal(t, "a cat", f.session.Messages()[0].Content)
}

func TestAnalyzeImageSingleAttempt(t *testing.T) {
	f := newSessionFixture(t)
	f.analyzer.analyze = func(domain.ImageFile, string) (string, error) {
		return "", errors.New("API error 503: nope")
	}
	f.session.RegisterUpload(context.Background(), []domain.ImageFile{pngFile("cat.png", 4)}, domain.DesignationPrimary)

	_, err := f.session.AnalyzeImage(context.Background(), nil, "")
	assert.ErrorIs(t, err, domain.ErrAnalysisFailed)
	assert.Equal(t, 1, f.analyzer.calls)
	assert.Equal(t, []bool{false}, f.metrics.analyses)

	msgs := f.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Analyze this image: cat.png", msgs[0].Content)
	require.Len(t, msgs[0].Images, 1)
	assert.Equal(t, "❌ Image analysis failed: API error 503: nope", msgs[1].Content)
}

func TestAnalyzeImageUsesDefaultQuestion(t *testing.T) {
	f := newSessionFixture(t)
	var gotQuestion string
	f.analyzer.analyze = func(_ domain.ImageFile, q string) (string, error) {
		gotQuestion = q
		return "A cat on a sofa.", nil
	}
	file := pngFile("cat.png", 4)

	desc, err := f.session.AnalyzeImage(context.Background(), &file, "")
	require.NoError(t, err)
	assert.Equal(t, "A cat on a sofa.", desc)
	assert.Equal(t, DefaultAnalysisQuestion, gotQuestion)
	assert.Equal(t, "A cat on a sofa.", f.session.Messages()[1].Content)
}

func TestAnalyzeImageWithoutImage(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.session.AnalyzeImage(context.Background(), nil, "")
	assert.ErrorIs(t, err, domain.ErrNoImageAvailable)
	assert.Equal(t, 0, f.analyzer.calls)
	assert.Contains(t, f.session.Messages()[0].Content, "No image to analyze")
}

func TestRegisterUploadReportsInvalidFiles(t *testing.T) {
	f := newSessionFixture(t)
	rejected, err := f.session.RegisterUpload(context.Background(), []domain.ImageFile{
		{Name: "doc.pdf", ContentType: "application/pdf", Data: []byte("x")},
		pngFile("ok.png", 3),
	}, domain.DesignationPrimary)
	require.NoError(t, err)

	require.Len(t, rejected, 1)
	assert.Equal(t, "doc.pdf", rejected[0].Name)
	snap := f.session.PoolSnapshot()
	require.NotNil(t, snap.Main)
	assert.True(t, domain.IsBlobLocator(snap.Main.Locator))

	msgs := f.session.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "⚠️ doc.pdf is not a supported image file"))
}

func TestClearTransientReleasesBlobs(t *testing.T) {
	f := newSessionFixture(t)
	f.session.RegisterUpload(context.Background(), []domain.ImageFile{pngFile("a.png", 1)}, domain.DesignationPrimary)
	loc := f.session.PoolSnapshot().Main.Locator

	require.NoError(t, f.session.ClearTransient())
	assert.Empty(t, f.blobs.releasedLocators(), "persistent still holds the upload")

	require.NoError(t, f.session.ClearPersistent())
	assert.Equal(t, []string{loc}, f.blobs.releasedLocators())
}

func TestResetReleasesMessageThumbnails(t *testing.T) {
	f := newSessionFixture(t, mockResult{locator: "https://svc/1.png"})
	f.session.RegisterUpload(context.Background(), []domain.ImageFile{pngFile("a.png", 1)}, domain.DesignationPrimary)
	require.NoError(t, f.session.SwitchMode(domain.ModeEdit))
	_, err := f.session.Send(context.Background(), "brighter")
	require.NoError(t, err)
	require.NotEmpty(t, f.session.Messages()[0].Images)

	require.NoError(t, f.session.Reset())
	assert.Empty(t, f.session.Messages())
	assert.Equal(t, 0, f.blobs.live())
	assert.Equal(t, 0, f.session.PoolSnapshot().Total())
}

func TestAskAppendsReply(t *testing.T) {
	text := &mockText{resp: "Hello there"}
	replier := NewTextReplier(text, nil, TextReplierConfig{Model: "gpt"}, newTestLogger())
	s := NewChatSession(ChatSessionConfig{APIKeyConfigured: true}, ChatSessionDeps{Text: replier, Logger: newTestLogger()})

	var chunks []string
	reply, err := s.Ask(context.Background(), "hi", func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply)
	assert.Equal(t, []string{"Hello there"}, chunks)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello there", msgs[1].Content)
}

func TestAskFailureAppendsApology(t *testing.T) {
	text := &mockText{err: errors.New("boom")}
	replier := NewTextReplier(text, nil, TextReplierConfig{}, newTestLogger())
	s := NewChatSession(ChatSessionConfig{}, ChatSessionDeps{Text: replier, Logger: newTestLogger()})

	_, err := s.Ask(context.Background(), "hi", nil)
	assert.True(t, IsSurfaced(err))
	assert.Equal(t, textChatFailure, s.Messages()[1].Content)
	assert.Len(t, text.reqs, 1)
}

func TestObserverSeesEveryMessage(t *testing.T) {
	f := newSessionFixture(t, mockResult{err: errors.New("x")})
	var n int
	f.session.SetObserver(func(domain.Message) { n++ })

	_, _ = f.session.Send(context.Background(), "a cat")
	assert.Equal(t, len(f.session.Messages()), n)
}

func TestAnalyzeWithoutAnalyzerGuides(t *testing.T) {
	s := NewChatSession(ChatSessionConfig{APIKeyConfigured: true}, ChatSessionDeps{
		Generator: &mockGenerator{},
		Logger:    newTestLogger(),
	})
	file := domain.ImageFile{Name: "a.png", ContentType: "image/png", Size: 3, Data: []byte{1, 2, 3}}

	_, err := s.AnalyzeImage(context.Background(), &file, "")
	require.Error(t, err)
	assert.True(t, IsSurfaced(err))
	assert.ErrorIs(t, err, domain.ErrAnalysisFailed)

	msgs := s.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, domain.KindGuidance, msgs[len(msgs)-1].Kind)
	assert.False(t, s.Processing())
}
