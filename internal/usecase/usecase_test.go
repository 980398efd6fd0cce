package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"pixelchat/internal/domain"
)

// --- Mocks ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func pngFile(name string, size int) domain.ImageFile {
	data := make([]byte, size)
	return domain.ImageFile{Name: name, ContentType: "image/png", Size: int64(size), Data: data}
}

// mockFetcher materializes locators from a fixed table.
type mockFetcher struct {
	mu    sync.Mutex
	files map[string]domain.ImageFile
	calls []string
	err   error
}

func (m *mockFetcher) Fetch(_ context.Context, locator string) (*domain.ImageFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, locator)
	if m.err != nil {
		return nil, m.err
	}
	f, ok := m.files[locator]
	if !ok {
		return nil, fmt.Errorf("fetch %s: not found", locator)
	}
	return &f, nil
}

// memBlobs is an in-memory BlobStore that tracks releases.
type memBlobs struct {
	mu       sync.Mutex
	next     int
	files    map[string]domain.ImageFile
	released []string
	putErr   error
}

func newMemBlobs() *memBlobs { return &memBlobs{files: map[string]domain.ImageFile{}} }

func (m *memBlobs) Put(_ context.Context, f domain.ImageFile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.next++
	loc := fmt.Sprintf("%s%d", domain.BlobLocatorPrefix, m.next)
	f.Locator = loc
	m.files[loc] = f
	return loc, nil
}

func (m *memBlobs) Get(_ context.Context, loc string) (*domain.ImageFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[loc]
	if !ok {
		return nil, domain.ErrBlobNotFound
	}
	return &f, nil
}

func (m *memBlobs) Release(_ context.Context, loc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[loc]; !ok {
		return domain.ErrBlobNotFound
	}
	delete(m.files, loc)
	m.released = append(m.released, loc)
	return nil
}

func (m *memBlobs) live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func (m *memBlobs) releasedLocators() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.released...)
}

// mockAnalyzer is a func-field ImageAnalyzer.
type mockAnalyzer struct {
	mu      sync.Mutex
	calls   int
	analyze func(domain.ImageFile, string) (string, error)
}

func (m *mockAnalyzer) Analyze(_ context.Context, img domain.ImageFile, q string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.analyze == nil {
		return "", errors.New("not scripted")
	}
	return m.analyze(img, q)
}

// mockText is a non-streaming TextCompleter.
type mockText struct {
	mu   sync.Mutex
	reqs []domain.TextRequest
	resp string
	err  error
}

func (m *mockText) Complete(_ context.Context, req domain.TextRequest) (*domain.TextResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.TextResponse{Content: m.resp}, nil
}

func (m *mockText) Name() string { return "mock-text" }

// mockStreamText is a StreamingTextCompleter emitting fixed deltas.
type mockStreamText struct {
	mockText
	deltas []string
}

func (m *mockStreamText) CompleteStream(_ context.Context, req domain.TextRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	ch := make(chan domain.StreamDelta, len(m.deltas)+1)
	for _, d := range m.deltas {
		ch <- domain.StreamDelta{Content: d}
	}
	ch <- domain.StreamDelta{Done: true}
	close(ch)
	return ch, nil
}
