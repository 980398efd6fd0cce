package domain

import "context"

// TextCompleter is the interface for any text-model backend.
type TextCompleter interface {
	// Complete sends a request and returns a complete response.
	Complete(ctx context.Context, req TextRequest) (*TextResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "github").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming text response.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// StreamingTextCompleter extends TextCompleter with incremental delivery.
type StreamingTextCompleter interface {
	TextCompleter
	// CompleteStream sends a request and returns a channel of incremental deltas.
	CompleteStream(ctx context.Context, req TextRequest) (<-chan StreamDelta, error)
}

// ImageGenerator submits one generation request and returns the result
// locator. Implementations perform a single attempt; retries live above them.
type ImageGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Name() string
}

// ImageAnalyzer describes an image in response to a free-text question.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, image ImageFile, question string) (string, error)
}

// ImageFetcher materializes a locator (remote URL, data URL, blob locator)
// into a local file-like handle.
type ImageFetcher interface {
	Fetch(ctx context.Context, locator string) (*ImageFile, error)
}

// BlobStore issues ephemeral local locators for uploaded image bytes.
type BlobStore interface {
	Put(ctx context.Context, file ImageFile) (string, error)
	Get(ctx context.Context, locator string) (*ImageFile, error)
	Release(ctx context.Context, locator string) error
}
