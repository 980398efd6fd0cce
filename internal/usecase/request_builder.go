package usecase

import (
	"context"
	"strings"

	"pixelchat/internal/domain"
)

// DefaultImageModel is the downstream image model used when none is configured.
const DefaultImageModel = "google/gemini-2.5-flash-image-preview:free"

// defaultEditInstruction replaces an empty edit prompt.
const defaultEditInstruction = "Please edit this image"

const createTemplate = `Generate a high-quality image: %PROMPT%

Requirements:
- Professional photography quality
- Sharp details and realistic textures
- Beautiful lighting and composition
- High resolution and clarity
- Artistic but realistic style`

const editTemplate = `Edit this image: %PROMPT%

IMPORTANT:
- Keep the same person/face exactly as shown in the original image
- Maintain the same pose, facial features, and identity
- Only change what is specifically requested in the prompt
- Preserve the overall composition and style
- Keep the same lighting and atmosphere

Please apply the requested changes while maintaining the original person's appearance.`

// GenerationRequestBuilder validates user intent and assembles one outbound
// request. It performs no network I/O itself; edit-target resolution goes
// through the pool's fetcher.
type GenerationRequestBuilder struct {
	model string
}

// NewGenerationRequestBuilder creates a builder bound to one image model.
func NewGenerationRequestBuilder(model string) *GenerationRequestBuilder {
	if model == "" {
		model = DefaultImageModel
	}
	return &GenerationRequestBuilder{model: model}
}

// Model returns the fixed downstream model identifier.
func (b *GenerationRequestBuilder) Model() string { return b.model }

// Build assembles a request from an already-resolved image.
func (b *GenerationRequestBuilder) Build(mode domain.GenerationMode, prompt string, image *domain.ImageFile) (domain.GenerationRequest, error) {
	prompt = strings.TrimSpace(prompt)

	switch mode {
	case domain.ModeCreate:
		if prompt == "" {
			return domain.GenerationRequest{}, domain.NewDomainError("RequestBuilder.Build", domain.ErrMissingPrompt, "create mode")
		}
		return domain.GenerationRequest{
			Mode:           domain.ModeCreate,
			Prompt:         prompt,
			EnrichedPrompt: EnrichCreatePrompt(prompt),
			Model:          b.model,
			Image:          image,
		}, nil

	case domain.ModeEdit:
		if image == nil {
			return domain.GenerationRequest{}, domain.NewDomainError("RequestBuilder.Build", domain.ErrNoImageAvailable, "edit mode")
		}
		if prompt == "" {
			prompt = defaultEditInstruction
		}
		return domain.GenerationRequest{
			Mode:           domain.ModeEdit,
			Prompt:         prompt,
			EnrichedPrompt: EnrichEditPrompt(prompt),
			Model:          b.model,
			Image:          image,
		}, nil

	default:
		return domain.GenerationRequest{}, domain.NewDomainError("RequestBuilder.Build", domain.ErrUnrecognized, "unknown mode "+string(mode))
	}
}

// BuildFromPool resolves the input image from the pool according to mode and
// then builds the request. Create mode may forward the main candidate as
// stylistic guidance; edit mode uses the edit-target precedence.
func (b *GenerationRequestBuilder) BuildFromPool(ctx context.Context, mode domain.GenerationMode, prompt string, pool *ImageCandidatePool, fetcher domain.ImageFetcher) (domain.GenerationRequest, error) {
	var image *domain.ImageFile
	switch mode {
	case domain.ModeEdit:
		image = pool.ResolveEditTargetImage(ctx, fetcher)
	case domain.ModeCreate:
		// An empty prompt fails regardless of images; skip resolution.
		if strings.TrimSpace(prompt) != "" {
			image = pool.ResolveMainCandidate()
		}
	}
	return b.Build(mode, prompt, image)
}

// EnrichCreatePrompt wraps a literal prompt in the photographic-quality template.
func EnrichCreatePrompt(prompt string) string {
	return strings.Replace(createTemplate, "%PROMPT%", prompt, 1)
}

// EnrichEditPrompt wraps a literal prompt in the identity-preservation template.
func EnrichEditPrompt(prompt string) string {
	return strings.Replace(editTemplate, "%PROMPT%", prompt, 1)
}
