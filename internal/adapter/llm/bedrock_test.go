//go:build bedrock

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"pixelchat/internal/domain"
)

type mockBedrockClient struct {
	invokeFunc func(ctx context.Context, params *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error)
}

func (m *mockBedrockClient) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if m.invokeFunc != nil {
		return m.invokeFunc(ctx, params)
	}
	return nil, fmt.Errorf("not implemented")
}

func TestBedrockGenerateTextToImage(t *testing.T) {
	var got bedrockImageRequest
	var modelID string
	mock := &mockBedrockClient{
		invokeFunc: func(_ context.Context, params *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			modelID = *params.ModelId
			if err := json.Unmarshal(params.Body, &got); err != nil {
				t.Fatalf("unmarshal request: %v", err)
			}
			return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"images":["iVBORw0K"]}`)}, nil
		},
	}

	gen := newBedrockImageGeneratorWithClient("", "", mock, newTestLogger())
	loc, err := gen.Generate(context.Background(), domain.GenerationRequest{Mode: domain.ModeCreate, Prompt: "a red fox"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if loc != "data:image/png;base64,iVBORw0K" {
		t.Errorf("locator = %q", loc)
	}
	if gen.Name() != "bedrock" {
		t.Errorf("Name = %q", gen.Name())
	}
	if modelID != defaultBedrockImageModel {
		t.Errorf("model = %q", modelID)
	}
	if got.TaskType != "TEXT_IMAGE" || got.TextToImageParams == nil || got.TextToImageParams.Text != "a red fox" {
		t.Errorf("request = %+v", got)
	}
	if got.ImageGenerationConfig.Width != 1024 || got.ImageGenerationConfig.NumberOfImages != 1 {
		t.Errorf("generation config = %+v", got.ImageGenerationConfig)
	}
}

func TestBedrockGenerateVariation(t *testing.T) {
	req := toBedrockImageRequest(domain.GenerationRequest{
		Mode:           domain.ModeEdit,
		Prompt:         "short",
		EnrichedPrompt: strings.Repeat("x", 2000),
		Image:          &domain.ImageFile{Data: []byte{1, 2, 3}},
	})
	if req.TaskType != "IMAGE_VARIATION" {
		t.Fatalf("TaskType = %q", req.TaskType)
	}
	if len(req.ImageVariationParams.Text) != bedrockMaxPromptChars {
		t.Errorf("prompt length = %d", len(req.ImageVariationParams.Text))
	}
	if req.ImageVariationParams.Images[0] != "AQID" {
		t.Errorf("image = %q", req.ImageVariationParams.Images[0])
	}
}

func TestBedrockGenerateEmptyAndErrorBodies(t *testing.T) {
	tests := []struct {
		body    string
		wantErr error
	}{
		{`{"images":[]}`, domain.ErrEmptyResult},
		{`{"images":[""]}`, domain.ErrEmptyResult},
	}
	for _, tt := range tests {
		mock := &mockBedrockClient{
			invokeFunc: func(context.Context, *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
				return &bedrockruntime.InvokeModelOutput{Body: []byte(tt.body)}, nil
			},
		}
		_, err := newBedrockImageGeneratorWithClient("b", "m", mock, newTestLogger()).
			Generate(context.Background(), domain.GenerationRequest{Prompt: "x"})
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("body %s: err = %v", tt.body, err)
		}
	}

	mock := &mockBedrockClient{
		invokeFunc: func(context.Context, *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"error":"blocked by content filter"}`)}, nil
		},
	}
	_, err := newBedrockImageGeneratorWithClient("b", "m", mock, newTestLogger()).
		Generate(context.Background(), domain.GenerationRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "content filter") {
		t.Errorf("err = %v", err)
	}
}

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestBedrockErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"throttling", &mockAPIError{code: "ThrottlingException", message: "rate limited"}, domain.ErrRateLimit},
		{"quota", &mockAPIError{code: "ServiceQuotaExceededException", message: "quota"}, domain.ErrRateLimit},
		{"access denied", &mockAPIError{code: "AccessDeniedException", message: "no access"}, domain.ErrAuthInvalid},
		{"expired", &mockAPIError{code: "ExpiredTokenException", message: "expired"}, domain.ErrAuthInvalid},
		{"model timeout", &mockAPIError{code: "ModelTimeoutException", message: "slow"}, domain.ErrTimeout},
		{"not ready", &mockAPIError{code: "ModelNotReadyException", message: "warming"}, domain.ErrServerUnavailable},
		{"internal", &mockAPIError{code: "InternalServerException", message: "boom"}, domain.ErrServerUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapBedrockError(tt.err)
			if !errors.Is(got, tt.wantErr) {
				t.Errorf("mapBedrockError() = %v, want %v", got, tt.wantErr)
			}
		})
	}

	if mapBedrockError(nil) != nil {
		t.Error("nil should map to nil")
	}
	plain := errors.New("network down")
	if got := mapBedrockError(plain); !errors.Is(got, plain) {
		t.Errorf("plain error lost: %v", got)
	}
}
