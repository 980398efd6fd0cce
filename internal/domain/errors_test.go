package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Pool.RegisterUpload", ErrInvalidFileKind, "notes.txt")
	want := "Pool.RegisterUpload: notes.txt: file is not a supported image"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Builder.Build", ErrMissingPrompt, "")
	want := "Builder.Build: text description required for creation"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Builder.Build", ErrNoImageAvailable, "edit mode")
	if !errors.Is(err, ErrNoImageAvailable) {
		t.Error("errors.Is should match ErrNoImageAvailable")
	}
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("Session.Send", ErrRequestInFlight)
	assert.ErrorIs(t, err, ErrRequestInFlight)
	assert.Equal(t, "Session.Send: a request is already in progress", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(ErrMissingPrompt))
	assert.True(t, IsValidationError(fmt.Errorf("wrap: %w", ErrNoImageAvailable)))
	assert.True(t, IsValidationError(NewDomainError("x", ErrInvalidFileKind, "a.txt")))
	assert.False(t, IsValidationError(ErrRateLimit))
	assert.False(t, IsValidationError(nil))
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeMissingPrompt, ErrorCodeOf(ErrMissingPrompt))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeGatewayAuth, ErrorCodeOf(ErrGatewayAuth))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Edit.Start", ErrMessageNotFound, "01H")
	assert.Equal(t, CodeMessageNotFound, ErrorCodeOf(err))
	assert.Equal(t, CodeMessageNotFound, err.Code())
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("attempt 2: %w", ErrServerUnavailable)
	assert.Equal(t, CodeServerUnavailable, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_WrappedGatewayAuthPrefersSpecificCode(t *testing.T) {
	wrapped := fmt.Errorf("connect: %w", ErrGatewayAuth)
	assert.Equal(t, CodeGatewayAuth, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestErrorCodeMapCoversPriorityList(t *testing.T) {
	for _, sentinel := range codePriority {
		if _, ok := errorCodeMap[sentinel]; !ok {
			t.Errorf("sentinel %q missing from errorCodeMap", sentinel)
		}
	}
	assert.Len(t, codePriority, len(errorCodeMap))
}
