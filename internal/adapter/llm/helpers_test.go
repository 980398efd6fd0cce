package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"pixelchat/internal/domain"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusRequestTimeout, domain.ErrTimeout},
		{http.StatusGatewayTimeout, domain.ErrTimeout},
		{http.StatusInternalServerError, domain.ErrServerUnavailable},
		{http.StatusBadGateway, domain.ErrServerUnavailable},
		{http.StatusServiceUnavailable, domain.ErrServerUnavailable},
	}
	for _, tt := range tests {
		err := mapHTTPError(tt.status, []byte(`oops`))
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: got %v, want %v", tt.status, err, tt.want)
		}
		if !strings.Contains(err.Error(), fmt.Sprintf("API error %d:", tt.status)) {
			t.Errorf("status %d: missing status prefix in %q", tt.status, err)
		}
	}
}

func TestMapHTTPErrorUnknownStatus(t *testing.T) {
	err := mapHTTPError(http.StatusBadRequest, []byte(`bad prompt`))
	for _, s := range []error{domain.ErrRateLimit, domain.ErrAuthInvalid, domain.ErrTimeout, domain.ErrServerUnavailable} {
		if errors.Is(err, s) {
			t.Errorf("400 should not wrap %v", s)
		}
	}
	if err.Error() != "API error 400: bad prompt" {
		t.Errorf("error = %q", err)
	}
}

func TestMapHTTPErrorExtractsProviderMessage(t *testing.T) {
	err := mapHTTPError(http.StatusTooManyRequests, []byte(`{"error":{"message":"free tier exhausted","code":429}}`))
	if !strings.HasSuffix(err.Error(), "API error 429: free tier exhausted") {
		t.Errorf("error = %q", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransportError(t *testing.T) {
	if err := transportError(timeoutErr{}); !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("net timeout not mapped: %v", err)
	}
	if err := transportError(fmt.Errorf("wrap: %w", context.DeadlineExceeded)); !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("deadline not mapped: %v", err)
	}
	plain := errors.New("connection refused")
	if err := transportError(plain); !errors.Is(err, plain) || errors.Is(err, domain.ErrTimeout) {
		t.Errorf("plain error mapped wrong: %v", err)
	}
}
