// Package uxerror turns errors that were not already shown in the
// conversation into short, actionable text for the TUI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"pixelchat/internal/adapter/tui/theme"
	"pixelchat/internal/domain"
)

// FriendlyError is a user-facing error with recovery hints.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render formats the error for the message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	{
		match:   is(domain.ErrMissingAPIKey),
		produce: constantError("API Key Missing", "No OpenRouter API key is configured.", []string{"Set OPENROUTER_API_KEY", "Or set provider.api_key in config.yaml"}),
	},
	{
		match:   is(domain.ErrRequestInFlight),
		produce: constantError("Busy", "A request is still running.", []string{"Wait for it to finish", "Press Ctrl+C to cancel it"}),
	},
	{
		match:   is(domain.ErrCircuitOpen),
		produce: constantError("Image Service Paused", "Several requests failed in a row, so new ones are held back briefly.", []string{"Wait a few seconds and try again"}),
	},
	{
		match:   is(domain.ErrFileTooLarge),
		produce: constantError("File Too Large", "Images must be 20 MB or smaller.", []string{"Resize or recompress the image"}),
	},
	{
		match:   is(domain.ErrInvalidFileKind),
		produce: constantError("Unsupported File", "Only JPEG, PNG, WebP and GIF images are accepted.", nil),
	},
	{
		match:   is(domain.ErrNoEditPending),
		produce: constantError("Nothing To Edit", "No message is being edited.", []string{"Use /edit to pick a message first"}),
	},
	{
		match: func(err error) bool {
			return errors.Is(err, domain.ErrMessageNotFound) || errors.Is(err, domain.ErrNotEditable)
		},
		produce: constantError("Cannot Edit", "Only your own messages in this conversation can be edited.", []string{"Check the message number shown next to it"}),
	},
	{
		match:   is(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed", "The API key was rejected.", []string{"Check the key in your OpenRouter dashboard", "Make sure the key has not expired"}),
	},
	{
		match:   is(domain.ErrRateLimit),
		produce: constantError("Rate Limited", "Too many requests were sent to the provider.", []string{"Wait a moment before retrying"}),
	},
	{
		match:   is(domain.ErrTimeout),
		produce: constantError("Request Timed Out", "The provider took too long to answer.", []string{"Try again", "Try a shorter prompt"}),
	},
	{
		match:   is(domain.ErrServerUnavailable),
		produce: constantError("Service Unavailable", "The provider is temporarily unavailable.", []string{"Try again in a few minutes"}),
	},
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the provider.", []string{"Check your internet connection", "Verify provider.base_url in config"}),
	},
	{
		match:   containsAny("no such file", "permission denied", "is a directory"),
		produce: constantError("Cannot Read File", "", []string{"Check the path and file permissions"}),
	},
}

// Humanize converts a raw error into a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			fe := p.produce(err)
			if fe.Message == "" {
				fe.Message = err.Error()
			}
			return fe
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --log-level debug for details"},
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny matches when the error text contains any of substrs
// (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
