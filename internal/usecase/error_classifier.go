package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"pixelchat/internal/domain"
)

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Class      domain.FailureClass
	Sentinel   error // mapped domain sentinel (e.g. domain.ErrRateLimit), or nil
	StatusCode int   // extracted HTTP status, or 0 if unknown
}

// ErrorClassifier maps image-provider errors onto the five failure classes.
// Classification only drives user messaging; it never changes the attempt count.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// apiErrorPattern matches "API error <status_code>:" produced by the adapters.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// Classify inspects an error and returns its failure class.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	// Wrapped domain sentinels first (from mapHTTPError).
	if sentinel := c.classifyBySentinel(err); sentinel.Class != domain.ClassUnrecognized {
		return sentinel
	}

	errStr := err.Error()

	if matches := apiErrorPattern.FindStringSubmatch(errStr); len(matches) == 2 {
		code, _ := strconv.Atoi(matches[1])
		return c.classifyByStatus(err, code)
	}

	return c.classifyByString(err, errStr)
}

func (c *ErrorClassifier) classifyBySentinel(err error) ClassifiedError {
	switch {
	case errors.Is(err, domain.ErrAuthInvalid):
		return ClassifiedError{Original: err, Class: domain.ClassAuthentication, Sentinel: domain.ErrAuthInvalid}
	case errors.Is(err, domain.ErrRateLimit):
		return ClassifiedError{Original: err, Class: domain.ClassRateLimited, Sentinel: domain.ErrRateLimit}
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassifiedError{Original: err, Class: domain.ClassTimeout, Sentinel: domain.ErrTimeout}
	case errors.Is(err, domain.ErrServerUnavailable), errors.Is(err, domain.ErrCircuitOpen):
		return ClassifiedError{Original: err, Class: domain.ClassServerUnavailable, Sentinel: domain.ErrServerUnavailable}
	default:
		return ClassifiedError{Original: err, Class: domain.ClassUnrecognized}
	}
}

func (c *ErrorClassifier) classifyByStatus(err error, code int) ClassifiedError {
	switch {
	case code == 401 || code == 403:
		return ClassifiedError{Original: err, Class: domain.ClassAuthentication, Sentinel: domain.ErrAuthInvalid, StatusCode: code}
	case code == 429:
		return ClassifiedError{Original: err, Class: domain.ClassRateLimited, Sentinel: domain.ErrRateLimit, StatusCode: code}
	case code == 408 || code == 504:
		return ClassifiedError{Original: err, Class: domain.ClassTimeout, Sentinel: domain.ErrTimeout, StatusCode: code}
	case code >= 500 && code < 600:
		return ClassifiedError{Original: err, Class: domain.ClassServerUnavailable, Sentinel: domain.ErrServerUnavailable, StatusCode: code}
	default:
		return ClassifiedError{Original: err, Class: domain.ClassUnrecognized, StatusCode: code}
	}
}

func (c *ErrorClassifier) classifyByString(err error, errStr string) ClassifiedError {
	lower := strings.ToLower(errStr)

	for _, p := range []string{"login required", "not logged in", "invalid api key", "unauthorized"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Class: domain.ClassAuthentication, Sentinel: domain.ErrAuthInvalid}
		}
	}

	for _, p := range []string{"rate limit", "too many requests"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Class: domain.ClassRateLimited, Sentinel: domain.ErrRateLimit}
		}
	}

	for _, p := range []string{"timeout", "timed out", "deadline exceeded"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Class: domain.ClassTimeout, Sentinel: domain.ErrTimeout}
		}
	}

	for _, p := range []string{"502", "503", "bad gateway", "server", "connection refused", "connection reset", "no such host"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Class: domain.ClassServerUnavailable, Sentinel: domain.ErrServerUnavailable}
		}
	}

	return ClassifiedError{Original: err, Class: domain.ClassUnrecognized, Sentinel: domain.ErrUnrecognized}
}

// Describe renders the human-readable failure text for a classified error.
func (c ClassifiedError) Describe() string {
	switch c.Class {
	case domain.ClassAuthentication:
		return "Login required or API key rejected"
	case domain.ClassServerUnavailable:
		return "Server temporarily unavailable"
	case domain.ClassTimeout:
		return "Request timed out"
	case domain.ClassRateLimited:
		return "Rate limit exceeded"
	}
	if c.Original == nil {
		return "Unknown error"
	}
	return c.Original.Error()
}
