package domain

import (
	"errors"
	"fmt"
)

// Validation sentinels. These are detected before any network call and are
// never retried.
var (
	ErrMissingPrompt    = fmt.Errorf("text description required for creation")
	ErrNoImageAvailable = fmt.Errorf("no image available to edit")
	ErrInvalidFileKind  = fmt.Errorf("file is not a supported image")
	ErrFileTooLarge     = fmt.Errorf("file exceeds maximum image size")
	ErrMissingAPIKey    = fmt.Errorf("image provider api key not configured")
)

// Generation failure sentinels. Adapters wrap these so the classifier can
// resolve them with errors.Is.
var (
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrServerUnavailable = fmt.Errorf("server temporarily unavailable")
	ErrTimeout           = fmt.Errorf("request timed out")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrUnrecognized      = fmt.Errorf("unrecognized generation failure")
	ErrEmptyResult       = fmt.Errorf("response contained no image")
	ErrAnalysisFailed    = fmt.Errorf("image analysis failed")
	ErrCircuitOpen       = fmt.Errorf("provider circuit open")
)

// Session and storage sentinels.
var (
	ErrRequestInFlight  = fmt.Errorf("a request is already in progress")
	ErrMessageNotFound  = fmt.Errorf("message not found")
	ErrNotEditable      = fmt.Errorf("only user messages can be edited")
	ErrNoEditPending    = fmt.Errorf("no edit in progress")
	ErrBlobNotFound     = fmt.Errorf("blob not found")
	ErrBlobTooLarge     = fmt.Errorf("blob exceeds store capacity")
	ErrFetchBlocked     = fmt.Errorf("image fetch blocked")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrGatewayAuth      = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodUnknown = fmt.Errorf("rpc method not found")
	ErrRPCInvalidParams = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Pool.RegisterUpload")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsValidationError reports whether err was raised before any network call.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingPrompt) ||
		errors.Is(err, ErrNoImageAvailable) ||
		errors.Is(err, ErrInvalidFileKind) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrMissingAPIKey)
}

// ErrorCode is a machine-parseable error category for logs and RPC frames.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeMissingPrompt     ErrorCode = "MISSING_PROMPT"
	CodeNoImageAvailable  ErrorCode = "NO_IMAGE_AVAILABLE"
	CodeInvalidFileKind   ErrorCode = "INVALID_FILE_KIND"
	CodeFileTooLarge      ErrorCode = "FILE_TOO_LARGE"
	CodeMissingAPIKey     ErrorCode = "MISSING_API_KEY"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeServerUnavailable ErrorCode = "SERVER_UNAVAILABLE"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeUnrecognized      ErrorCode = "UNRECOGNIZED"
	CodeEmptyResult       ErrorCode = "EMPTY_RESULT"
	CodeAnalysisFailed    ErrorCode = "ANALYSIS_FAILED"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeRequestInFlight   ErrorCode = "REQUEST_IN_FLIGHT"
	CodeMessageNotFound   ErrorCode = "MESSAGE_NOT_FOUND"
	CodeNotEditable       ErrorCode = "NOT_EDITABLE"
	CodeNoEditPending     ErrorCode = "NO_EDIT_PENDING"
	CodeBlobNotFound      ErrorCode = "BLOB_NOT_FOUND"
	CodeBlobTooLarge      ErrorCode = "BLOB_TOO_LARGE"
	CodeFetchBlocked      ErrorCode = "FETCH_BLOCKED"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeGatewayAuth       ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodUnknown  ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidParams  ErrorCode = "RPC_INVALID_PAYLOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Wrapped sentinels (ErrGatewayAuth wraps ErrAuthInvalid) are listed so the
// fast path resolves them to the more specific code.
var errorCodeMap = map[error]ErrorCode{
	ErrMissingPrompt:     CodeMissingPrompt,
	ErrNoImageAvailable:  CodeNoImageAvailable,
	ErrInvalidFileKind:   CodeInvalidFileKind,
	ErrFileTooLarge:      CodeFileTooLarge,
	ErrMissingAPIKey:     CodeMissingAPIKey,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrServerUnavailable: CodeServerUnavailable,
	ErrTimeout:           CodeTimeout,
	ErrRateLimit:         CodeRateLimit,
	ErrUnrecognized:      CodeUnrecognized,
	ErrEmptyResult:       CodeEmptyResult,
	ErrAnalysisFailed:    CodeAnalysisFailed,
	ErrCircuitOpen:       CodeCircuitOpen,
	ErrRequestInFlight:   CodeRequestInFlight,
	ErrMessageNotFound:   CodeMessageNotFound,
	ErrNotEditable:       CodeNotEditable,
	ErrNoEditPending:     CodeNoEditPending,
	ErrBlobNotFound:      CodeBlobNotFound,
	ErrBlobTooLarge:      CodeBlobTooLarge,
	ErrFetchBlocked:      CodeFetchBlocked,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrGatewayAuth:       CodeGatewayAuth,
	ErrRPCMethodUnknown:  CodeRPCMethodUnknown,
	ErrRPCInvalidParams:  CodeRPCInvalidParams,
}

// codePriority is the order in which the error chain is walked. More specific
// sentinels come first so that ErrGatewayAuth wins over ErrAuthInvalid.
var codePriority = []error{
	ErrGatewayAuth,
	ErrMissingPrompt,
	ErrNoImageAvailable,
	ErrInvalidFileKind,
	ErrFileTooLarge,
	ErrMissingAPIKey,
	ErrCircuitOpen,
	ErrAuthInvalid,
	ErrServerUnavailable,
	ErrTimeout,
	ErrRateLimit,
	ErrEmptyResult,
	ErrUnrecognized,
	ErrAnalysisFailed,
	ErrRequestInFlight,
	ErrMessageNotFound,
	ErrNotEditable,
	ErrNoEditPending,
	ErrBlobNotFound,
	ErrBlobTooLarge,
	ErrFetchBlocked,
	ErrConfigLoad,
	ErrDecryption,
	ErrRPCMethodUnknown,
	ErrRPCInvalidParams,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
