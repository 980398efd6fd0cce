package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MaxImageFileSize is the largest upload accepted by the candidate pool.
const MaxImageFileSize = 20 * 1024 * 1024

// supportedImageTypes lists the content types accepted for upload.
var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// ImageFile is a file-like handle to image bytes held by the client.
// Locator is the ephemeral blob locator issued when the file was registered.
type ImageFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
	Locator     string `json:"locator,omitempty"`
}

// SameAs reports whether two files are considered duplicates (name and size).
func (f ImageFile) SameAs(other ImageFile) bool {
	return f.Name == other.Name && f.Size == other.Size
}

// DataURL encodes the file as a base64 data URL.
func (f ImageFile) DataURL() string {
	ct := f.ContentType
	if ct == "" {
		ct = "image/png"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// ValidateImageFile checks content type and size. Any image/* type passes the
// kind check, but only the supported formats are accepted.
func ValidateImageFile(f ImageFile) error {
	ct := strings.ToLower(f.ContentType)
	if !strings.HasPrefix(ct, "image/") || !supportedImageTypes[ct] {
		return NewDomainError("ValidateImageFile", ErrInvalidFileKind,
			fmt.Sprintf("%s (%s)", f.Name, f.ContentType))
	}
	if f.Size > MaxImageFileSize {
		return NewDomainError("ValidateImageFile", ErrFileTooLarge,
			fmt.Sprintf("%s (%d bytes)", f.Name, f.Size))
	}
	return nil
}

// GeneratedImage points at the most recent successful generation result.
type GeneratedImage struct {
	Locator string `json:"locator"`
	Caption string `json:"caption"`
}

// GenerationMode selects between text-to-image and image-to-image flows.
type GenerationMode string

const (
	ModeCreate GenerationMode = "create"
	ModeEdit   GenerationMode = "edit"
)

// ParseGenerationMode converts user input into a GenerationMode.
func ParseGenerationMode(s string) (GenerationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return ModeCreate, nil
	case "edit":
		return ModeEdit, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want create or edit)", s)
	}
}

// UploadDesignation says how a batch of uploaded files should be slotted.
type UploadDesignation string

const (
	DesignationPrimary   UploadDesignation = "primary"
	DesignationReference UploadDesignation = "reference"
)

// GenerationRequest is the assembled, validated request for one generation.
type GenerationRequest struct {
	Mode           GenerationMode `json:"mode"`
	Prompt         string         `json:"prompt"`
	EnrichedPrompt string         `json:"enriched_prompt"`
	Model          string         `json:"model"`
	Image          *ImageFile     `json:"image,omitempty"`
}

// FailureClass categorizes an exhausted generation failure for user messaging.
type FailureClass string

const (
	ClassNone              FailureClass = ""
	ClassAuthentication    FailureClass = "authentication_failure"
	ClassServerUnavailable FailureClass = "server_unavailable"
	ClassTimeout           FailureClass = "request_timeout"
	ClassRateLimited       FailureClass = "rate_limited"
	ClassUnrecognized      FailureClass = "unrecognized"
)

// GenerationOutcome is the terminal result of one retry sequence.
type GenerationOutcome struct {
	Succeeded     bool         `json:"succeeded"`
	ResultLocator string       `json:"result_locator,omitempty"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	Class         FailureClass `json:"class,omitempty"`
	AttemptsUsed  int          `json:"attempts_used"`
}

// BlobLocatorPrefix marks locators issued by the local blob store.
const BlobLocatorPrefix = "blob:"

// IsBlobLocator reports whether loc was issued by the local blob store.
func IsBlobLocator(loc string) bool {
	return strings.HasPrefix(loc, BlobLocatorPrefix)
}
