package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ImageKind distinguishes images sent to the model from images it produced.
type ImageKind string

const (
	ImageInput  ImageKind = "input"
	ImageOutput ImageKind = "output"
)

// ImageRef is a thumbnail or result attached to a message.
type ImageRef struct {
	URL     string    `json:"url"`
	Kind    ImageKind `json:"kind"`
	Caption string    `json:"caption,omitempty"`
}

// MessageKind is a presentation hint. Role stays the authoritative field.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindNotice   MessageKind = "notice"
	KindError    MessageKind = "error"
	KindGuidance MessageKind = "guidance"
)

// Message is a single entry in the visible conversation.
type Message struct {
	ID        string      `json:"id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"kind,omitempty"`
	Images    []ImageRef  `json:"images,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// OutputImage returns the first output image of the message, if any.
func (m Message) OutputImage() (ImageRef, bool) {
	for _, img := range m.Images {
		if img.Kind == ImageOutput {
			return img, true
		}
	}
	return ImageRef{}, false
}

// ChatMessage is a role-tagged message sent to a text model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextRequest is sent to a text-completion provider.
type TextRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// TextResponse is returned from a text-completion provider.
type TextResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
