package usecase

import (
	"fmt"

	"pixelchat/internal/domain"
)

// User-facing conversation text. Wording is part of the chat UX and tests
// assert on it, so keep edits deliberate.

const (
	guidanceEditNeedsImage = "⚠️ **Image needed to edit!** \n\n" +
		"Edit Mode requires an image to modify. Please:\n" +
		"• Upload an image with /upload, or\n" +
		"• Add a reference image with /ref, or\n" +
		"• Generate an image first in Create Mode\n\n" +
		"💡 Tip: Switch to Create Mode with /mode create to make new images from text."

	guidanceCreateNeedsPrompt = "⚠️ **Text description needed for creation!** \n\n" +
		"Create Mode generates new images from your description. Try something like:\n" +
		"• \"A sunset over a mountain lake\"\n" +
		"• \"A cozy coffee shop on a rainy day\"\n" +
		"• \"A red bicycle leaning against a brick wall\""

	guidanceMissingAPIKey = "⚠️ **OpenRouter API Key not configured!** \n\n" +
		"Please set image.api_key in your configuration file or export " +
		"PIXELCHAT_IMAGE_API_KEY, then restart pixelchat."

	guidanceNoImageToAnalyze = "⚠️ **No image to analyze!** \n\n" +
		"Please upload an image first with /upload, then run /analyze again."

	resendSuggestion = "🔄 You can also try sending the same request again - we'll automatically retry up to 3 times."

	textChatFailure = "Sorry, there was an error processing your request. Please try again."
)

// DefaultAnalysisQuestion is sent when the user does not ask anything specific.
const DefaultAnalysisQuestion = "Analyze this image in detail:\n\n" +
	"Please describe:\n" +
	"- What you see in the image\n" +
	"- The main subject(s) and their appearance\n" +
	"- The setting, background, and environment\n" +
	"- Lighting, colors, and mood\n" +
	"- Any text, objects, or notable details\n" +
	"- The overall style and quality of the image\n\n" +
	"Be specific and descriptive, as this analysis will be used for image editing."

func retryNotice(attempt, maxAttempts int) string {
	return fmt.Sprintf("🔄 Retry attempt %d/%d...", attempt, maxAttempts)
}

func successAfterRetriesNotice(mode domain.GenerationMode, retries int) string {
	noun := "retries"
	if retries == 1 {
		noun = "retry"
	}
	if mode == domain.ModeEdit {
		return fmt.Sprintf("✅ Successfully generated your image after %d %s!", retries, noun)
	}
	return fmt.Sprintf("✅ Successfully created your image after %d %s!", retries, noun)
}

func failureNotice(mode domain.GenerationMode, attempts int, msg string) string {
	if mode == domain.ModeEdit {
		return fmt.Sprintf("❌ Image processing failed after %d attempts: %s", attempts, msg)
	}
	return fmt.Sprintf("❌ Image creation failed after %d attempts: %s", attempts, msg)
}

// failureHint returns the class-specific tip shown after an exhausted failure.
func failureHint(mode domain.GenerationMode, class domain.FailureClass) string {
	switch class {
	case domain.ClassServerUnavailable:
		return "💡 Tip: This is a temporary server issue. You can try again in a few minutes."
	case domain.ClassRateLimited:
		return "💡 Tip: Too many requests. Please wait a moment before trying again."
	case domain.ClassAuthentication:
		return "💡 Tip: Your API key was rejected. Check the key in your configuration and try again."
	case domain.ClassTimeout:
		return "💡 Tip: The request timed out. You can try again in a few minutes."
	}
	if mode == domain.ModeEdit {
		return "💡 Tip: You can try again with a different prompt or image."
	}
	return "💡 Tip: You can try again with a different description."
}

func invalidFileGuidance(name string, err error) string {
	return fmt.Sprintf("⚠️ %s is not a supported image file: %v", name, err)
}

func analyzeUserMessage(name string) string {
	return "Analyze this image: " + name
}

func analysisFailure(msg string) string {
	return "❌ Image analysis failed: " + msg
}
