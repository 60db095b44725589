package utils

import "strings"

var injectionPatterns = []string{
	"SYSTEM:", "System:", "system:",
	"ASSISTANT:", "Assistant:", "assistant:",
	"USER:", "User:", "user:",
	"Ignore previous instructions", "ignore previous instructions",
	"Ignore all previous", "ignore all previous",
	"Disregard previous", "disregard previous",
	"---", "===", "***",
	"```",
}

// SanitizePromptInput strips prompt-injection patterns from text that
// will be interpolated into an LLM prompt: role markers, instruction
// override phrases, and delimiter runs that could break out of the
// prompt structure. Applied to user queries and to retrieved content
// alike; retrieved documents are untrusted too.
func SanitizePromptInput(input string) string {
	sanitized := input
	for _, pattern := range injectionPatterns {
		sanitized = strings.ReplaceAll(sanitized, pattern, "")
	}
	return strings.TrimSpace(sanitized)
}
