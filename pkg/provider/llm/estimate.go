package llm

import "strings"

// messageOverhead approximates the role and framing tokens each message costs.
const messageOverhead = 4

// EstimateTokens approximates the token count of messages at roughly four
// characters per token plus a fixed per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + messageOverhead
	}
	return total
}

// CapabilitiesFor returns the limits of well-known model families. Unknown
// models get a conservative 128k window with 4k output tokens.
func CapabilitiesFor(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4.1"):
		return ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768}
	case strings.HasPrefix(lower, "gpt-4o"):
		return ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		return ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
	case strings.HasPrefix(lower, "gpt-4"):
		return ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		return ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}
	case strings.HasPrefix(lower, "o1-mini"):
		return ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}
	case strings.Contains(lower, "claude-3-opus"):
		return ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096}
	case strings.HasPrefix(lower, "claude"):
		return ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}
	case strings.Contains(lower, "gemini-1.5-pro"):
		return ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192}
	case strings.HasPrefix(lower, "gemini"):
		return ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}
	default:
		return ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
	}
}
