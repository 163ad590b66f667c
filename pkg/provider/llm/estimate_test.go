package llm_test

import (
	"testing"

	"github.com/clarimeet/clarimeet/pkg/provider/llm"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		msgs []llm.Message
		want int
	}{
		{name: "empty", want: 0},
		{name: "empty content", msgs: []llm.Message{{Role: llm.RoleUser}}, want: 4},
		{name: "rounds up", msgs: []llm.Message{{Role: llm.RoleUser, Content: "hello"}}, want: 2 + 4},
		{name: "sums messages", msgs: []llm.Message{
			{Role: llm.RoleSystem, Content: "12345678"},
			{Role: llm.RoleUser, Content: "1234"},
		}, want: (2 + 4) + (1 + 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := llm.EstimateTokens(tt.msgs); got != tt.want {
				t.Errorf("EstimateTokens = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		model      string
		wantWindow int
		wantOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4o", 128_000, 16_384},
		{"gpt-4.1-mini", 1_047_576, 32_768},
		{"gpt-4", 8_192, 4_096},
		{"gpt-3.5-turbo", 16_385, 4_096},
		{"o1-mini", 128_000, 65_536},
		{"o3-mini", 200_000, 100_000},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"claude-3-5-sonnet-latest", 200_000, 8_192},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"llama3.1:8b", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := llm.CapabilitiesFor(tt.model)
			if caps.ContextWindow != tt.wantWindow || caps.MaxOutputTokens != tt.wantOutput {
				t.Errorf("CapabilitiesFor(%q) = %+v, want window %d output %d",
					tt.model, caps, tt.wantWindow, tt.wantOutput)
			}
		})
	}
}
