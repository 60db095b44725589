package utils

import (
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{
			name: "empty string yields zero",
			text: "",
			want: 0,
		},
		{
			name: "single char rounds up",
			text: "a",
			want: 1,
		},
		{
			name: "four chars is one token",
			text: "abcd",
			want: 1,
		},
		{
			name: "five chars rounds up to two",
			text: "abcde",
			want: 2,
		},
		{
			name: "512 tokens worth of text",
			text: string(make([]byte, 2048)),
			want: 512,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestNewTokenCounter(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		wantError bool
	}{
		{
			name:      "GPT-4o model",
			model:     "gpt-4o",
			wantError: false,
		},
		{
			name:      "unknown model falls back to cl100k_base",
			model:     "llama-3.3-70b-versatile",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := NewTokenCounter(tt.model)
			if (err != nil) != tt.wantError {
				t.Errorf("NewTokenCounter() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if counter == nil {
				t.Fatal("NewTokenCounter() returned nil counter")
			}
			if counter.GetModel() != tt.model {
				t.Errorf("GetModel() = %q, want %q", counter.GetModel(), tt.model)
			}
			if n := counter.Count("hello world"); n <= 0 {
				t.Errorf("Count() = %d, want > 0", n)
			}
		})
	}
}
