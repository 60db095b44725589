package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseAnthropicHeaders(t *testing.T) {
	reset := time.Now().Add(45 * time.Second).UTC().Truncate(time.Second)

	headers := http.Header{}
	headers.Set("retry-after", "30")
	headers.Set("anthropic-ratelimit-requests-reset", reset.Format(time.RFC3339))
	headers.Set("anthropic-ratelimit-requests-remaining", "99")
	headers.Set("anthropic-ratelimit-input-tokens-remaining", "40000")
	headers.Set("anthropic-ratelimit-output-tokens-remaining", "8000")

	info := ParseAnthropicHeaders(headers)

	if info.RetryAfter != 30*time.Second {
		t.Errorf("expected RetryAfter=30s, got %v", info.RetryAfter)
	}
	if info.ResetTime != reset.Unix() {
		t.Errorf("expected ResetTime=%d, got %d", reset.Unix(), info.ResetTime)
	}
	if info.RequestsRemaining != 99 {
		t.Errorf("expected RequestsRemaining=99, got %d", info.RequestsRemaining)
	}
	if info.InputTokensRemaining != 40000 {
		t.Errorf("expected InputTokensRemaining=40000, got %d", info.InputTokensRemaining)
	}
	if info.OutputTokensRemaining != 8000 {
		t.Errorf("expected OutputTokensRemaining=8000, got %d", info.OutputTokensRemaining)
	}
}

func TestParseAnthropicHeaders_Empty(t *testing.T) {
	info := ParseAnthropicHeaders(http.Header{})
	if info != (RateLimitInfo{}) {
		t.Errorf("expected zero info for empty headers, got %+v", info)
	}
}

func TestParseOpenAIHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "12")
	headers.Set("x-ratelimit-reset-tokens", "1735689600")
	headers.Set("x-ratelimit-remaining-requests", "58")
	headers.Set("x-ratelimit-remaining-tokens", "149000")

	info := ParseOpenAIHeaders(headers)

	if info.RetryAfter != 12*time.Second {
		t.Errorf("expected RetryAfter=12s, got %v", info.RetryAfter)
	}
	if info.ResetTime != 1735689600 {
		t.Errorf("expected ResetTime=1735689600, got %d", info.ResetTime)
	}
	if info.RequestsRemaining != 58 {
		t.Errorf("expected RequestsRemaining=58, got %d", info.RequestsRemaining)
	}
	if info.TokensRemaining != 149000 {
		t.Errorf("expected TokensRemaining=149000, got %d", info.TokensRemaining)
	}
}

func TestParseOpenAIHeaders_InvalidRetryAfter(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "soon")

	info := ParseOpenAIHeaders(headers)
	if info.RetryAfter != 0 {
		t.Errorf("expected unparseable Retry-After to be ignored, got %v", info.RetryAfter)
	}
}

func TestParseGeminiHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "7")

	info := ParseGeminiHeaders(headers)
	if info.RetryAfter != 7*time.Second {
		t.Errorf("expected RetryAfter=7s, got %v", info.RetryAfter)
	}
}
