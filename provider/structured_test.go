package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\": [1, 2]}\n```", `{"a": [1, 2]}`},
		{"prose around", `Here you go: {"title": "brace } in string"} thanks`, `{"title": "brace } in string"}`},
		{"array", `[{"x": "y"}]`, `[{"x": "y"}]`},
		{"escaped quote", `{"q": "say \"hi\" {"}`, `{"q": "say \"hi\" {"}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tc.in)
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ExtractJSON() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractJSONFailsWithoutPayload(t *testing.T) {
	t.Parallel()
	if _, err := ExtractJSON("no json here {"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	var out struct {
		Sections []string `json:"sections"`
	}
	if err := DecodeJSON("```\n{\"sections\": [\"Intro\"]}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(out.Sections) != 1 || out.Sections[0] != "Intro" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
	if IsRetryable(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Fatal("cancellation is not retryable")
	}
	if IsRetryable(&Error{Provider: "openai", StatusCode: 401, Err: errors.New("bad key")}) {
		t.Fatal("auth failures are not retryable")
	}
	if !IsRetryable(&Error{Provider: "openai", StatusCode: 429, Retryable: true, Err: errors.New("slow down")}) {
		t.Fatal("rate limits are retryable")
	}
}
