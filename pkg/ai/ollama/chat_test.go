package ollama

import (
	"testing"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

func TestPromptTexts_DoesNotAliasSystemPrompts(t *testing.T) {
	system := make([]string, 1, 4)
	system[0] = "system"
	options := ai.GenerateOptions{SystemPrompts: system}

	a := promptTexts(options, "first")
	b := promptTexts(options, "second")
	if a[1] != "first" || b[1] != "second" {
		t.Fatalf("prompt texts were aliased: %q %q", a, b)
	}
}

func TestContextSize_NoEncoder(t *testing.T) {
	c := &GraphOllamaClient{}
	if got := c.contextSize("anything"); got != 0 {
		t.Fatalf("expected 0 without encoder, got %d", got)
	}
}

func TestBuildMessages(t *testing.T) {
	options := ai.GenerateOptions{SystemPrompts: []string{"a", "b"}}
	msgs := buildMessages(options, api.Message{Role: "user", Content: "q"})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[2].Role != "user" || msgs[2].Content != "q" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}
