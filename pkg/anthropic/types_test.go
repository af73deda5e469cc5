package anthropic

import "testing"

func TestTextOfPlainString(t *testing.T) {
	if got := TextOf("hello"); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestTextOfContentBlockArray(t *testing.T) {
	content := []any{
		map[string]interface{}{"type": "text", "text": "hello "},
		map[string]interface{}{"type": "text", "text": "world"},
	}
	if got := TextOf(content); got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestTextOfSkipsNonTextBlocks(t *testing.T) {
	content := []any{
		map[string]interface{}{"type": "image"},
		map[string]interface{}{"type": "text", "text": "ok"},
	}
	if got := TextOf(content); got != "ok" {
		t.Fatalf("got %q", got)
	}
}

func TestTextOfUnknownTypeReturnsEmpty(t *testing.T) {
	if got := TextOf(42); got != "" {
		t.Fatalf("got %q", got)
	}
}
