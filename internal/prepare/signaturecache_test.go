package prepare

import "testing"

func TestSignatureCacheInMemoryRoundTrip(t *testing.T) {
	c := NewSignatureCache(nil)
	c.CacheSignature("tool-1", "sig-abc")
	if got := c.Signature("tool-1"); got != "sig-abc" {
		t.Fatalf("got %q", got)
	}
	if got := c.Signature("missing"); got != "" {
		t.Fatalf("expected empty for missing key, got %q", got)
	}
}

func TestSignatureCacheEmptyKeysAreNoop(t *testing.T) {
	c := NewSignatureCache(nil)
	c.CacheSignature("", "sig")
	c.CacheSignature("tool-1", "")
	if got := c.Signature("tool-1"); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestSignatureCacheThinkingFamilyRespectsMinLength(t *testing.T) {
	c := NewSignatureCache(nil)
	c.CacheThinkingFamily("short", "gemini")
	if got := c.ThinkingFamily("short"); got != "" {
		t.Fatalf("expected signature shorter than the minimum length to be dropped, got %q", got)
	}

	c.CacheThinkingFamily("long-enough-signature", "gemini")
	if got := c.ThinkingFamily("long-enough-signature"); got != "gemini" {
		t.Fatalf("got %q", got)
	}
}
