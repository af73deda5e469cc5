package redis

import (
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"
)

func TestIsNilMatchesRedisNilSentinel(t *testing.T) {
	if !IsNil(goredis.Nil) {
		t.Fatal("expected IsNil to recognize redis.Nil")
	}
	if IsNil(errors.New("boom")) {
		t.Fatal("expected IsNil to reject an unrelated error")
	}
}

func TestNewClientFailsFastOnUnreachableAddr(t *testing.T) {
	_, err := NewClient(Config{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected an error connecting to a port with no listener")
	}
}

func TestKeyPrefixesAreDistinct(t *testing.T) {
	prefixes := []string{PrefixSignatureTool, PrefixSignatureThinking, PrefixStats, PrefixIdentityCache}
	seen := make(map[string]bool)
	for _, p := range prefixes {
		if seen[p] {
			t.Fatalf("duplicate prefix %q", p)
		}
		seen[p] = true
	}
}
