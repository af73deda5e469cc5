package logging

import "testing"

func TestInfoRecordsHistoryEntry(t *testing.T) {
	l := New()
	l.Info("hello %s", "world")

	hist := l.History()
	if len(hist) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(hist))
	}
	if hist[0].Level != LevelInfo || hist[0].Message != "hello world" {
		t.Fatalf("unexpected entry: %+v", hist[0])
	}
}

func TestDebugSkippedUnlessEnabled(t *testing.T) {
	l := New()
	l.Debug("should not appear")
	if len(l.History()) != 0 {
		t.Fatal("expected Debug to be suppressed by default")
	}

	l.SetDebug(true)
	l.Debug("should appear")
	hist := l.History()
	if len(hist) != 1 || hist[0].Level != LevelDebug {
		t.Fatalf("expected one debug entry once enabled, got %+v", hist)
	}
}

func TestHistoryTrimsToMaxSize(t *testing.T) {
	l := New()
	l.maxHistory = 3
	for i := 0; i < 5; i++ {
		l.Info("entry %d", i)
	}
	hist := l.History()
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
	if hist[0].Message != "entry 2" || hist[2].Message != "entry 4" {
		t.Fatalf("expected oldest entries dropped, got %+v", hist)
	}
}

func TestForIdentityTagsEntryAndRespectsDebugGate(t *testing.T) {
	l := New()
	l.ForIdentity(LevelDebug, "a@example.com", "quiet")
	if len(l.History()) != 0 {
		t.Fatal("expected debug-level ForIdentity to be suppressed by default")
	}

	l.ForIdentity(LevelWarn, "a@example.com", "rate limited")
	hist := l.History()
	if len(hist) != 1 || hist[0].Identity != "a@example.com" || hist[0].Level != LevelWarn {
		t.Fatalf("unexpected entry: %+v", hist)
	}
}

func TestAddListenerReceivesEmittedEntries(t *testing.T) {
	l := New()
	var received []Entry
	l.AddListener(func(e Entry) { received = append(received, e) })

	l.Warn("careful")

	if len(received) != 1 || received[0].Message != "careful" {
		t.Fatalf("expected listener to observe the entry, got %+v", received)
	}
}

func TestSetDebugAndIsDebugRoundTrip(t *testing.T) {
	l := New()
	if l.IsDebug() {
		t.Fatal("expected debug disabled by default")
	}
	l.SetDebug(true)
	if !l.IsDebug() {
		t.Fatal("expected debug enabled after SetDebug(true)")
	}
}
