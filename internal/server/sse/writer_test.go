package sse

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewWriterRejectsNonFlusher(t *testing.T) {
	if _, err := NewWriter(nil); err == nil {
		t.Fatal("expected an error for a nil ResponseWriter")
	}
}

func TestWriteEventFormatsSSEFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.WriteEvent("message_start", map[string]string{"id": "msg_1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: message_start\ndata: ") {
		t.Fatalf("unexpected frame: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("expected frame to end with a blank line, got %q", body)
	}
	if !strings.Contains(body, `"id":"msg_1"`) {
		t.Fatalf("expected encoded payload, got %q", body)
	}
}

func TestSetHeadersSetsSSEContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)
	w.SetHeaders()
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("got %q", rec.Header().Get("Content-Type"))
	}
}

func TestWriteErrorWrapsTypeAndMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)
	if err := w.WriteError("api_error", "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"api_error"`) || !strings.Contains(body, `"message":"boom"`) {
		t.Fatalf("got %q", body)
	}
}
