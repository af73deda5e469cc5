package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lattice-run/cloudcode-gateway/internal/usage"
)

func TestUsageHandlerHistoryReflectsTrackedRequests(t *testing.T) {
	tracker := usage.New(nil)
	tracker.Track("claude-opus-4")
	tracker.Track("gemini-3-pro")

	h := NewUsageHandler(tracker)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/usage-history", nil)

	h.History(c)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	history, ok := body["history"].([]interface{})
	if !ok || len(history) != 1 {
		t.Fatalf("expected a single hour bucket, got %v", body["history"])
	}
}

func TestUsageHandlerHistoryEmptyTracker(t *testing.T) {
	tracker := usage.New(nil)
	h := NewUsageHandler(tracker)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/usage-history", nil)

	h.History(c)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	history, ok := body["history"].([]interface{})
	if !ok || len(history) != 0 {
		t.Fatalf("expected no buckets, got %v", body["history"])
	}
}
