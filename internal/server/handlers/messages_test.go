package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/dispatch"
	"github.com/lattice-run/cloudcode-gateway/internal/storage"
	"github.com/lattice-run/cloudcode-gateway/internal/usage"
)

func withTestUpstream(t *testing.T, upstreamURL, tokenURL string) {
	t.Helper()
	origFallbacks := config.EndpointFallbacks
	origTokenURL := config.OAuth.TokenURL
	config.EndpointFallbacks = []string{upstreamURL}
	config.OAuth.TokenURL = tokenURL
	t.Cleanup(func() {
		config.EndpointFallbacks = origFallbacks
		config.OAuth.TokenURL = origTokenURL
	})
}

func newTestLoopWithIdentity(t *testing.T) *dispatch.Loop {
	t.Helper()
	store := storage.NewAt(t.TempDir() + "/accounts.json")
	p := newTestPoolFor(t)
	p.EnsureExists("rt-1|proj-1", "proj-1", "", "a@example.com")
	return dispatch.New(p, store, config.Default(), nil)
}

func tokenTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "access-tok", "expires_in": 3600})
	}))
}

func TestMessagesHandlerRejectsMissingModel(t *testing.T) {
	h := NewMessagesHandler(newTestLoopWithIdentity(t), usage.New(nil))
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`{"messages":[]}`))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Messages(c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMessagesHandlerRejectsInvalidJSON(t *testing.T) {
	h := NewMessagesHandler(newTestLoopWithIdentity(t), usage.New(nil))
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`not json`))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Messages(c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMessagesHandlerNonStreamingSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{
					"content": map[string]interface{}{
						"parts": []interface{}{map[string]interface{}{"text": "hi there"}},
					},
				},
			},
		})
	}))
	defer upstream.Close()
	tokSrv := tokenTestServer(t)
	defer tokSrv.Close()
	withTestUpstream(t, upstream.URL, tokSrv.URL)

	tracker := usage.New(nil)
	h := NewMessagesHandler(newTestLoopWithIdentity(t), tracker)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	body := `{"model":"claude-opus-4","messages":[{"role":"user","content":"hi"}]}`
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Messages(c)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	content := resp["content"].([]interface{})[0].(map[string]interface{})
	if content["text"] != "hi there" {
		t.Fatalf("unexpected content: %v", resp["content"])
	}

	history, _ := tracker.History(c.Request.Context())
	if len(history) != 1 || history[0].Total != 1 {
		t.Fatalf("expected usage to be tracked, got %v", history)
	}
}

func TestMessagesHandlerStreamingEmitsSSEFrames(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"chunk\"}]}}]}\n\n"))
	}))
	defer upstream.Close()
	tokSrv := tokenTestServer(t)
	defer tokSrv.Close()
	withTestUpstream(t, upstream.URL, tokSrv.URL)

	h := NewMessagesHandler(newTestLoopWithIdentity(t), usage.New(nil))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	body := `{"model":"claude-opus-4","messages":[{"role":"user","content":"hi"}],"stream":true}`
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Messages(c)

	out := rec.Body.String()
	if !strings.Contains(out, "event: message_start") {
		t.Fatalf("expected a message_start event, got %q", out)
	}
	if !strings.Contains(out, "event: content_block_delta") {
		t.Fatalf("expected a content_block_delta event, got %q", out)
	}
	if !strings.Contains(out, "event: message_stop") {
		t.Fatalf("expected a message_stop event, got %q", out)
	}
}
