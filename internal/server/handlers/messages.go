// Package handlers implements the gateway's HTTP front-end handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lattice-run/cloudcode-gateway/internal/dispatch"
	"github.com/lattice-run/cloudcode-gateway/internal/gwerrors"
	"github.com/lattice-run/cloudcode-gateway/internal/logging"
	"github.com/lattice-run/cloudcode-gateway/internal/prepare"
	"github.com/lattice-run/cloudcode-gateway/internal/server/sse"
	"github.com/lattice-run/cloudcode-gateway/internal/usage"
	"github.com/lattice-run/cloudcode-gateway/pkg/anthropic"
)

// MessagesHandler drives the dispatch loop from an Anthropic Messages
// API compatible request.
type MessagesHandler struct {
	loop    *dispatch.Loop
	tracker *usage.Tracker
}

func NewMessagesHandler(loop *dispatch.Loop, tracker *usage.Tracker) *MessagesHandler {
	return &MessagesHandler{loop: loop, tracker: tracker}
}

func translateMessages(req anthropic.MessagesRequest) prepare.Request {
	turns := make([]prepare.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		turns = append(turns, prepare.Turn{
			Role:  m.Role,
			Parts: []prepare.Part{{Text: anthropic.TextOf(m.Content)}},
		})
	}
	return prepare.Request{
		Model:        req.Model,
		Turns:        turns,
		SystemPrompt: anthropic.TextOf(req.System),
		Streaming:    req.Stream,
	}
}

// Messages handles POST /v1/messages.
func (h *MessagesHandler) Messages(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		sendError(c, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}

	greq := translateMessages(req)
	ctx := c.Request.Context()
	h.tracker.Track(req.Model)

	if !req.Stream {
		text, err := h.loop.Execute(ctx, greq)
		if err != nil {
			logging.Error("[server] dispatch failed: %v", err)
			sendErrorFromDispatch(c, err)
			return
		}
		c.JSON(http.StatusOK, anthropic.MessagesResponse{
			ID:         "msg_" + uuid.New().String(),
			Type:       "message",
			Role:       "assistant",
			Model:      req.Model,
			Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
			StopReason: "end_turn",
		})
		return
	}

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}
	writer.SetHeaders()
	c.Writer.WriteHeader(http.StatusOK)

	messageID := "msg_" + uuid.New().String()
	_ = writer.WriteEvent("message_start", gin.H{
		"type": "message_start",
		"message": gin.H{
			"id": messageID, "type": "message", "role": "assistant", "model": req.Model,
		},
	})
	_ = writer.WriteEvent("content_block_start", gin.H{
		"type": "content_block_start", "index": 0,
		"content_block": gin.H{"type": "text", "text": ""},
	})

	events, errc := h.loop.ExecuteStream(ctx, greq)
	for ev := range events {
		if ev.Text == "" {
			continue
		}
		_ = writer.WriteEvent("content_block_delta", gin.H{
			"type": "content_block_delta", "index": 0,
			"delta": gin.H{"type": "text_delta", "text": ev.Text},
		})
	}
	if err := <-errc; err != nil {
		logging.Error("[server] stream failed: %v", err)
		_ = writer.WriteError("api_error", err.Error())
	}

	_ = writer.WriteEvent("content_block_stop", gin.H{"type": "content_block_stop", "index": 0})
	_ = writer.WriteEvent("message_stop", gin.H{"type": "message_stop"})
}

func sendError(c *gin.Context, status int, kind, message string) {
	c.JSON(status, gin.H{"type": "error", "error": gin.H{"type": kind, "message": message}})
}

func sendErrorFromDispatch(c *gin.Context, err error) {
	c.JSON(gwerrors.HTTPStatus(err), gwerrors.ToAPIError(err))
}
