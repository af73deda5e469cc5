package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// knownModels is the gateway's fixed catalog: the upstream has no
// list-models endpoint of its own, so this mirrors the model names
// internal/prepare.NormalizeModel is written against.
var knownModels = []string{
	"claude-sonnet-4-5-20250929",
	"claude-opus-4-1-20250805",
	"gemini-3-pro",
	"gemini-3-flash",
}

// ModelsHandler serves GET /v1/models.
type ModelsHandler struct{}

func NewModelsHandler() *ModelsHandler { return &ModelsHandler{} }

func (h *ModelsHandler) ListModels(c *gin.Context) {
	data := make([]gin.H, 0, len(knownModels))
	created := time.Now().Unix()
	for _, id := range knownModels {
		data = append(data, gin.H{
			"id": id, "object": "model", "created": created, "owned_by": "cloudcode-gateway",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
