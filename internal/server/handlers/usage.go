package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lattice-run/cloudcode-gateway/internal/usage"
)

// UsageHandler serves GET /usage-history: the hourly request counts
// internal/usage has accumulated, for operator dashboards.
type UsageHandler struct {
	tracker *usage.Tracker
}

func NewUsageHandler(t *usage.Tracker) *UsageHandler {
	return &UsageHandler{tracker: t}
}

func (h *UsageHandler) History(c *gin.Context) {
	history, err := h.tracker.History(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
