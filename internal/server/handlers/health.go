package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lattice-run/cloudcode-gateway/internal/pool"
)

// HealthHandler serves GET /health: a liveness check plus a
// per-identity summary of rate-limit/cooldown state, the operational
// surface an operator needs without exposing refresh secrets.
type HealthHandler struct {
	pool *pool.Pool
}

func NewHealthHandler(p *pool.Pool) *HealthHandler {
	return &HealthHandler{pool: p}
}

func (h *HealthHandler) Health(c *gin.Context) {
	now := time.Now().UnixMilli()
	snapshot := h.pool.Snapshot()

	accounts := make([]gin.H, 0, len(snapshot))
	available, rateLimited, cooling := 0, 0, 0

	for _, id := range snapshot {
		status := "ok"
		if id.CoolingDownUntil > now {
			status = "cooling-down"
			cooling++
		} else if anyRateLimited(id, now) {
			status = "rate-limited"
			rateLimited++
		} else {
			available++
		}

		var lastUsed string
		if id.LastUsed > 0 {
			lastUsed = time.UnixMilli(id.LastUsed).Format(time.RFC3339)
		}

		accounts = append(accounts, gin.H{
			"email":    id.Email,
			"status":   status,
			"lastUsed": lastUsed,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"counts": gin.H{
			"total":       len(snapshot),
			"available":   available,
			"rateLimited": rateLimited,
			"coolingDown": cooling,
		},
		"accounts": accounts,
	})
}

func anyRateLimited(id pool.Identity, now int64) bool {
	for _, reset := range id.RateLimitResetTimes {
		if reset > now {
			return true
		}
	}
	return false
}
