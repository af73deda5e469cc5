package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lattice-run/cloudcode-gateway/internal/pool"
)

// AccountsHandler serves GET /account-limits: the rate-limit/cooldown
// state the pool already tracks per identity. It deliberately does not
// call an upstream quota-fraction endpoint, since that has no referent
// in this gateway's core contract.
type AccountsHandler struct {
	pool *pool.Pool
}

func NewAccountsHandler(p *pool.Pool) *AccountsHandler {
	return &AccountsHandler{pool: p}
}

func (h *AccountsHandler) AccountLimits(c *gin.Context) {
	now := time.Now().UnixMilli()
	snapshot := h.pool.Snapshot()

	results := make([]gin.H, 0, len(snapshot))
	for _, id := range snapshot {
		quotas := make(gin.H, len(id.RateLimitResetTimes))
		for key, reset := range id.RateLimitResetTimes {
			quotas[key] = gin.H{
				"rateLimited": reset > now,
				"resetTime":   reset,
			}
		}
		results = append(results, gin.H{
			"email":            id.Email,
			"coolingDown":      id.CoolingDownUntil > now,
			"cooldownReason":   id.CooldownReason,
			"quotas":           quotas,
		})
	}

	c.JSON(http.StatusOK, gin.H{"accounts": results})
}
