package handlers

import (
	"net/http"

	"faceverify/internal/utils"

	"github.com/gin-gonic/gin"
)

// GetSystemStats liefert CPU-, Speicher- und Worker-Pool-Statistiken
func (h *APIHandler) GetSystemStats(c *gin.Context) {
	var pool utils.PoolStats
	if h.pool != nil {
		pool = h.pool
	}
	c.JSON(http.StatusOK, utils.GetSystemStats(pool, h.registry.Len()))
}
