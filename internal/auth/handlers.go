package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Manager *Manager
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Refresh serves POST /api/auth/refresh. The old refresh token stays valid
// until it expires.
func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
		return
	}
	pair, err := h.Manager.Refresh(time.Now(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}
