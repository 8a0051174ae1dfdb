package handler

import (
	"net"
	"net/http"

	"github.com/Baaaki/heartscan/internal/middleware"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler manages the IP ban list shared with the rate limiter.
type AdminHandler struct {
	limiter *middleware.RateLimiter
}

func NewAdminHandler(limiter *middleware.RateLimiter) *AdminHandler {
	return &AdminHandler{
		limiter: limiter,
	}
}

type BanIPRequest struct {
	IP     string `json:"ip" binding:"required,ip"`
	Reason string `json:"reason" binding:"required"`
}

// BanIP blocks every request from an address.
// POST /admin/ip-bans
func (h *AdminHandler) BanIP(c *gin.Context) {
	var req BanIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Log.Warn("Ban IP request parsing failed",
			zap.Error(err),
		)
		badRequest(c, "Invalid request body")
		return
	}

	admin, _ := middleware.CurrentUser(c)
	if req.IP == c.ClientIP() {
		badRequest(c, "refusing to ban your own address")
		return
	}

	if err := h.limiter.BanIP(c.Request.Context(), req.IP); err != nil {
		respondError(c, err)
		return
	}

	logger.Log.Info("Admin banned IP",
		zap.String("admin_id", admin.ID.String()),
		zap.String("ip", req.IP),
		zap.String("reason", req.Reason),
	)
	c.JSON(http.StatusOK, gin.H{"message": "IP banned successfully"})
}

// UnbanIP lifts a ban.
// DELETE /admin/ip-bans/:ip
func (h *AdminHandler) UnbanIP(c *gin.Context) {
	ip := c.Param("ip")
	if net.ParseIP(ip) == nil {
		badRequest(c, "invalid IP address")
		return
	}

	if err := h.limiter.UnbanIP(c.Request.Context(), ip); err != nil {
		respondError(c, err)
		return
	}

	admin, _ := middleware.CurrentUser(c)
	logger.Log.Info("Admin unbanned IP",
		zap.String("admin_id", admin.ID.String()),
		zap.String("ip", ip),
	)
	c.JSON(http.StatusOK, gin.H{"message": "IP unbanned successfully"})
}
