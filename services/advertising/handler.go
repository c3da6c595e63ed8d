package advertising

import (
	"io"
	"net/http"
	"strings"

	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/impressions", h.impression)
	r.POST("/impressions/:token/click", h.click)
	r.POST("/impressions/:token/complete", h.complete)
}

func (h *Handler) RegisterWebhook(r gin.IRouter) {
	r.POST("/ad-network", h.callback)
}

type impressionRequest struct {
	Network   string `json:"network" binding:"required"`
	Placement string `json:"placement"`
}

func (h *Handler) impression(c *gin.Context) {
	var req impressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid impression request", err))
		return
	}

	id := middleware.CurrentIdentity(c)
	imp, err := h.svc.RecordImpression(c.Request.Context(), ImpressionParams{
		UserID:            id.UserID,
		Network:           req.Network,
		Placement:         req.Placement,
		IPAddress:         id.IP,
		DeviceFingerprint: id.DeviceID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, imp)
}

func (h *Handler) click(c *gin.Context) {
	click, err := h.svc.RecordClick(c.Request.Context(), c.Param("token"), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, click)
}

func (h *Handler) complete(c *gin.Context) {
	done, err := h.svc.RecordCompletion(c.Request.Context(), c.Param("token"), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, done)
}

// callback takes the compact JWS as the raw request body.
func (h *Handler) callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		_ = c.Error(errutil.BadRequest("unreadable callback body", err))
		return
	}

	done, err := h.svc.VerifyCompletion(c.Request.Context(), strings.TrimSpace(string(body)))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, done)
}
