package mining

import (
	"net/http"

	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/start", h.start)
	r.POST("/stop", h.stop)
	r.POST("/claim", h.claim)
	r.GET("/status", h.status)
}

func (h *Handler) RegisterAdmin(r gin.IRouter) {
	r.PUT("/:user_id/speed", h.setSpeed)
}

func (h *Handler) start(c *gin.Context) {
	sess, err := h.svc.Start(c.Request.Context(), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) stop(c *gin.Context) {
	sess, err := h.svc.Stop(c.Request.Context(), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) claim(c *gin.Context) {
	res, err := h.svc.Claim(c.Request.Context(), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type speedRequest struct {
	Speed decimal.Decimal `json:"speed"`
}

func (h *Handler) setSpeed(c *gin.Context) {
	var req speedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sess, err := h.svc.SetSpeed(c.Request.Context(), c.Param("user_id"), req.Speed)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
