package faucet

import (
	"net/http"

	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/middleware"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/claim", h.claim)
	r.GET("/claims", h.listOwn)
	r.GET("/status", h.status)
}

func (h *Handler) RegisterAdmin(r gin.IRouter) {
	r.GET("/claims", h.list)
	r.POST("/claims/:id/paid", h.markPaid)
	r.POST("/claims/:id/failed", h.markFailed)
}

func claimID(c *gin.Context) (snowflake.ID, error) {
	id, err := pagination.ParseID(c.Param("id"))
	if err != nil {
		return 0, errutil.BadRequest("invalid claim id", err)
	}
	return snowflake.ID(id), nil
}

type claimRequest struct {
	Currency       string       `json:"currency" binding:"required"`
	WalletAddress  string       `json:"wallet_address" binding:"required"`
	AdCompletionID snowflake.ID `json:"ad_completion_id"`
}

func (h *Handler) claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	id := middleware.CurrentIdentity(c)
	claim, err := h.svc.Claim(c.Request.Context(), ClaimParams{
		UserID:            id.UserID,
		Currency:          req.Currency,
		WalletAddress:     req.WalletAddress,
		DeviceFingerprint: id.DeviceID,
		IPAddress:         id.IP,
		AdCompletionID:    req.AdCompletionID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, claim)
}

func (h *Handler) listOwn(c *gin.Context) {
	var f ListFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	f.UserID = middleware.CurrentIdentity(c).UserID

	page, err := h.svc.ListClaims(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currencies": st})
}

func (h *Handler) list(c *gin.Context) {
	var f ListFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	page, err := h.svc.ListClaims(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type paidRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

func (h *Handler) markPaid(c *gin.Context) {
	id, err := claimID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req paidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	claim, err := h.svc.MarkPaid(c.Request.Context(), id, req.TxHash)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

type failedRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) markFailed(c *gin.Context) {
	id, err := claimID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req failedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	claim, err := h.svc.MarkFailed(c.Request.Context(), id, req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, claim)
}
