package cashout

import (
	"io"
	"net/http"

	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/middleware"

	"github.com/bwmarrin/snowflake"
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
	r.POST("", h.request)
	r.GET("", h.listOwn)
	r.POST("/:id/cancel", h.cancel)
}

func (h *Handler) RegisterAdmin(r gin.IRouter) {
	r.GET("", h.list)
	r.GET("/:id", h.get)
	r.POST("/:id/transition", h.transition)
}

func (h *Handler) RegisterWebhook(r gin.IRouter) {
	r.POST("/payments", h.callback)
}

func cashoutID(c *gin.Context) (snowflake.ID, error) {
	id, err := pagination.ParseID(c.Param("id"))
	if err != nil {
		return 0, errutil.BadRequest("invalid cashout id", err)
	}
	return snowflake.ID(id), nil
}

type requestBody struct {
	TokenAmount decimal.Decimal `json:"token_amount"`
	Method      string          `json:"method" binding:"required"`
	Destination string          `json:"destination" binding:"required"`
}

func (h *Handler) request(c *gin.Context) {
	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	req, err := h.svc.Request(c.Request.Context(), RequestParams{
		UserID:      middleware.CurrentIdentity(c).UserID,
		TokenAmount: body.TokenAmount,
		Method:      body.Method,
		Destination: body.Destination,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) listOwn(c *gin.Context) {
	var f ListFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	f.UserID = middleware.CurrentIdentity(c).UserID

	page, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) cancel(c *gin.Context) {
	id, err := cashoutID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	req, err := h.svc.Cancel(c.Request.Context(), id, middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) list(c *gin.Context) {
	var f ListFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	page, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) get(c *gin.Context) {
	id, err := cashoutID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	req, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type transitionBody struct {
	Status    Status `json:"status" binding:"required"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

func (h *Handler) transition(c *gin.Context) {
	id, err := cashoutID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var body transitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	req, err := h.svc.Transition(c.Request.Context(), id, body.Status, TransitionParams{
		Reason:    body.Reason,
		Reference: body.Reference,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		_ = c.Error(errutil.BadRequest("unreadable body", err))
		return
	}

	req, err := h.svc.HandlePaymentCallback(c.Request.Context(), string(body))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": req.Code, "status": req.Status})
}
