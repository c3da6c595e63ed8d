package rewards

import (
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
	r.GET("", h.list)
	r.POST("/checkin", h.checkIn)
	r.GET("/checkin", h.checkinStatus)
	r.POST("/:id/redeem", h.redeem)
}

func (h *Handler) RegisterAdmin(r gin.IRouter) {
	r.POST("/signup", h.signup)
	r.POST("/referrals", h.referral)
	r.POST("/jobs", h.job)
	r.POST("/:id/confirm", h.confirm)
	r.POST("/:id/reverse", h.reverse)
}

func rewardID(c *gin.Context) (snowflake.ID, error) {
	id, err := pagination.ParseID(c.Param("id"))
	if err != nil {
		return 0, errutil.BadRequest("invalid reward id", err)
	}
	return snowflake.ID(id), nil
}

func (h *Handler) list(c *gin.Context) {
	var f ListFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	page, err := h.svc.ListRewards(c.Request.Context(), middleware.CurrentIdentity(c).UserID, f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) checkIn(c *gin.Context) {
	id := middleware.CurrentIdentity(c)
	res, err := h.svc.CheckIn(c.Request.Context(), CheckInParams{
		UserID:            id.UserID,
		DeviceFingerprint: id.DeviceID,
		IPAddress:         id.IP,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) checkinStatus(c *gin.Context) {
	st, err := h.svc.CheckinStatus(c.Request.Context(), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) redeem(c *gin.Context) {
	id, err := rewardID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	r, err := h.svc.RedeemReward(c.Request.Context(), id, middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type signupRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	r, err := h.svc.GrantSignupBonus(c.Request.Context(), req.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

type referralRequest struct {
	ReferrerID string `json:"referrer_id" binding:"required"`
	RefereeID  string `json:"referee_id" binding:"required"`
}

func (h *Handler) referral(c *gin.Context) {
	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	r, err := h.svc.GrantReferral(c.Request.Context(), req.ReferrerID, req.RefereeID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

type jobRequest struct {
	UserID string          `json:"user_id" binding:"required"`
	JobID  string          `json:"job_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) job(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	r, err := h.svc.GrantJobCompletion(c.Request.Context(), req.UserID, req.JobID, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) confirm(c *gin.Context) {
	id, err := rewardID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	r, err := h.svc.ConfirmReward(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type reverseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) reverse(c *gin.Context) {
	id, err := rewardID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req reverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	r, err := h.svc.ReverseReward(c.Request.Context(), id, req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, r)
}
