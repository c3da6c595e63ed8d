package treasury

import (
	"net/http"
	"time"

	"bizops-incentives/pkg/db/pagination"
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
	r.POST("/deposits", h.deposit)
	r.GET("/deposits", h.listDeposits)
	r.GET("/summary", h.summary)
	r.GET("/transactions", h.listTransactions)
	r.GET("/verify", h.verify)
	r.GET("/reconcile", h.reconcile)
	r.POST("/adjustments", h.adjust)
	r.POST("/statements", h.statement)
}

type depositRequest struct {
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	TokenPrice decimal.Decimal `json:"token_price"`
	Method     string          `json:"method" binding:"required"`
	Reference  string          `json:"reference"`
}

func (h *Handler) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid deposit request", err))
		return
	}

	dep, err := h.svc.Deposit(c.Request.Context(), DepositRequest{
		Amount:      req.Amount,
		TokenPrice:  req.TokenPrice,
		Method:      req.Method,
		Reference:   req.Reference,
		DepositedBy: middleware.CurrentIdentity(c).UserID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, dep)
}

func (h *Handler) listDeposits(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	page, err := h.svc.ListDeposits(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) summary(c *gin.Context) {
	out, err := h.svc.Summary(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) listTransactions(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	page, err := h.svc.ListTransactions(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) verify(c *gin.Context) {
	report, err := h.svc.VerifyChain(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) reconcile(c *gin.Context) {
	report, err := h.svc.Reconcile(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type adjustRequest struct {
	AmountDelta decimal.Decimal `json:"amount_delta"`
	TokenDelta  decimal.Decimal `json:"token_delta"`
	Reason      string          `json:"reason" binding:"required"`
}

func (h *Handler) adjust(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid adjustment request", err))
		return
	}

	entry, err := h.svc.Adjust(c.Request.Context(), AdjustParams{
		AmountDelta: req.AmountDelta,
		TokenDelta:  req.TokenDelta,
		Reason:      req.Reason,
		AdjustedBy:  middleware.CurrentIdentity(c).UserID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type statementRequest struct {
	From time.Time `json:"from" binding:"required"`
	To   time.Time `json:"to" binding:"required"`
}

func (h *Handler) statement(c *gin.Context) {
	var req statementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid statement request", err))
		return
	}

	st, err := h.svc.ExportStatement(c.Request.Context(), req.From, req.To)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, st)
}
