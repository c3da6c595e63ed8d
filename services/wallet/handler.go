package wallet

import (
	"net/http"

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
	r.GET("", h.get)
}

func (h *Handler) get(c *gin.Context) {
	acc, err := h.svc.Get(c.Request.Context(), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, acc)
}
