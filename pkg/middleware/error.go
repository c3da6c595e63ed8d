package middleware

import (
	"errors"
	"net/http"

	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last handler error. errutil errors keep their status;
// anything else is logged and returned as a 500 without internals.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var v errutil.BaseError
		if errors.As(last.Err, &v) {
			if v.Code.HTTPStatus() >= http.StatusInternalServerError {
				logger.FromContext(c.Request.Context()).Error("request failed",
					zap.String("path", c.FullPath()),
					zap.Error(last.Err),
				)
			}
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		logger.FromContext(c.Request.Context()).Error("unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(last.Err),
		)
		internal := errutil.Internal("internal server error", nil).(errutil.BaseError)
		c.JSON(http.StatusInternalServerError, internal.JSON())
	}
}
