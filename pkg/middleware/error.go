package middleware

import (
	"context"
	"errors"
	"net/http"

	"testerhub-engagement/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error. BaseErrors keep their
// status; anything else becomes a 500 without leaking the cause.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		switch {
		case errors.As(last.Err, &be):
			if be.Code.HTTPStatus() >= http.StatusInternalServerError {
				zap.L().Error("request failed",
					zap.String("path", c.FullPath()),
					zap.String("code", string(be.Code)),
					zap.Error(last.Err),
				)
			}
			if be.Code.Retryable() {
				c.Header("Retry-After", "1")
			}
			c.JSON(be.Code.HTTPStatus(), be.JSON())
		case errors.Is(last.Err, context.Canceled):
			c.Status(499)
		default:
			zap.L().Error("unhandled request error", zap.String("path", c.FullPath()), zap.Error(last.Err))
			c.JSON(http.StatusInternalServerError, errutil.BaseError{
				Code:    errutil.StatusInternal,
				Message: "internal error",
			}.JSON())
		}
	}
}
