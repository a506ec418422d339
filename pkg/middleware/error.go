package middleware

import (
	"net/http"

	"wecodesec-tools/pkg/errutil"
	"wecodesec-tools/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const internalPrefix = "internal server error: "

// Error renders the last error attached with c.Error as the failure envelope.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		status, message := Render(last.Err)
		if status >= http.StatusInternalServerError {
			zap.L().Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Error(last.Err),
			)
		}
		httpapi.Fail(c, status, message)
	}
}

// Render maps err to an HTTP status and caller-facing message.
func Render(err error) (int, string) {
	be, ok := errutil.As(err)
	if !ok {
		return http.StatusInternalServerError, internalPrefix + err.Error()
	}

	status := be.Code.HTTPStatus()
	if be.Code == errutil.StatusInternal {
		return status, internalPrefix + be.MessageWithErr()
	}
	return status, be.MessageWithErr()
}
