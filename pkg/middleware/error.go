package middleware

import (
	"errors"
	"net/http"

	"minerush-rewardplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last handler error as a structured payload. Handlers
// attach errutil errors with c.Error and return; the transport mapping
// happens only here.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(err.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal error",
		}.JSON())
	}
}
