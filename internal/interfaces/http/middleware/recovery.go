package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/interfaces/http/handlers"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
)

// Recovery turns a handler panic into a 500 envelope and logs the stack.
func Recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logger.WithContext(c.Request.Context()).Error("panic recovered",
					logging.String("panic", fmt.Sprint(p)),
					logging.String("path", c.Request.URL.Path),
					logging.String("stack", string(debug.Stack())),
				)
				resp := common.NewErrorResponse(string(errors.ErrCodeInternal), "internal server error")
				resp.RequestID = handlers.RequestID(c)
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()
		c.Next()
	}
}
