package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/KotFed0t/fund_helper/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestID takes the rqID from the incoming header or generates one, then
// puts it into the request context so every layer below logs the same id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rqID := c.GetHeader(RequestIDHeader)
		if rqID == "" {
			rqID = uuid.NewString()
		}

		c.Request = c.Request.WithContext(utils.CtxWithRqID(c.Request.Context(), rqID))
		c.Header(RequestIDHeader, rqID)

		c.Next()
	}
}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()

		rqID := utils.GetRequestIDFromCtx(c.Request.Context())

		slog.Info(
			"start request",
			slog.String("rqID", rqID),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
		)

		defer func() {
			slog.Info(
				"request finished",
				slog.String("rqID", rqID),
				slog.Int("status", c.Writer.Status()),
				slog.String("request duration", fmt.Sprintf("%.2fs", time.Since(now).Seconds())),
			)
		}()

		c.Next()
	}
}
