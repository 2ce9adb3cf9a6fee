package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KotFed0t/fund_helper/internal/service"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/gin-gonic/gin"
)

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    meta   `json:"meta"`
}

type meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

func newMeta(c *gin.Context) meta {
	return meta{
		Timestamp: time.Now().UTC(),
		RequestID: utils.GetRequestIDFromCtx(c.Request.Context()),
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, response{Success: true, Data: data, Meta: newMeta(c)})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, response{Success: true, Data: data, Meta: newMeta(c)})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, response{Success: false, Error: msg, Meta: newMeta(c)})
}

// respondServiceError maps the service error taxonomy onto http statuses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		respondError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrNotFound):
		respondError(c, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrVersionConflict):
		respondError(c, http.StatusConflict, "version conflict")
	case errors.Is(err, service.ErrDataUnavailable):
		respondError(c, http.StatusServiceUnavailable, "market data unavailable")
	default:
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
