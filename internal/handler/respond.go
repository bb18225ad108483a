package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blocklive/stagefun-sub002/pkg/errors"
)

// Message is the response envelope of every endpoint.
type Message struct {
	Code           int         `json:"code"`
	Message        string      `json:"message"`
	ProcessingTime int64       `json:"processingTime"`
	Data           interface{} `json:"data"`
}

const (
	CodeSuccess      = 0
	CodeInvalidParam = 40000
	CodeNotFound     = 40400
	CodeConflict     = 40900
	CodeServerError  = 50000
)

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Message{
		Code:           CodeSuccess,
		Message:        "success",
		ProcessingTime: processingTime(c),
		Data:           data,
	})
}

func fail(c *gin.Context, status, code int, message string) {
	c.JSON(status, Message{
		Code:           code,
		Message:        message,
		ProcessingTime: processingTime(c),
	})
}

func invalidParam(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, CodeInvalidParam, message)
}

// failWith maps an AppError code onto a response.
func failWith(c *gin.Context, err error) {
	switch errors.CodeOf(err) {
	case errors.ErrInvalidInput, errors.ErrInvalidAmount, errors.ErrReferralInvalid:
		fail(c, http.StatusBadRequest, CodeInvalidParam, err.Error())
	case errors.ErrDependencyNotFound:
		fail(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.ErrCheckInTooSoon:
		fail(c, http.StatusConflict, CodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, CodeServerError, err.Error())
	}
}

func processingTime(c *gin.Context) int64 {
	if v, ok := c.Get("start_time"); ok {
		if t, ok := v.(time.Time); ok {
			return time.Since(t).Milliseconds()
		}
	}
	return 0
}

func timingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("start_time", time.Now())
		c.Next()
	}
}
