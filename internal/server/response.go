package server

import (
	"net/http"

	"github.com/spigell/doc-reviewer/internal/review"

	"github.com/gin-gonic/gin"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

func fail(c *gin.Context, err error, data any) {
	_ = c.Error(err)

	kind := review.KindOf(err)
	c.AbortWithStatusJSON(StatusFor(kind), Envelope{
		Success: false,
		Data:    data,
		Error:   review.MessageOf(err),
		Kind:    string(kind),
	})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Envelope{
		Success: false,
		Error:   message,
		Kind:    string(review.KindValidation),
	})
}

// StatusFor maps a pipeline error kind onto an HTTP status code.
func StatusFor(kind review.Kind) int {
	switch kind {
	case review.KindValidation:
		return http.StatusBadRequest
	case review.KindRateLimited:
		return http.StatusTooManyRequests
	case review.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
