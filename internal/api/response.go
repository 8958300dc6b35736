// internal/api/response.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	Success   bool        `json:"success"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	Details   string      `json:"details,omitempty"`
}

func respondOK(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, envelope{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Message:   message,
	})
}

func respondError(c *gin.Context, status int, msg string, details string) {
	c.AbortWithStatusJSON(status, envelope{
		Success:   false,
		Timestamp: time.Now().UTC(),
		Error:     msg,
		Details:   details,
	})
}
