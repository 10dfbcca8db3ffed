package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
)

// requestContext returns the request context, which carries the actor set by the actor
// middleware. Handlers invoked without a request (in tests) get a background context.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
