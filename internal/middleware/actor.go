package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kbvault/kbvault/internal/auditctx"
	appErrors "github.com/kbvault/kbvault/pkg/errors"
	"github.com/kbvault/kbvault/pkg/response"
)

// CtxUserIDKey is the gin context key holding the actor identity.
const CtxUserIDKey = "userID"

// DefaultActorHeader is used when no header name is configured.
const DefaultActorHeader = "X-User-ID"

// Actor reads the identity set by the upstream auth proxy from header and stores it on both the
// gin context and the request context. Requests without the header pass through anonymously.
func Actor(header string) gin.HandlerFunc {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultActorHeader
	}

	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(header))
		if id != "" {
			c.Set(CtxUserIDKey, id)
			ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
				ID:         id,
				RemoteAddr: c.ClientIP(),
				UserAgent:  c.Request.UserAgent(),
			})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// RequireActor rejects mutating requests that carry no actor identity.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if c.GetString(CtxUserIDKey) == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}
