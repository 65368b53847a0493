package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/schema-registry/internal/platform/ctxutil"
)

const (
	headerActorID   = "X-Registry-Actor"
	headerActorName = "X-Registry-Actor-Name"
	headerSessionID = "X-Registry-Session"
)

// AttachActor carries the identity asserted by the upstream gateway into the request context.
// Requests without an actor header proceed anonymously.
func AttachActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerActorID))
		if id != "" {
			ctx := ctxutil.WithActor(c.Request.Context(), ctxutil.Actor{
				UserID:    id,
				SessionID: strings.TrimSpace(c.GetHeader(headerSessionID)),
				Name:      strings.TrimSpace(c.GetHeader(headerActorName)),
			})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
