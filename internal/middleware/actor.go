package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ActorHeader  = "X-Actor-ID"
	ActorKey     = "actor"
	DefaultActor = "anonymous"
)

// Actor stores the caller identity from the X-Actor-ID header for audit attribution
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			actor = DefaultActor
		}
		c.Set(ActorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by Actor
func ActorFrom(c *gin.Context) string {
	if actor := c.GetString(ActorKey); actor != "" {
		return actor
	}
	return DefaultActor
}
