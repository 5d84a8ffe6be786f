package middleware

import (
	"context"
	"errors"
	"slices"
	"strings"

	"rulebook_backend/internal/config"
	"rulebook_backend/internal/model"
	"rulebook_backend/internal/util"
	"rulebook_backend/internal/workflow"
	"rulebook_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContextActorKey holds the workflow.Actor resolved for the request.
const ContextActorKey = "actor"

// ActorResolver maps verified token claims to the caller's current identity.
type ActorResolver interface {
	ResolveActor(ctx context.Context, claims *util.Claims) (workflow.Actor, error)
}

// tokenFrom accepts Authorization: Bearer and the older x-auth-token header.
// Browser websockets cannot set headers, so ?token= is the last resort.
func tokenFrom(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if token := strings.TrimSpace(c.GetHeader("x-auth-token")); token != "" {
		return token
	}
	return strings.TrimSpace(c.Query("token"))
}

func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFrom(c)
		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("JWT parse failed", zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set(util.ContextUserKey, claims)
		c.Next()
	}
}

// TryAuthMiddleware sets the claims when a valid token is present and
// otherwise lets the request through as a guest.
func TryAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := tokenFrom(c); tokenString != "" {
			if claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret); err == nil {
				c.Set(util.ContextUserKey, claims)
			}
		}
		c.Next()
	}
}

// ActorMiddleware resolves the caller's role from the user store. Requests
// without claims continue as anonymous; claims for a removed user are
// rejected.
func ActorMiddleware(resolver ActorResolver) gin.HandlerFunc {
	return resolveActor(resolver, false)
}

// OptionalActorMiddleware is ActorMiddleware for public reads: claims for a
// removed user fall back to the guest view.
func OptionalActorMiddleware(resolver ActorResolver) gin.HandlerFunc {
	return resolveActor(resolver, true)
}

func resolveActor(resolver ActorResolver, anonymousOnMissing bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := util.GetUserFromContext(c)
		if claims == nil {
			c.Set(ContextActorKey, workflow.Actor{})
			c.Next()
			return
		}

		actor, err := resolver.ResolveActor(c.Request.Context(), claims)
		if err != nil {
			if errors.Is(err, util.ErrNotFound) {
				if anonymousOnMissing {
					c.Set(ContextActorKey, workflow.Actor{})
					c.Next()
					return
				}
				util.Unauthorized(c)
				c.Abort()
				return
			}
			util.LogInternalError(c, err)
			c.Abort()
			return
		}
		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor set by ActorMiddleware, or an anonymous actor.
func ActorFrom(c *gin.Context) workflow.Actor {
	if v, ok := c.Get(ContextActorKey); ok {
		if actor, ok := v.(workflow.Actor); ok {
			return actor
		}
	}
	return workflow.Actor{}
}

// RoleMiddleware must run after ActorMiddleware.
func RoleMiddleware(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		if !actor.Authenticated() {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		if !slices.Contains(roles, actor.Role) {
			util.Error(c, 403, "Admins only")
			c.Abort()
			return
		}
		c.Next()
	}
}
