package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/logger"
	"github.com/noah-isme/club-approval-api/pkg/response"
)

// ContextActorKey is the gin context key storing the resolved actor.
const ContextActorKey = "currentActor"

// TokenValidator turns a bearer token into actor claims.
type TokenValidator interface {
	ValidateToken(token string) (*models.ActorClaims, error)
}

// JWT protects routes by requiring a valid actor token.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextActorKey, claims)
		c.Set(logger.ActorIDKey, claims.UserID)
		c.Next()
	}
}

// Actor returns the actor resolved by JWT, or nil.
func Actor(c *gin.Context) *models.ActorClaims {
	value, exists := c.Get(ContextActorKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.ActorClaims)
	if !ok {
		return nil
	}
	return claims
}
