package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/club-approval-api/internal/models"
	appErrors "github.com/noah-isme/club-approval-api/pkg/errors"
	"github.com/noah-isme/club-approval-api/pkg/response"
)

// RequireRoles only lets actors with one of the listed roles through.
// Ownership checks (a club touching only its own applications) stay in the services.
func RequireRoles(roles ...models.ActorRole) gin.HandlerFunc {
	allowed := make(map[models.ActorRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		actor := Actor(c)
		if actor == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[actor.Role]; ok {
			c.Next()
			return
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// Reviewers admits advisors and the board.
func Reviewers() gin.HandlerFunc {
	return RequireRoles(models.RoleAdvisor, models.RoleBoard)
}
