package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/trackmate/attendance-api/internal/middleware"
	"github.com/trackmate/attendance-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// sessionFromContext derives the per-request account session from the
// authenticated claims. Every account's tables live under its user id.
func sessionFromContext(c *gin.Context) *models.Session {
	claims := claimsFromContext(c)
	if claims == nil {
		return nil
	}
	return models.NewSession(claims.UserID)
}
