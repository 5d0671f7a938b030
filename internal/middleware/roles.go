package middleware

import (
	"net/http"

	"kiloba_back_end/internal/models"

	"github.com/gin-gonic/gin"
)

// RequireRoles n'autorise que les rôles listés. À poser après AuthRequired.
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		role := c.GetString("role")
		if !allowed[role] {
			c.JSON(http.StatusForbidden, gin.H{"error": "Accès réservé à un autre rôle"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireDeliveryRole n'autorise que les rôles de livraison (coursier,
// moto-taxi, fret)
func RequireDeliveryRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !models.IsDeliveryRole(c.GetString("role")) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Accès réservé aux livreurs"})
			c.Abort()
			return
		}
		c.Next()
	}
}
