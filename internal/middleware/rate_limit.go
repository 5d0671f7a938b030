package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"kiloba_back_end/internal/database"

	"github.com/gin-gonic/gin"
)

const (
	// Limites par endpoint
	OrderMaxPerMinute    = 10  // placements de commande par acheteur
	PositionMaxPerMinute = 120 // rapports GPS par livreur (~2/s)
	WebhookMaxPerMinute  = 300 // événements prestataire par IP
	APIMaxRequests       = 100 // endpoints généraux, par IP

	APICooldown = 1 * time.Minute
)

// OrderRateLimit limite les placements de commande par acheteur (anti-spam)
func OrderRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.Next()
			return
		}

		ctx := context.Background()
		key := "order_place:" + userID

		requests, _ := database.Redis.Get(ctx, key).Int()
		if requests >= OrderMaxPerMinute {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Trop de commandes placées. Réessayez dans 1 minute",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		pipe := database.Redis.Pipeline()
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, APICooldown)
		pipe.Exec(ctx)

		c.Next()
	}
}

// PositionRateLimit limite les rapports GPS par livreur
func PositionRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.Next()
			return
		}

		ctx := context.Background()
		key := "position_report:" + userID

		requests, _ := database.Redis.Get(ctx, key).Int()
		if requests >= PositionMaxPerMinute {
			// Rapport surnuméraire : on jette sans erreur, la position
			// précédente reste valable (last-write-wins)
			c.JSON(http.StatusOK, gin.H{"accepted": false})
			c.Abort()
			return
		}

		pipe := database.Redis.Pipeline()
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, APICooldown)
		pipe.Exec(ctx)

		c.Next()
	}
}

// WebhookRateLimit limite les webhooks paiement par IP
func WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.Background()
		key := "webhook_events:" + c.ClientIP()

		requests, _ := database.Redis.Get(ctx, key).Int()
		if requests >= WebhookMaxPerMinute {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Trop d'événements. Réessayez dans 1 minute",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		pipe := database.Redis.Pipeline()
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, APICooldown)
		pipe.Exec(ctx)

		c.Next()
	}
}

// APIRateLimit limite le nombre de requêtes par IP (général)
func APIRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.Background()
		ip := c.ClientIP()
		key := "api_requests:" + ip

		requests, _ := database.Redis.Get(ctx, key).Int()
		if requests >= APIMaxRequests {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Trop de requêtes. Réessayez dans 1 minute",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		pipe := database.Redis.Pipeline()
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, APICooldown)
		pipe.Exec(ctx)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", APIMaxRequests))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", APIMaxRequests-requests-1))

		c.Next()
	}
}
