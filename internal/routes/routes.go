package routes

import (
	"os"
	"time"

	"kiloba_back_end/internal/handlers/order"
	"kiloba_back_end/internal/handlers/payement"
	"kiloba_back_end/internal/handlers/tracking"
	"kiloba_back_end/internal/handlers/wallet"
	"kiloba_back_end/internal/middleware"
	"kiloba_back_end/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{os.Getenv("FRONTEND_URL")},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Webhook prestataire — pas de JWT, la signature Stripe fait foi
	r.POST("/api/payments/webhook", middleware.WebhookRateLimit(), payement.StripeWebhook)

	api := r.Group("/api")
	api.Use(middleware.APIRateLimit(), middleware.AuthRequired())

	// --- Commandes ---
	ord := api.Group("/orders")
	{
		ord.POST("", middleware.RequireRoles(models.RoleBuyer), middleware.OrderRateLimit(), order.PlaceOrder)
		ord.GET("", middleware.RequireRoles(models.RoleBuyer), order.ListMyOrders)
		ord.GET("/:id", order.GetOrder)
		ord.GET("/:id/qr", middleware.RequireRoles(models.RoleBuyer), order.GetQRCode)
		ord.POST("/:id/cancel", order.CancelOrder)
		ord.POST("/:id/assign", middleware.RequireRoles(models.RoleSeller, models.RoleAdmin), order.AssignCourier)
		ord.POST("/:id/pickup", middleware.RequireDeliveryRole(), order.ConfirmPickup)
		ord.POST("/:id/delivery", middleware.RequireRoles(models.RoleBuyer), order.ConfirmDelivery)
	}

	// --- Wallet ---
	w := api.Group("/wallet")
	{
		w.GET("/balance", wallet.GetBalance)
		w.GET("/history", wallet.GetHistory)
		w.POST("/topup", payement.CreateTopupIntent)
		w.POST("/withdraw", wallet.Withdraw)
	}

	// --- Suivi de livraison ---
	tr := api.Group("/tracking")
	{
		tr.POST("/position", middleware.RequireDeliveryRole(), middleware.PositionRateLimit(), tracking.ReportPosition)
		tr.GET("/nearby", tracking.NearbyProviders)
		tr.GET("/:id", tracking.GetTracking)
		tr.GET("/:id/live", tracking.LiveTracking)
	}
}
