package order

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"kiloba_back_end/internal/models"
	"kiloba_back_end/internal/orders"
	"kiloba_back_end/internal/qrtoken"
	"kiloba_back_end/internal/service"
	"kiloba_back_end/internal/services"
	"kiloba_back_end/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/gocql/gocql"
)

var (
	ledger *orders.Ledger
	escrow *wallet.Escrow
)

// Init branche les moteurs métier sur les handlers (appelé au démarrage)
func Init(l *orders.Ledger, e *wallet.Escrow) {
	ledger = l
	escrow = e
}

// PlaceOrder crée une commande : fonds retenus, jeton QR émis
func PlaceOrder(c *gin.Context) {
	var req struct {
		SellerID    string                  `json:"seller_id" binding:"required"`
		Items       []orders.PlaceOrderItem `json:"items" binding:"required,dive"`
		Currency    string                  `json:"currency" binding:"required,currency"`
		AffiliateID *string                 `json:"affiliate_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Requête invalide: " + err.Error()})
		return
	}

	buyerID := c.GetString("user_id")
	order, tok, err := ledger.PlaceOrder(c.Request.Context(), buyerID, req.SellerID, req.Items, req.Currency, req.AffiliateID)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	// Image QR vers MinIO + indexation Elastic, hors chemin critique
	go func() {
		if url, err := services.UploadQRCode(order.ID.String(), tok.Value); err != nil {
			log.Printf("⚠️ QR non archivé pour %s: %v", order.ID, err)
		} else {
			log.Printf("🖼️ QR archivé: %s", url)
		}
		service.IndexOrder(order)
	}()

	c.JSON(http.StatusCreated, gin.H{
		"order":  order,
		"qr_ref": tok.Ref,
		"token":  tok.Value,
	})
}

// GetOrder retourne une commande — visible par l'acheteur, le vendeur et les admins
func GetOrder(c *gin.Context) {
	orderID, err := gocql.ParseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant de commande invalide"})
		return
	}

	order, err := ledger.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	userID := c.GetString("user_id")
	role := c.GetString("role")
	if role != models.RoleAdmin && userID != order.BuyerID && userID != order.SellerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Commande d'un autre utilisateur"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// ListMyOrders retourne les commandes de l'acheteur connecté
func ListMyOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := ledger.ListByBuyer(c.Request.Context(), c.GetString("user_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture commandes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

// CancelOrder annule une commande en cours et rembourse l'acheteur
func CancelOrder(c *gin.Context) {
	orderID, err := gocql.ParseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant de commande invalide"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "sans motif"
	}

	err = ledger.Cancel(c.Request.Context(), c.GetString("user_id"), c.GetString("role"), orderID, req.Reason)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// AssignCourier rattache un livreur à une commande (vendeur ou admin)
func AssignCourier(c *gin.Context) {
	orderID, err := gocql.ParseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant de commande invalide"})
		return
	}

	var req struct {
		CourierID  string  `json:"courier_id" binding:"required"`
		PickupLat  float64 `json:"pickup_lat" binding:"min=-90,max=90"`
		PickupLng  float64 `json:"pickup_lng" binding:"min=-180,max=180"`
		DropoffLat float64 `json:"dropoff_lat" binding:"min=-90,max=90"`
		DropoffLng float64 `json:"dropoff_lng" binding:"min=-180,max=180"`
		ETAMinutes int     `json:"eta_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Requête invalide: " + err.Error()})
		return
	}

	order, err := ledger.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	if c.GetString("role") != models.RoleAdmin && c.GetString("user_id") != order.SellerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Seul le vendeur peut assigner un livreur"})
		return
	}

	err = ledger.AssignCourier(c.Request.Context(), orderID, req.CourierID,
		req.PickupLat, req.PickupLng, req.DropoffLat, req.DropoffLng, req.ETAMinutes)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "assigned", "courier_id": req.CourierID})
}

// respondLedgerError traduit les erreurs métier en codes HTTP
func respondLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrForbidden), errors.Is(err, qrtoken.ErrRoleMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrWrongStage), errors.Is(err, qrtoken.ErrAlreadyConsumed),
		errors.Is(err, orders.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case orders.IsBusinessErr(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("❌ Erreur interne ledger: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne"})
	}
}
