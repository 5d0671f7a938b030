package order

import (
	"context"
	"log"
	"net/http"

	"kiloba_back_end/internal/models"
	"kiloba_back_end/internal/qrtoken"
	"kiloba_back_end/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gocql/gocql"
)

// ConfirmPickup — scan du QR par le livreur au retrait chez le vendeur
func ConfirmPickup(c *gin.Context) {
	orderID, err := gocql.ParseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant de commande invalide"})
		return
	}

	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Jeton requis"})
		return
	}

	err = ledger.ConfirmPickup(c.Request.Context(), c.GetString("user_id"), c.GetString("role"), orderID, req.Token)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.OrderStatusPicked})
}

// ConfirmDelivery — scan final par l'acheteur. Libère l'escrow, et transfère
// le pourboire éventuel au livreur dans la foulée.
func ConfirmDelivery(c *gin.Context) {
	orderID, err := gocql.ParseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant de commande invalide"})
		return
	}

	var req struct {
		Token     string `json:"token" binding:"required"`
		TipAmount int64  `json:"tip_amount"` // centimes, optionnel
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Jeton requis"})
		return
	}

	buyerID := c.GetString("user_id")
	if err := ledger.ConfirmDelivery(c.Request.Context(), buyerID, orderID, req.Token); err != nil {
		respondLedgerError(c, err)
		return
	}

	tipped := false
	if req.TipAmount > 0 {
		// Le pourboire est un transfert direct, hors escrow : son échec
		// n'annule pas la livraison déjà réglée
		tracking, err := ledger.GetTracking(c.Request.Context(), orderID)
		if err != nil || tracking.CourierID == "" {
			log.Printf("⚠️ Pourboire impossible pour %s: pas de livreur connu", orderID)
		} else {
			order, _ := ledger.GetOrder(c.Request.Context(), orderID)
			err = escrow.Transfer(c.Request.Context(), buyerID, tracking.CourierID,
				req.TipAmount, order.Currency, models.TxPurposeTip, &orderID)
			if err != nil {
				log.Printf("⚠️ Pourboire refusé pour %s: %v", orderID, err)
			} else {
				tipped = true
			}
		}
	}

	// Reçu par e-mail, hors chemin critique (le contexte requête est déjà clos)
	go func() {
		order, err := ledger.GetOrder(context.Background(), orderID)
		if err == nil {
			utils.SendDeliveryReceipt(order)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"status": models.OrderStatusDelivered, "tipped": tipped})
}

// GetQRCode rend le jeton de la commande en image PNG (acheteur uniquement :
// c'est lui qui présente le QR aux deux étapes)
func GetQRCode(c *gin.Context) {
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
	if c.GetString("user_id") != order.BuyerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "QR réservé à l'acheteur"})
		return
	}
	if order.Terminal() {
		c.JSON(http.StatusGone, gin.H{"error": "Commande terminée, jeton révoqué"})
		return
	}

	png, err := qrtoken.EncodePNG(order.QRToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Génération QR impossible"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
