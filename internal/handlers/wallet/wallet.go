package wallet

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	walletcore "kiloba_back_end/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var escrow *walletcore.Escrow

// Init branche le moteur wallet sur les handlers (appelé au démarrage)
func Init(e *walletcore.Escrow) {
	escrow = e
}

// GetBalance retourne le solde courant de l'utilisateur connecté
func GetBalance(c *gin.Context) {
	currency := strings.ToUpper(c.DefaultQuery("currency", "XAF"))
	balance, err := escrow.Balance(c.Request.Context(), c.GetString("user_id"), currency)
	if err != nil {
		log.Printf("❌ Erreur lecture solde: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture solde"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance, "currency": currency})
}

// GetHistory retourne l'historique de transactions de l'utilisateur connecté
func GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	txs, err := escrow.History(c.Request.Context(), c.GetString("user_id"), limit)
	if err != nil {
		log.Printf("❌ Erreur lecture historique: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture historique"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// Withdraw crée une demande de retrait vers un compte externe. Les fonds sont
// débités tout de suite ; le versement est conclu par le webhook prestataire.
func Withdraw(c *gin.Context) {
	var req struct {
		Amount   int64  `json:"amount" binding:"required,gt=0"` // centimes
		Currency string `json:"currency" binding:"required,currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Requête invalide: " + err.Error()})
		return
	}

	ref := "wd_" + uuid.NewString()
	tx, err := escrow.Withdraw(c.Request.Context(), c.GetString("user_id"), req.Amount,
		strings.ToUpper(req.Currency), ref)
	if err != nil {
		switch {
		case errors.Is(err, walletcore.ErrInsufficientFunds):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Solde insuffisant"})
		case errors.Is(err, walletcore.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Montant invalide"})
		case errors.Is(err, walletcore.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Conflit d'écriture, réessayez"})
		default:
			log.Printf("❌ Erreur retrait: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"transaction_id": tx.ID,
		"reference":      ref,
		"status":         tx.Status,
	})
}
