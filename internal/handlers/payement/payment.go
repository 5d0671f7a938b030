package payement

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"kiloba_back_end/internal/payments"
	walletcore "kiloba_back_end/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/webhook"
)

var (
	reconciler *payments.Reconciler
	escrow     *walletcore.Escrow
)

// Init branche le réconciliateur et le moteur wallet (appelé au démarrage)
func Init(r *payments.Reconciler, e *walletcore.Escrow) {
	reconciler = r
	escrow = e
}

// CreateTopupIntent ouvre un rechargement de wallet : transaction pending chez
// nous, PaymentIntent chez Stripe. Le crédit n'arrive qu'au webhook confirmé.
func CreateTopupIntent(c *gin.Context) {
	var req struct {
		Amount   int64  `json:"amount" binding:"required,gt=0"` // centimes
		Currency string `json:"currency" binding:"required,currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Requête invalide: " + err.Error()})
		return
	}

	userID := c.GetString("user_id")
	currency := strings.ToUpper(req.Currency)
	ref := "topup_" + uuid.NewString()

	// La transaction pending existe AVANT l'appel Stripe : le webhook ne peut
	// jamais arriver sur une référence inconnue
	if _, err := escrow.Fund(c.Request.Context(), userID, req.Amount, currency, ref); err != nil {
		if errors.Is(err, walletcore.ErrDuplicateReference) {
			c.JSON(http.StatusConflict, gin.H{"error": "Référence déjà utilisée"})
			return
		}
		log.Printf("❌ Erreur ouverture rechargement: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne"})
		return
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"user_id":   userID,
			"reference": ref,
		},
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		log.Println("❌ Erreur Stripe:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Printf("💳 PaymentIntent créé : %s (%d %s) pour %s", intent.ID, req.Amount, currency, userID)

	c.JSON(http.StatusOK, gin.H{
		"clientSecret": intent.ClientSecret,
		"paymentId":    intent.ID,
		"reference":    ref,
	})
}

// StripeWebhook reçoit les événements Stripe. Signature vérifiée, puis tout
// passe par le réconciliateur — la réponse est 200 quelle que soit l'issue
// métier, pour que Stripe ne rejoue que les vraies défaillances.
func StripeWebhook(c *gin.Context) {
	const MaxBodyBytes = int64(65536)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

	payload, err := c.GetRawData()
	if err != nil {
		log.Println("❌ Lecture payload échouée:", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Échec lecture body"})
		return
	}

	secret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	var event stripe.Event

	if secret == "" {
		log.Println("⚠️ Pas de STRIPE_WEBHOOK_SECRET — mode test")
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Println("❌ JSON invalide:", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "JSON invalide"})
			return
		}
	} else {
		event, err = webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), secret)
		if err != nil {
			log.Println("❌ Signature Stripe invalide:", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Signature invalide"})
			return
		}
	}

	log.Printf("📥 Événement Stripe reçu : %s", event.Type)
	handleStripeEvent(c, event, string(payload))

	c.Status(http.StatusOK)
}

func handleStripeEvent(c *gin.Context, event stripe.Event, raw string) {
	var succeeded bool
	switch event.Type {
	case "payment_intent.succeeded":
		succeeded = true
	case "payment_intent.payment_failed", "payment_intent.canceled":
		succeeded = false
	default:
		log.Printf("ℹ️ Événement ignoré : %s", event.Type)
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Println("❌ Erreur décodage PaymentIntent:", err)
		return
	}

	ref := pi.Metadata["reference"]
	if ref == "" {
		log.Printf("⚠️ PaymentIntent %s sans référence, on ignore", pi.ID)
		return
	}

	outcome, err := reconciler.Process(c.Request.Context(), payments.ProviderEvent{
		ExternalTxID: event.ID,
		Reference:    ref,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Succeeded:    succeeded,
		RawPayload:   raw,
	})
	if err != nil {
		// Défaillance technique : le 200 part quand même, l'événement est
		// journalisé et rattrapable
		log.Printf("❌ Réconciliation en échec pour %s: %v", ref, err)
		return
	}
	log.Printf("🧾 Événement %s réconcilié: %s", event.ID, outcome)
}
