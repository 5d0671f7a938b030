package utils

import (
	"log"

	"kiloba_back_end/internal/cache"
	"kiloba_back_end/internal/models"
)

// SendDeliveryReceipt envoie le reçu de livraison à l'acheteur. L'adresse
// e-mail vient du cache partagé avec le service identité (clé email:<user_id>) ;
// si elle n'y est pas, on s'abstient — la notification Kafka est déjà partie.
func SendDeliveryReceipt(order models.Order) {
	email, err := cache.GetCache("email:" + order.BuyerID)
	if err != nil || email == "" {
		log.Printf("⚠️ E-mail inconnu pour %s, reçu non envoyé", order.BuyerID)
		return
	}

	html := GenerateReceiptHTML(order)

	pdf, err := GenerateReceiptPDF(order)
	if err != nil {
		log.Println("❌ Erreur génération PDF :", err)
		pdf = nil
	}

	if err := SendReceiptEmail(email, "Votre reçu de livraison Kiloba", html, pdf); err != nil {
		log.Println("❌ Erreur envoi e-mail reçu :", err)
	} else {
		log.Println("📧 Reçu de livraison envoyé à", email)
	}
}
