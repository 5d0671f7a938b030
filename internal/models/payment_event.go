package models

import (
	"time"

	"github.com/gocql/gocql"
)

// Issues possibles du traitement d'un événement paiement
const (
	EventOutcomeSettled  = "settled"
	EventOutcomeFailed   = "failed"
	EventOutcomeIgnored  = "ignored" // référence inconnue ou déjà traitée
	EventOutcomeRejected = "rejected"
)

// PaymentEvent — événement brut du prestataire de paiement, persisté avant
// toute mutation de solde pour pouvoir diagnostiquer les rejeux.
type PaymentEvent struct {
	ID           gocql.UUID `json:"id" db:"event_id"`
	ExternalTxID string     `json:"external_tx_id" db:"external_tx_id"`
	Reference    string     `json:"reference" db:"reference"`
	Amount       int64      `json:"amount" db:"amount"` // centimes
	Currency     string     `json:"currency" db:"currency"`
	Status       string     `json:"status" db:"status"` // statut côté prestataire
	RawPayload   string     `json:"-" db:"raw_payload"`
	Outcome      string     `json:"outcome" db:"outcome"`
	ReceivedAt   time.Time  `json:"received_at" db:"received_at"`
}
