package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kiloba_back_end/internal/models"
	"kiloba_back_end/internal/wallet"

	"github.com/gocql/gocql"
)

// ProviderEvent — vue normalisée d'un événement webhook, déjà extraite du
// payload du prestataire et vérifiée en signature par le handler.
type ProviderEvent struct {
	ExternalTxID string // identifiant de l'événement côté prestataire
	Reference    string // notre référence de transaction (metadata)
	Amount       int64  // centimes
	Currency     string
	Succeeded    bool
	RawPayload   string
}

// EventStore — journal des événements paiement reçus
type EventStore interface {
	// RecordEvent persiste l'événement brut. Retourne false si cet
	// external_tx_id a déjà été enregistré (rejeu du prestataire).
	RecordEvent(ctx context.Context, ev models.PaymentEvent) (bool, error)
	SetOutcome(ctx context.Context, eventID gocql.UUID, outcome string) error
}

// WalletGateway — surface du moteur wallet utilisée par le réconciliateur
type WalletGateway interface {
	TransactionByRef(ctx context.Context, externalRef string) (models.WalletTransaction, error)
	Settle(ctx context.Context, externalRef string, success bool) error
}

// Reconciler rapproche les webhooks du prestataire de paiement avec les
// transactions en attente. Chaque événement est journalisé avant toute
// mutation de solde ; les rejeux et références inconnues sont absorbés sans
// erreur pour que le handler réponde toujours 200 au prestataire.
type Reconciler struct {
	events  EventStore
	wallets WalletGateway
	nowFunc func() time.Time
}

func NewReconciler(events EventStore, wallets WalletGateway) *Reconciler {
	return &Reconciler{events: events, wallets: wallets, nowFunc: time.Now}
}

// Process traite un événement et retourne l'issue journalisée. Une erreur
// n'est rendue que sur défaillance technique (stockage injoignable) — jamais
// pour un événement simplement non applicable.
func (r *Reconciler) Process(ctx context.Context, pe ProviderEvent) (string, error) {
	status := "failed"
	if pe.Succeeded {
		status = "succeeded"
	}

	ev := models.PaymentEvent{
		ID:           gocql.TimeUUID(),
		ExternalTxID: pe.ExternalTxID,
		Reference:    pe.Reference,
		Amount:       pe.Amount,
		Currency:     pe.Currency,
		Status:       status,
		RawPayload:   pe.RawPayload,
		ReceivedAt:   r.nowFunc(),
	}

	fresh, err := r.events.RecordEvent(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("journalisation événement %s: %w", pe.ExternalTxID, err)
	}
	if !fresh {
		log.Printf("🔁 Événement %s déjà reçu, on ignore", pe.ExternalTxID)
		return models.EventOutcomeIgnored, nil
	}

	outcome, err := r.apply(ctx, pe)
	if err != nil {
		return "", err
	}
	if err := r.events.SetOutcome(ctx, ev.ID, outcome); err != nil {
		log.Printf("⚠️ Issue non journalisée pour événement %s: %v", pe.ExternalTxID, err)
	}
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, pe ProviderEvent) (string, error) {
	tx, err := r.wallets.TransactionByRef(ctx, pe.Reference)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			log.Printf("⚠️ Référence inconnue dans webhook: %s", pe.Reference)
			return models.EventOutcomeIgnored, nil
		}
		return "", fmt.Errorf("recherche référence %s: %w", pe.Reference, err)
	}

	if tx.Status != models.TxStatusPending {
		log.Printf("🔁 Référence %s déjà réglée (%s), webhook ignoré", pe.Reference, tx.Status)
		return models.EventOutcomeIgnored, nil
	}

	// Le montant annoncé doit correspondre à la transaction en attente —
	// un écart signale une manipulation ou une erreur prestataire.
	if pe.Succeeded && (pe.Amount != tx.Amount || pe.Currency != tx.Currency) {
		log.Printf("❌ Webhook rejeté pour %s: %d %s annoncés, %d %s attendus",
			pe.Reference, pe.Amount, pe.Currency, tx.Amount, tx.Currency)
		return models.EventOutcomeRejected, nil
	}

	if err := r.wallets.Settle(ctx, pe.Reference, pe.Succeeded); err != nil {
		return "", fmt.Errorf("règlement référence %s: %w", pe.Reference, err)
	}

	if pe.Succeeded {
		log.Printf("✅ Webhook réglé: %s (%d %s)", pe.Reference, pe.Amount, pe.Currency)
		return models.EventOutcomeSettled, nil
	}
	log.Printf("❌ Webhook en échec prestataire: %s", pe.Reference)
	return models.EventOutcomeFailed, nil
}
