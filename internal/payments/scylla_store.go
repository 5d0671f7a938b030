package payments

import (
	"context"
	"fmt"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
)

// ScyllaEventStore — journal des événements paiement dans le keyspace wallets
type ScyllaEventStore struct {
	session *gocql.Session
}

func NewScyllaEventStore(session *gocql.Session) *ScyllaEventStore {
	return &ScyllaEventStore{session: session}
}

func (s *ScyllaEventStore) RecordEvent(ctx context.Context, ev models.PaymentEvent) (bool, error) {
	// L'unicité par external_tx_id est la garde anti-rejeu : le premier
	// INSERT gagne, tous les suivants voient applied=false.
	applied, err := s.session.Query(`
		INSERT INTO payment_events_by_external (external_tx_id, event_id) VALUES (?, ?) IF NOT EXISTS
	`, ev.ExternalTxID, ev.ID).WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("réservation événement: %w", err)
	}
	if !applied {
		return false, nil
	}

	err = s.session.Query(`
		INSERT INTO payment_events
			(event_id, external_tx_id, reference, amount, currency, status, raw_payload, outcome, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ExternalTxID, ev.Reference, ev.Amount, ev.Currency, ev.Status, ev.RawPayload,
		ev.Outcome, ev.ReceivedAt).WithContext(ctx).Exec()
	if err != nil {
		return false, fmt.Errorf("journalisation événement: %w", err)
	}
	return true, nil
}

func (s *ScyllaEventStore) SetOutcome(ctx context.Context, eventID gocql.UUID, outcome string) error {
	err := s.session.Query(`
		UPDATE payment_events SET outcome = ? WHERE event_id = ?
	`, outcome, eventID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("issue événement: %w", err)
	}
	return nil
}
