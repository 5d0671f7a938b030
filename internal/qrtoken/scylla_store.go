package qrtoken

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
)

// ScyllaStore — persistance des jetons dans le keyspace orders
type ScyllaStore struct {
	session *gocql.Session
}

func NewScyllaStore(session *gocql.Session) *ScyllaStore {
	return &ScyllaStore{session: session}
}

func (s *ScyllaStore) InsertToken(ctx context.Context, t Token) error {
	err := s.session.Query(`
		INSERT INTO qr_tokens (token, ref, order_id, pickup_consumed, delivery_consumed, active, expires_at)
		VALUES (?, ?, ?, false, false, true, ?)
	`, t.Value, t.Ref, t.OrderID, t.ExpiresAt).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insertion jeton: %w", err)
	}
	return nil
}

func (s *ScyllaStore) GetToken(ctx context.Context, value string) (Token, error) {
	var t Token
	t.Value = value

	err := s.session.Query(`
		SELECT ref, order_id, pickup_consumed, delivery_consumed, active, expires_at
		FROM qr_tokens WHERE token = ?
	`, value).WithContext(ctx).Scan(&t.Ref, &t.OrderID, &t.PickupConsumed, &t.DeliveryConsumed, &t.Active, &t.ExpiresAt)

	if err == gocql.ErrNotFound {
		return Token{}, ErrInvalidToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("lecture jeton: %w", err)
	}
	return t, nil
}

func (s *ScyllaStore) ConsumeStage(ctx context.Context, value, stage string) (bool, error) {
	column := "pickup_consumed"
	if stage == StageDelivery {
		column = "delivery_consumed"
	}
	applied, err := s.session.Query(fmt.Sprintf(`
		UPDATE qr_tokens SET %s = true WHERE token = ? IF %s = false
	`, column, column), value).WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("consommation étape: %w", err)
	}
	return applied, nil
}

func (s *ScyllaStore) Deactivate(ctx context.Context, value string) error {
	err := s.session.Query(`
		UPDATE qr_tokens SET active = false WHERE token = ?
	`, value).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("révocation jeton: %w", err)
	}
	return nil
}
