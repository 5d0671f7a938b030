package orders

import (
	"context"
	"fmt"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
)

// ScyllaStore — persistance des commandes dans le keyspace orders
type ScyllaStore struct {
	session *gocql.Session
}

func NewScyllaStore(session *gocql.Session) *ScyllaStore {
	return &ScyllaStore{session: session}
}

func (s *ScyllaStore) InsertOrder(ctx context.Context, o models.Order) error {
	err := s.session.Query(`
		INSERT INTO orders
			(order_id, buyer_id, seller_id, affiliate_id, currency, subtotal, platform_fee,
			 affiliate_commission, total, status, escrow_state, released_at, qr_token, qr_ref,
			 created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.BuyerID, o.SellerID, o.AffiliateID, o.Currency, o.Subtotal, o.PlatformFee,
		o.AffiliateCommission, o.Total, o.Status, o.EscrowState, o.ReleasedAt, o.QRToken, o.QRRef,
		o.CreatedAt, o.ExpiresAt).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insertion commande: %w", err)
	}

	for i, it := range o.Items {
		if err := s.session.Query(`
			INSERT INTO order_items (order_id, item_index, product_id, name, quantity, unit_price, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, o.ID, i, it.ProductID, it.Name, it.Quantity, it.UnitPrice, it.Currency).
			WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("insertion article %d: %w", i, err)
		}
	}

	if err := s.session.Query(`
		INSERT INTO orders_by_buyer (buyer_id, created_at, order_id) VALUES (?, ?, ?)
	`, o.BuyerID, o.CreatedAt, o.ID).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("index par acheteur: %w", err)
	}
	return nil
}

func (s *ScyllaStore) GetOrder(ctx context.Context, orderID gocql.UUID) (models.Order, error) {
	var o models.Order
	o.ID = orderID

	err := s.session.Query(`
		SELECT buyer_id, seller_id, affiliate_id, currency, subtotal, platform_fee,
		       affiliate_commission, total, status, escrow_state, released_at, qr_token, qr_ref,
		       created_at, expires_at
		FROM orders WHERE order_id = ?
	`, orderID).WithContext(ctx).Scan(
		&o.BuyerID, &o.SellerID, &o.AffiliateID, &o.Currency, &o.Subtotal, &o.PlatformFee,
		&o.AffiliateCommission, &o.Total, &o.Status, &o.EscrowState, &o.ReleasedAt, &o.QRToken, &o.QRRef,
		&o.CreatedAt, &o.ExpiresAt)

	if err == gocql.ErrNotFound {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("lecture commande: %w", err)
	}

	iter := s.session.Query(`
		SELECT product_id, name, quantity, unit_price, currency
		FROM order_items WHERE order_id = ?
	`, orderID).WithContext(ctx).Iter()

	var it models.OrderItem
	for iter.Scan(&it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice, &it.Currency) {
		o.Items = append(o.Items, it)
	}
	if err := iter.Close(); err != nil {
		return models.Order{}, fmt.Errorf("lecture articles: %w", err)
	}
	return o, nil
}

func (s *ScyllaStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	iter := s.session.Query(`
		SELECT order_id FROM orders_by_buyer WHERE buyer_id = ? ORDER BY created_at DESC LIMIT ?
	`, buyerID, limit).WithContext(ctx).Iter()

	var out []models.Order
	var id gocql.UUID
	for iter.Scan(&id) {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			iter.Close()
			return nil, err
		}
		out = append(out, o)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("parcours commandes acheteur: %w", err)
	}
	return out, nil
}

func (s *ScyllaStore) TransitionStatus(ctx context.Context, orderID gocql.UUID, from, to string) (bool, error) {
	applied, err := s.session.Query(`
		UPDATE orders SET status = ? WHERE order_id = ? IF status = ?
	`, to, orderID, from).WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("transition statut: %w", err)
	}
	return applied, nil
}

func (s *ScyllaStore) SetEscrowState(ctx context.Context, orderID gocql.UUID, state string, at time.Time) error {
	err := s.session.Query(`
		UPDATE orders SET escrow_state = ?, released_at = ? WHERE order_id = ?
	`, state, at, orderID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("état escrow: %w", err)
	}
	return nil
}

func (s *ScyllaStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	// Balayage périodique à faible fréquence : le full scan filtré reste
	// acceptable sur la table orders
	iter := s.session.Query(`
		SELECT order_id, buyer_id, seller_id, affiliate_id, currency, subtotal, platform_fee,
		       affiliate_commission, total, status, escrow_state, qr_token, expires_at
		FROM orders WHERE expires_at < ? AND status IN ('PLACED', 'PICKED') LIMIT ? ALLOW FILTERING
	`, now, limit).WithContext(ctx).Iter()

	var out []models.Order
	for {
		var o models.Order
		if !iter.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.AffiliateID, &o.Currency, &o.Subtotal,
			&o.PlatformFee, &o.AffiliateCommission, &o.Total, &o.Status, &o.EscrowState,
			&o.QRToken, &o.ExpiresAt) {
			break
		}
		out = append(out, o)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("balayage expirations: %w", err)
	}
	return out, nil
}

func (s *ScyllaStore) ListStrandedHeld(ctx context.Context, limit int) ([]models.Order, error) {
	// Même régime que ListExpired : passage peu fréquent du balayeur, le
	// filtrage serveur reste supportable
	iter := s.session.Query(`
		SELECT order_id, buyer_id, seller_id, affiliate_id, currency, subtotal, platform_fee,
		       affiliate_commission, total, status, escrow_state, qr_token, expires_at
		FROM orders WHERE escrow_state = 'held' AND status IN ('DELIVERED', 'CANCELLED')
		LIMIT ? ALLOW FILTERING
	`, limit).WithContext(ctx).Iter()

	var out []models.Order
	for {
		var o models.Order
		if !iter.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.AffiliateID, &o.Currency, &o.Subtotal,
			&o.PlatformFee, &o.AffiliateCommission, &o.Total, &o.Status, &o.EscrowState,
			&o.QRToken, &o.ExpiresAt) {
			break
		}
		out = append(out, o)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("recherche escrows en souffrance: %w", err)
	}
	return out, nil
}

func (s *ScyllaStore) CreateTracking(ctx context.Context, t models.DeliveryTracking) error {
	err := s.session.Query(`
		INSERT INTO delivery_tracking
			(order_id, courier_id, seller_id, buyer_id, status, last_lat, last_lng, last_seen,
			 pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, eta_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.OrderID, t.CourierID, t.SellerID, t.BuyerID, t.Status, t.LastLat, t.LastLng, t.LastSeen,
		t.PickupLat, t.PickupLng, t.DropoffLat, t.DropoffLng, t.ETAMinutes).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("création suivi: %w", err)
	}
	return nil
}

func (s *ScyllaStore) GetTracking(ctx context.Context, orderID gocql.UUID) (models.DeliveryTracking, error) {
	var t models.DeliveryTracking
	t.OrderID = orderID

	err := s.session.Query(`
		SELECT courier_id, seller_id, buyer_id, status, last_lat, last_lng, last_seen,
		       pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, eta_minutes
		FROM delivery_tracking WHERE order_id = ?
	`, orderID).WithContext(ctx).Scan(
		&t.CourierID, &t.SellerID, &t.BuyerID, &t.Status, &t.LastLat, &t.LastLng, &t.LastSeen,
		&t.PickupLat, &t.PickupLng, &t.DropoffLat, &t.DropoffLng, &t.ETAMinutes)

	if err == gocql.ErrNotFound {
		return models.DeliveryTracking{}, ErrOrderNotFound
	}
	if err != nil {
		return models.DeliveryTracking{}, fmt.Errorf("lecture suivi: %w", err)
	}
	return t, nil
}

func (s *ScyllaStore) UpdateTrackingStatus(ctx context.Context, orderID gocql.UUID, status string) error {
	err := s.session.Query(`
		UPDATE delivery_tracking SET status = ? WHERE order_id = ?
	`, status, orderID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("statut suivi: %w", err)
	}
	return nil
}
