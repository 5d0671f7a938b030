package models

import (
	"time"

	"github.com/gocql/gocql"
)

// Statuts de commande — transitions monotones, jamais de retour en arrière
const (
	OrderStatusPlaced    = "PLACED"
	OrderStatusPicked    = "PICKED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

// États escrow d'une commande
const (
	EscrowStateHeld     = "held"
	EscrowStateReleased = "released"
	EscrowStateRefunded = "refunded"
)

type Order struct {
	ID                  gocql.UUID  `json:"id" db:"order_id"`
	BuyerID             string      `json:"buyer_id" db:"buyer_id"`
	SellerID            string      `json:"seller_id" db:"seller_id"`
	AffiliateID         *string     `json:"affiliate_id,omitempty" db:"affiliate_id"`
	Currency            string      `json:"currency" db:"currency"`
	Subtotal            int64       `json:"subtotal" db:"subtotal"`                         // centimes
	PlatformFee         int64       `json:"platform_fee" db:"platform_fee"`                 // centimes
	AffiliateCommission int64       `json:"affiliate_commission" db:"affiliate_commission"` // centimes, ≤ platform_fee
	Total               int64       `json:"total" db:"total"`                               // subtotal + platform_fee
	Status              string      `json:"status" db:"status"`
	EscrowState         string      `json:"escrow_state" db:"escrow_state"`
	ReleasedAt          *time.Time  `json:"released_at,omitempty" db:"released_at"`
	QRToken             string      `json:"-" db:"qr_token"`
	QRRef               string      `json:"qr_ref" db:"qr_ref"`
	Items               []OrderItem `json:"items"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt           time.Time   `json:"expires_at" db:"expires_at"`
}

// OrderItem — snapshot du prix au moment de la commande, immuable une fois PLACED
type OrderItem struct {
	ProductID string `json:"product_id" db:"product_id"`
	Name      string `json:"name" db:"name"`
	Quantity  int    `json:"quantity" db:"quantity"`
	UnitPrice int64  `json:"unit_price" db:"unit_price"` // centimes
	Currency  string `json:"currency" db:"currency"`
}

// EscrowHeld indique si des fonds sont encore retenus sur la commande
func (o *Order) EscrowHeld() bool {
	return o.EscrowState == EscrowStateHeld
}

// Terminal indique si la commande est dans un état final
func (o *Order) Terminal() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCancelled
}
