package models

import (
	"time"

	"github.com/gocql/gocql"
)

// Statuts de suivi de livraison
const (
	TrackingStatusAssigned  = "assigned"
	TrackingStatusPickedUp  = "picked_up"
	TrackingStatusInTransit = "in_transit"
	TrackingStatusDelivered = "delivered"
	TrackingStatusCancelled = "cancelled"
)

type DeliveryTracking struct {
	OrderID    gocql.UUID `json:"order_id" db:"order_id"`
	CourierID  string     `json:"courier_id" db:"courier_id"`
	SellerID   string     `json:"seller_id" db:"seller_id"`
	BuyerID    string     `json:"buyer_id" db:"buyer_id"`
	Status     string     `json:"status" db:"status"`
	LastLat    float64    `json:"last_lat" db:"last_lat"`
	LastLng    float64    `json:"last_lng" db:"last_lng"`
	LastSeen   time.Time  `json:"last_seen" db:"last_seen"`
	PickupLat  float64    `json:"pickup_lat" db:"pickup_lat"`
	PickupLng  float64    `json:"pickup_lng" db:"pickup_lng"`
	DropoffLat float64    `json:"dropoff_lat" db:"dropoff_lat"`
	DropoffLng float64    `json:"dropoff_lng" db:"dropoff_lng"`
	ETAMinutes int        `json:"eta_minutes" db:"eta_minutes"`
}

// PositionReport — rapport GPS envoyé par le flux de localisation externe.
// Fire-and-forget, last-write-wins par utilisateur.
type PositionReport struct {
	UserID    string    `json:"user_id"`
	Latitude  float64   `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude float64   `json:"longitude" binding:"required,min=-180,max=180"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
