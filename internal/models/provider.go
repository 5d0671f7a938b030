package models

import "time"

// ServiceProvider — vue runtime d'un candidat (coursier, moto-taxi, entrepôt)
// produite par le matcher de proximité. Jamais persistée.
type ServiceProvider struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	LastSeen       time.Time `json:"last_seen"`
	StalenessSec   float64   `json:"staleness_sec"`
	DistanceKm     float64   `json:"distance_km"`
	Rating         float64   `json:"rating"`
	AvgResponseSec float64   `json:"avg_response_sec,omitempty"`
	Online         bool      `json:"online"`
	ETAMinutes     int       `json:"eta_minutes"`
}
