package proximity

import (
	"math"
	"sort"
	"time"

	"kiloba_back_end/internal/models"
)

// Rayon terrestre moyen utilisé pour le grand cercle
const EarthRadiusKm = 6371.0

// Vitesses moyennes par mode (km/h) — ETA indicatif uniquement, jamais
// utilisé pour la facturation ni les SLA.
var speedKmhByRole = map[string]float64{
	models.RoleCourier:  25.0,
	models.RoleMotoTaxi: 35.0,
	models.RoleFreight:  50.0,
}

const defaultSpeedKmh = 25.0

// Origin — point de référence du classement
type Origin struct {
	Latitude  float64
	Longitude float64
}

// HaversineKm calcule la distance grand cercle entre deux points en km
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180.0
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Rank classe les candidats par distance croissante depuis l'origine.
//   - les positions plus vieilles que maxStaleness sont exclues
//   - les candidats hors ligne ou au-delà de maxDistanceKm sont exclus
//   - égalité de distance : meilleure note d'abord, puis temps de réponse le plus bas
//
// Fonction pure sur un snapshot de positions ; le résultat n'est jamais persisté.
func Rank(origin Origin, candidates []models.ServiceProvider, maxDistanceKm float64, maxStaleness time.Duration, now time.Time) []models.ServiceProvider {
	ranked := make([]models.ServiceProvider, 0, len(candidates))

	for _, c := range candidates {
		if !c.Online {
			continue
		}
		age := now.Sub(c.LastSeen)
		if age < 0 || age > maxStaleness {
			continue
		}
		dist := HaversineKm(origin.Latitude, origin.Longitude, c.Latitude, c.Longitude)
		if maxDistanceKm > 0 && dist > maxDistanceKm {
			continue
		}
		c.DistanceKm = dist
		c.StalenessSec = age.Seconds()
		c.ETAMinutes = etaMinutes(dist, c.Role)
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		if ranked[i].Rating != ranked[j].Rating {
			return ranked[i].Rating > ranked[j].Rating
		}
		return ranked[i].AvgResponseSec < ranked[j].AvgResponseSec
	})

	return ranked
}

func etaMinutes(distKm float64, role string) int {
	speed, ok := speedKmhByRole[role]
	if !ok {
		speed = defaultSpeedKmh
	}
	return int(math.Ceil(distKm / speed * 60))
}
