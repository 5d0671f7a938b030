package tracking

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"kiloba_back_end/internal/cache"
	"kiloba_back_end/internal/models"
	"kiloba_back_end/internal/orders"
	"kiloba_back_end/internal/proximity"

	"github.com/gin-gonic/gin"
	"github.com/gocql/gocql"
)

var ledger *orders.Ledger

// Init branche le ledger sur les handlers de suivi (appelé au démarrage)
func Init(l *orders.Ledger) {
	ledger = l
}

// ReportPosition enregistre la position GPS du livreur connecté.
// Fire-and-forget : dernière écriture gagne, pas d'historique.
func ReportPosition(c *gin.Context) {
	var report models.PositionReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Position invalide: " + err.Error()})
		return
	}

	userID := c.GetString("user_id")
	role := c.GetString("role")
	if err := cache.StorePosition(userID, role, report); err != nil {
		log.Printf("⚠️ Position non enregistrée pour %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Position non enregistrée"})
		return
	}

	// Publier pour les abonnés temps réel de ce livreur
	payload, _ := json.Marshal(report)
	cache.RedisClient.Publish(c.Request.Context(), "position:"+userID, payload)

	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// NearbyProviders classe les livreurs disponibles autour d'un point.
// Le classement est recalculé à chaque appel sur le snapshot Redis.
func NearbyProviders(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Coordonnées lat/lng requises"})
		return
	}

	role := c.DefaultQuery("role", models.RoleCourier)
	if !models.IsDeliveryRole(role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rôle de livraison inconnu"})
		return
	}
	radiusKm, _ := strconv.ParseFloat(c.DefaultQuery("radius_km", "10"), 64)

	reports, err := cache.ListPositionsByRole(role)
	if err != nil {
		log.Printf("❌ Erreur lecture positions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture positions"})
		return
	}

	now := time.Now()
	candidates := make([]models.ServiceProvider, 0, len(reports))
	for _, r := range reports {
		candidates = append(candidates, models.ServiceProvider{
			ID:        r.UserID,
			Role:      role,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			LastSeen:  r.Timestamp,
			Online:    true,
		})
	}

	ranked := proximity.Rank(proximity.Origin{Latitude: lat, Longitude: lng},
		candidates, radiusKm, cache.PositionMaxAge(), now)

	c.JSON(http.StatusOK, gin.H{"providers": ranked, "count": len(ranked)})
}

// GetTracking retourne l'état de livraison d'une commande
func GetTracking(c *gin.Context) {
	orderID, err := gocql.ParseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant de commande invalide"})
		return
	}

	t, err := ledger.GetTracking(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Suivi introuvable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lecture suivi"})
		return
	}

	userID := c.GetString("user_id")
	role := c.GetString("role")
	if role != models.RoleAdmin && userID != t.BuyerID && userID != t.SellerID && userID != t.CourierID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Suivi d'une autre commande"})
		return
	}

	// Position fraîche du livreur si disponible (on ne sait pas sous quel
	// rôle il publie, on essaie les trois)
	for role := range models.DeliveryRoles {
		if pos, _ := cache.GetPosition(t.CourierID, role); pos != nil {
			t.LastLat = pos.Latitude
			t.LastLng = pos.Longitude
			t.LastSeen = pos.Timestamp
			break
		}
	}

	c.JSON(http.StatusOK, t)
}
