package tracking

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"kiloba_back_end/internal/cache"
	"kiloba_back_end/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gocql/gocql"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Autoriser toutes les origines (à ajuster en production)
		return true
	},
}

// LiveTracking pousse la position du livreur en temps réel à l'acheteur.
// Abonné au canal Redis du livreur assigné à la commande.
func LiveTracking(c *gin.Context) {
	orderID, err := gocql.ParseUUID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant de commande invalide"})
		return
	}

	userID := c.GetString("user_id")
	t, err := ledger.GetTracking(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Suivi introuvable"})
		return
	}
	if userID != t.BuyerID && userID != t.SellerID && c.GetString("role") != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Suivi d'une autre commande"})
		return
	}

	// Upgrade vers WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ Erreur upgrade WebSocket: %v", err)
		return
	}
	defer conn.Close()

	ctx := context.Background()

	// S'abonner aux positions du livreur assigné
	pubsub := cache.RedisClient.Subscribe(ctx, "position:"+t.CourierID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	conn.WriteJSON(map[string]interface{}{
		"type":     "connected",
		"order_id": orderID.String(),
		"status":   t.Status,
	})

	// Boucle d'écoute
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var report models.PositionReport
			if err := json.Unmarshal([]byte(msg.Payload), &report); err != nil {
				continue
			}

			response := map[string]interface{}{
				"type":      "position",
				"latitude":  report.Latitude,
				"longitude": report.Longitude,
				"timestamp": report.Timestamp,
			}
			if err := conn.WriteJSON(response); err != nil {
				log.Printf("❌ Erreur envoi WebSocket: %v", err)
				return
			}
		case <-time.After(30 * time.Second):
			// Ping pour garder la connexion active
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
