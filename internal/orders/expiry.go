package orders

import (
	"context"
	"log"
	"time"
)

// RunExpirySweeper lance le balayage périodique des commandes expirées.
// Bloque jusqu'à annulation du contexte ; à lancer dans sa propre goroutine.
func RunExpirySweeper(ctx context.Context, ledger *Ledger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("⏰ Balayage des expirations démarré (toutes les %s)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("⏰ Balayage des expirations arrêté")
			return
		case <-ticker.C:
			if _, err := ledger.ExpireStale(ctx); err != nil {
				log.Printf("❌ Erreur balayage expirations: %v", err)
			}
		}
	}
}
