package main

import (
	"context"
	"log"
	"os"
	"time"

	"kiloba_back_end/internal/cache"
	"kiloba_back_end/internal/config"
	"kiloba_back_end/internal/database"
	"kiloba_back_end/internal/events"
	orderhandler "kiloba_back_end/internal/handlers/order"
	"kiloba_back_end/internal/handlers/payement"
	"kiloba_back_end/internal/handlers/tracking"
	wallethandler "kiloba_back_end/internal/handlers/wallet"
	"kiloba_back_end/internal/orders"
	"kiloba_back_end/internal/payments"
	"kiloba_back_end/internal/qrtoken"
	"kiloba_back_end/internal/routes"
	"kiloba_back_end/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v83"
)

func main() {
	config.Load()

	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		log.Fatal("❌ Impossible d'initialiser Stripe : clé manquante")
	}
	log.Println("✅ Stripe initialisé")

	database.ConnectDatabases()

	if err := cache.InitRedis(); err != nil {
		log.Fatalf("❌ Échec initialisation Redis: %v", err)
	}
	defer cache.CloseRedis()
	defer database.CloseScylla()

	// --- Sessions Scylla par domaine ---
	walletsSession, err := database.GetWalletsSession()
	if err != nil {
		log.Fatalf("❌ Session wallets indisponible: %v", err)
	}
	ordersSession, err := database.GetOrdersSession()
	if err != nil {
		log.Fatalf("❌ Session orders indisponible: %v", err)
	}

	// --- Moteurs métier ---
	escrow := wallet.New(wallet.NewScyllaStore(walletsSession, walletsSession))
	tokens := qrtoken.NewValidator(qrtoken.NewScyllaStore(ordersSession))
	notifier := events.NewProducer()
	defer notifier.Close()

	ledger := orders.NewLedger(
		orders.NewScyllaStore(ordersSession),
		escrow,
		tokens,
		cache.NewCatalogSource(),
		notifier,
		orders.LoadConfig(),
	)
	reconciler := payments.NewReconciler(payments.NewScyllaEventStore(walletsSession), escrow)

	// --- Handlers ---
	orderhandler.Init(ledger, escrow)
	wallethandler.Init(escrow)
	payement.Init(reconciler, escrow)
	tracking.Init(ledger)

	// --- Balayage périodique des commandes expirées ---
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go orders.RunExpirySweeper(sweepCtx, ledger, time.Hour)

	r := gin.Default()
	routes.RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Println("🚀 Serveur Kiloba lancé sur le port", port)
	r.Run(":" + port)
}
