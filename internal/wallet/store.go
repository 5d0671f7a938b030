package wallet

import (
	"context"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
)

// Store — persistance des wallets et de leur historique. L'implémentation
// ScyllaDB vit dans scylla_store.go ; les tests utilisent un fake mémoire.
type Store interface {
	// GetWallet retourne ErrNotFound si le wallet n'existe pas encore
	GetWallet(ctx context.Context, userID, currency string) (models.Wallet, error)

	// CreateWallet crée un wallet à solde nul (no-op s'il existe déjà)
	CreateWallet(ctx context.Context, userID, currency string, now time.Time) error

	// CompareAndSwapBalance écrit newBalance uniquement si la version courante
	// correspond. Retourne false sans erreur en cas de conflit de version.
	CompareAndSwapBalance(ctx context.Context, userID, currency string, newBalance, expectedVersion int64, now time.Time) (bool, error)

	// InsertTransaction ajoute une ligne d'historique
	InsertTransaction(ctx context.Context, tx models.WalletTransaction) error

	// ReserveFundingRef réserve une référence externe unique. Retourne false
	// si la référence est déjà prise (rejeu du prestataire).
	ReserveFundingRef(ctx context.Context, externalRef string, txID gocql.UUID) (bool, error)

	// GetTransactionByRef retrouve la transaction liée à une référence externe
	GetTransactionByRef(ctx context.Context, externalRef string) (models.WalletTransaction, error)

	// GetHeldTransactionByOrder retrouve la transaction escrow active d'une commande
	GetHeldTransactionByOrder(ctx context.Context, orderID gocql.UUID) (models.WalletTransaction, error)

	// SettleEscrow fait passer la transaction escrow de held vers l'état final
	// donné. Retourne false si elle n'était plus held (déjà réglée).
	SettleEscrow(ctx context.Context, txID gocql.UUID, finalState string, now time.Time) (bool, error)

	// CompleteTransaction fait passer une transaction de pending vers completed
	// ou failed. Retourne false si elle n'était plus pending.
	CompleteTransaction(ctx context.Context, txID gocql.UUID, finalStatus string, now time.Time) (bool, error)

	// ListTransactions retourne l'historique d'un utilisateur, plus récent d'abord
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.WalletTransaction, error)
}
