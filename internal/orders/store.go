package orders

import (
	"context"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
)

// Store — persistance des commandes et du suivi de livraison. Seul le ledger
// écrit ici ; statut et état escrow sont les seuls champs mutables.
type Store interface {
	InsertOrder(ctx context.Context, o models.Order) error
	GetOrder(ctx context.Context, orderID gocql.UUID) (models.Order, error) // ErrOrderNotFound si absente
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]models.Order, error)

	// TransitionStatus applique from → to sous garde LWT. Retourne false si le
	// statut courant n'était plus `from`.
	TransitionStatus(ctx context.Context, orderID gocql.UUID, from, to string) (bool, error)

	// SetEscrowState fige l'état escrow de la commande (held → released|refunded)
	SetEscrowState(ctx context.Context, orderID gocql.UUID, state string, at time.Time) error

	// ListExpired retourne les commandes encore PLACED/PICKED dont expires_at
	// est dépassé
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Order, error)

	// ListStrandedHeld retourne les commandes terminées (DELIVERED/CANCELLED)
	// dont l'escrow est resté retenu — règlement échoué après la transition
	ListStrandedHeld(ctx context.Context, limit int) ([]models.Order, error)

	CreateTracking(ctx context.Context, t models.DeliveryTracking) error
	GetTracking(ctx context.Context, orderID gocql.UUID) (models.DeliveryTracking, error)
	UpdateTrackingStatus(ctx context.Context, orderID gocql.UUID, status string) error
}

// ProductSource — vue minimale du catalogue (service externe), juste de quoi
// valider qu'un article référence un produit actif du bon vendeur.
type ProductSource interface {
	GetProduct(ctx context.Context, productID string) (models.Product, error)
}

// Notifier — émission vers le collaborateur push/messaging externe.
// Best-effort : un échec de notification ne fait jamais échouer l'opération.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message, kind string, data map[string]string)
}
