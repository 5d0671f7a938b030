package qrtoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

// Étapes de remise couvertes par un même jeton. Le jeton est unique par
// commande et autorise les deux scans ; c'est le rôle de l'acteur qui
// distingue pickup et livraison, pas la valeur du jeton.
const (
	StagePickup   = "pickup"
	StageDelivery = "delivery"
)

var (
	ErrInvalidToken    = errors.New("jeton invalide ou inconnu pour cette commande")
	ErrRoleMismatch    = errors.New("rôle non autorisé pour cette étape")
	ErrAlreadyConsumed = errors.New("étape déjà confirmée avec ce jeton")
	ErrExpired         = errors.New("jeton expiré ou révoqué")
)

// Token — jeton de remise actif, lié à exactement une commande
type Token struct {
	Value            string     `json:"token"`
	Ref              string     `json:"ref"` // référence opaque affichable
	OrderID          gocql.UUID `json:"order_id"`
	PickupConsumed   bool       `json:"pickup_consumed"`
	DeliveryConsumed bool       `json:"delivery_consumed"`
	Active           bool       `json:"active"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

// Store — persistance des jetons
type Store interface {
	InsertToken(ctx context.Context, t Token) error
	GetToken(ctx context.Context, value string) (Token, error) // ErrInvalidToken si absent
	// ConsumeStage marque l'étape comme consommée. Retourne false si elle
	// l'était déjà (garde LWT).
	ConsumeStage(ctx context.Context, value, stage string) (bool, error)
	Deactivate(ctx context.Context, value string) error
}

// Validator — émission et consommation des jetons QR de remise
type Validator struct {
	store   Store
	nowFunc func() time.Time
}

func NewValidator(store Store) *Validator {
	return &Validator{store: store, nowFunc: time.Now}
}

// Issue génère un jeton imprévisible (32 octets d'entropie) valable pour les
// deux étapes, avec l'expiration de la commande comme propre expiration.
func (v *Validator) Issue(ctx context.Context, orderID gocql.UUID, expiresAt time.Time) (Token, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, fmt.Errorf("entropie jeton: %w", err)
	}

	t := Token{
		Value:     base64.RawURLEncoding.EncodeToString(raw),
		Ref:       "KLB-" + strings.ToUpper(uuid.NewString()[:8]),
		OrderID:   orderID,
		Active:    true,
		ExpiresAt: expiresAt,
	}
	if err := v.store.InsertToken(ctx, t); err != nil {
		return Token{}, fmt.Errorf("enregistrement jeton: %w", err)
	}

	log.Printf("🎫 Jeton de remise émis pour commande %s (ref %s)", orderID, t.Ref)
	return t, nil
}

// Consume valide un scan. Ordre des vérifications : liaison commande, vie du
// jeton, rôle de l'acteur, puis unicité de l'étape — aucun état n'est modifié
// avant la garde finale.
func (v *Validator) Consume(ctx context.Context, value string, expectedOrder gocql.UUID, stage, actorRole string) error {
	t, err := v.store.GetToken(ctx, value)
	if err != nil {
		return err
	}
	if t.OrderID != expectedOrder {
		return ErrInvalidToken
	}
	if !t.Active || v.nowFunc().After(t.ExpiresAt) {
		return ErrExpired
	}

	switch stage {
	case StagePickup:
		if !models.IsDeliveryRole(actorRole) {
			return ErrRoleMismatch
		}
		if t.PickupConsumed {
			return ErrAlreadyConsumed
		}
	case StageDelivery:
		if actorRole != models.RoleBuyer {
			return ErrRoleMismatch
		}
		if t.DeliveryConsumed {
			return ErrAlreadyConsumed
		}
	default:
		return fmt.Errorf("étape inconnue: %s", stage)
	}

	won, err := v.store.ConsumeStage(ctx, value, stage)
	if err != nil {
		return fmt.Errorf("consommation étape %s: %w", stage, err)
	}
	if !won {
		return ErrAlreadyConsumed
	}

	log.Printf("✅ Étape %s confirmée pour commande %s", stage, expectedOrder)
	return nil
}

// Invalidate révoque le jeton (annulation de commande)
func (v *Validator) Invalidate(ctx context.Context, value string) error {
	return v.store.Deactivate(ctx, value)
}

// EncodePNG rend le jeton en image QR. Le format est un détail de
// présentation, pas une propriété de sécurité.
func EncodePNG(value string) ([]byte, error) {
	return qrcode.Encode(value, qrcode.Medium, 256)
}
