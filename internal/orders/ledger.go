package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"kiloba_back_end/internal/commission"
	"kiloba_back_end/internal/models"
	"kiloba_back_end/internal/qrtoken"
	"kiloba_back_end/internal/wallet"

	"github.com/gocql/gocql"
)

// Politiques de disposition des commandes expirées
const (
	ExpiredPolicyRefund  = "refund"  // fonds rendus à l'acheteur (défaut)
	ExpiredPolicyForfeit = "forfeit" // fonds réglés comme une livraison
)

// EscrowService — surface du wallet utilisée par le ledger
type EscrowService interface {
	Hold(ctx context.Context, buyerID string, amount int64, currency string, orderID gocql.UUID) (models.WalletTransaction, error)
	Release(ctx context.Context, orderID gocql.UUID, split wallet.ReleaseSplit) error
	Refund(ctx context.Context, orderID gocql.UUID) error
}

// TokenService — surface du validateur QR utilisée par le ledger
type TokenService interface {
	Issue(ctx context.Context, orderID gocql.UUID, expiresAt time.Time) (qrtoken.Token, error)
	Consume(ctx context.Context, value string, expectedOrder gocql.UUID, stage, actorRole string) error
	Invalidate(ctx context.Context, value string) error
}

// Config du ledger, chargée depuis l'environnement
type Config struct {
	PlatformFeeBps    int           // part plateforme sur le sous-total
	AffiliateShareBps int           // part affilié sur la commission plateforme
	OrderTTL          time.Duration // expiration des commandes (3 mois)
	ExpiredPolicy     string        // refund | forfeit
}

// LoadConfig lit la configuration du ledger depuis les variables d'environnement
func LoadConfig() Config {
	cfg := Config{
		PlatformFeeBps:    100,  // 1%
		AffiliateShareBps: 5000, // 50% du fee
		OrderTTL:          3 * 30 * 24 * time.Hour,
		ExpiredPolicy:     ExpiredPolicyRefund,
	}
	if v, err := strconv.Atoi(os.Getenv("PLATFORM_FEE_BPS")); err == nil && v >= 0 {
		cfg.PlatformFeeBps = v
	}
	if v, err := strconv.Atoi(os.Getenv("AFFILIATE_SHARE_BPS")); err == nil && v >= 0 {
		cfg.AffiliateShareBps = v
	}
	if p := os.Getenv("EXPIRED_ORDER_POLICY"); p == ExpiredPolicyForfeit {
		cfg.ExpiredPolicy = ExpiredPolicyForfeit
	}
	return cfg
}

// Ledger — propriétaire du cycle de vie des commandes. Lui seul crée des
// commandes et fait évoluer statut et état escrow, sur confirmation des
// scans QR. Machine d'états : PLACED → PICKED → DELIVERED, et
// {PLACED, PICKED} → CANCELLED. Aucune transition ne revient en arrière.
type Ledger struct {
	store    Store
	escrow   EscrowService
	tokens   TokenService
	products ProductSource
	notifier Notifier
	cfg      Config
	nowFunc  func() time.Time
}

func NewLedger(store Store, escrow EscrowService, tokens TokenService, products ProductSource, notifier Notifier, cfg Config) *Ledger {
	return &Ledger{
		store:    store,
		escrow:   escrow,
		tokens:   tokens,
		products: products,
		notifier: notifier,
		cfg:      cfg,
		nowFunc:  time.Now,
	}
}

// PlaceOrderItem — article demandé à la création de commande
type PlaceOrderItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// PlaceOrder valide les articles, calcule les montants, retient les fonds de
// l'acheteur et crée la commande PLACED avec son jeton QR. Le hold et la
// création forment une unité logique : toute écriture ratée après le hold est
// compensée par un remboursement immédiat.
func (l *Ledger) PlaceOrder(ctx context.Context, buyerID, sellerID string, items []PlaceOrderItem, currency string, affiliateID *string) (models.Order, qrtoken.Token, error) {
	if len(items) == 0 {
		return models.Order{}, qrtoken.Token{}, fmt.Errorf("%w: aucun article", ErrInvalidItems)
	}

	// Snapshot des prix catalogue au moment de la commande — les changements
	// de prix ultérieurs ne touchent jamais une commande placée.
	var orderItems []models.OrderItem
	var subtotal int64
	for _, it := range items {
		if it.Quantity <= 0 {
			return models.Order{}, qrtoken.Token{}, fmt.Errorf("%w: quantité %d", ErrInvalidItems, it.Quantity)
		}
		p, err := l.products.GetProduct(ctx, it.ProductID)
		if err != nil || !p.Active {
			return models.Order{}, qrtoken.Token{}, fmt.Errorf("%w: produit %s", ErrInvalidItems, it.ProductID)
		}
		if p.SellerID != sellerID {
			return models.Order{}, qrtoken.Token{}, fmt.Errorf("%w: produit %s appartient à %s", ErrSellerMismatch, it.ProductID, p.SellerID)
		}
		if p.Currency != currency {
			return models.Order{}, qrtoken.Token{}, fmt.Errorf("%w: devise produit %s", ErrInvalidItems, p.Currency)
		}
		orderItems = append(orderItems, models.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.UnitPrice,
			Currency:  p.Currency,
		})
		subtotal += p.UnitPrice * int64(it.Quantity)
	}

	shareBps := 0
	if affiliateID != nil {
		shareBps = l.cfg.AffiliateShareBps
	}
	amounts, err := commission.Compute(subtotal, l.cfg.PlatformFeeBps, shareBps)
	if err != nil {
		return models.Order{}, qrtoken.Token{}, fmt.Errorf("%w: %v", ErrInvalidItems, err)
	}

	now := l.nowFunc()
	orderID := gocql.TimeUUID()

	// 1. Retenir les fonds — échec = commande jamais créée
	if _, err := l.escrow.Hold(ctx, buyerID, amounts.Total, currency, orderID); err != nil {
		return models.Order{}, qrtoken.Token{}, err
	}

	// 2. Émettre le jeton QR, 3. persister la commande. Toute erreur après le
	// hold déclenche la compensation.
	tok, err := l.tokens.Issue(ctx, orderID, now.Add(l.cfg.OrderTTL))
	if err != nil {
		l.compensateHold(ctx, orderID)
		return models.Order{}, qrtoken.Token{}, fmt.Errorf("émission jeton: %w", err)
	}

	order := models.Order{
		ID:                  orderID,
		BuyerID:             buyerID,
		SellerID:            sellerID,
		AffiliateID:         affiliateID,
		Currency:            currency,
		Subtotal:            amounts.Subtotal,
		PlatformFee:         amounts.PlatformFee,
		AffiliateCommission: amounts.AffiliateCommission,
		Total:               amounts.Total,
		Status:              models.OrderStatusPlaced,
		EscrowState:         models.EscrowStateHeld,
		QRToken:             tok.Value,
		QRRef:               tok.Ref,
		Items:               orderItems,
		CreatedAt:           now,
		ExpiresAt:           now.Add(l.cfg.OrderTTL),
	}
	if err := l.store.InsertOrder(ctx, order); err != nil {
		l.compensateHold(ctx, orderID)
		_ = l.tokens.Invalidate(ctx, tok.Value)
		return models.Order{}, qrtoken.Token{}, fmt.Errorf("persistance commande: %w", err)
	}

	log.Printf("🛒 Commande %s placée: %d %s retenus (acheteur %s, vendeur %s)",
		orderID, amounts.Total, currency, buyerID, sellerID)
	return order, tok, nil
}

// AssignCourier crée le suivi de livraison une fois un coursier retenu
func (l *Ledger) AssignCourier(ctx context.Context, orderID gocql.UUID, courierID string, pickupLat, pickupLng, dropLat, dropLng float64, etaMinutes int) error {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPlaced {
		return ErrWrongStage
	}

	t := models.DeliveryTracking{
		OrderID:    orderID,
		CourierID:  courierID,
		SellerID:   order.SellerID,
		BuyerID:    order.BuyerID,
		Status:     models.TrackingStatusAssigned,
		PickupLat:  pickupLat,
		PickupLng:  pickupLng,
		DropoffLat: dropLat,
		DropoffLng: dropLng,
		ETAMinutes: etaMinutes,
	}
	if err := l.store.CreateTracking(ctx, t); err != nil {
		return fmt.Errorf("création suivi: %w", err)
	}

	log.Printf("🛵 Coursier %s assigné à la commande %s", courierID, orderID)
	return nil
}

// ConfirmPickup — scan du QR par le coursier assigné. PLACED → PICKED.
func (l *Ledger) ConfirmPickup(ctx context.Context, courierID, courierRole string, orderID gocql.UUID, token string) error {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPlaced {
		return ErrWrongStage
	}

	// Une assignation existante réserve le retrait au coursier désigné ;
	// sans assignation, tout rôle de livraison peut scanner
	if tr, terr := l.store.GetTracking(ctx, orderID); terr == nil && tr.CourierID != "" && tr.CourierID != courierID {
		return qrtoken.ErrRoleMismatch
	}

	if err := l.tokens.Consume(ctx, token, orderID, qrtoken.StagePickup, courierRole); err != nil {
		return err
	}

	applied, err := l.store.TransitionStatus(ctx, orderID, models.OrderStatusPlaced, models.OrderStatusPicked)
	if err != nil {
		return fmt.Errorf("transition PLACED→PICKED: %w", err)
	}
	if !applied {
		return ErrWrongStage
	}

	// Suivi best-effort : la commande avance même sans tracking préalable
	if err := l.store.UpdateTrackingStatus(ctx, orderID, models.TrackingStatusPickedUp); err != nil {
		log.Printf("⚠️ Mise à jour tracking impossible pour %s: %v", orderID, err)
	}

	l.notify(ctx, order.BuyerID, "Colis récupéré",
		"Votre commande a été prise en charge par le livreur", "pickup", orderID)
	log.Printf("📦 Pickup confirmé pour commande %s par %s", orderID, courierID)
	return nil
}

// ConfirmDelivery — scan final par l'acheteur d'origine. PICKED → DELIVERED,
// puis libération de l'escrow. Une seconde confirmation sur une commande déjà
// livrée est un succès silencieux (tolérance aux retransmissions).
func (l *Ledger) ConfirmDelivery(ctx context.Context, buyerID string, orderID gocql.UUID, token string) error {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == models.OrderStatusDelivered {
		// Rejeu d'un scan déjà réglé. Si le règlement escrow avait échoué
		// après la transition de statut, c'est ici qu'on le rattrape : la
		// garde LWT du règlement rend la relance sûre.
		if order.EscrowState == models.EscrowStateHeld {
			if err := l.releaseEscrow(ctx, order); err != nil {
				return err
			}
			log.Printf("🩹 Règlement escrow rattrapé pour commande %s", orderID)
			return nil
		}
		log.Printf("🔁 Commande %s déjà livrée, confirmation ignorée", orderID)
		return nil
	}
	if buyerID != order.BuyerID {
		return qrtoken.ErrRoleMismatch
	}
	if order.Status != models.OrderStatusPicked {
		return ErrWrongStage
	}

	if err := l.tokens.Consume(ctx, token, orderID, qrtoken.StageDelivery, models.RoleBuyer); err != nil {
		return err
	}

	applied, err := l.store.TransitionStatus(ctx, orderID, models.OrderStatusPicked, models.OrderStatusDelivered)
	if err != nil {
		return fmt.Errorf("transition PICKED→DELIVERED: %w", err)
	}
	if !applied {
		// Course avec une autre confirmation : livrée = succès idempotent,
		// règlement rattrapé si l'autre confirmation l'a laissé en plan
		cur, rerr := l.store.GetOrder(ctx, orderID)
		if rerr == nil && cur.Status == models.OrderStatusDelivered {
			if cur.EscrowState == models.EscrowStateHeld {
				return l.releaseEscrow(ctx, cur)
			}
			return nil
		}
		return ErrWrongStage
	}

	if err := l.releaseEscrow(ctx, order); err != nil {
		return err
	}

	if err := l.store.UpdateTrackingStatus(ctx, orderID, models.TrackingStatusDelivered); err != nil {
		log.Printf("⚠️ Mise à jour tracking impossible pour %s: %v", orderID, err)
	}

	l.notify(ctx, order.SellerID, "Commande livrée",
		"La livraison est confirmée, vos fonds ont été libérés", "delivery", orderID)
	l.notify(ctx, order.BuyerID, "Livraison confirmée",
		"Merci d'avoir confirmé la réception de votre commande", "delivery", orderID)
	log.Printf("🎉 Commande %s livrée et réglée", orderID)
	return nil
}

// Cancel annule une commande encore en cours et rend les fonds à l'acheteur.
// Autorisé à l'acheteur, au vendeur et aux admins, uniquement en PLACED/PICKED.
func (l *Ledger) Cancel(ctx context.Context, actorID, actorRole string, orderID gocql.UUID, reason string) error {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if actorRole != models.RoleAdmin && actorID != order.BuyerID && actorID != order.SellerID {
		return ErrForbidden
	}
	if order.Status == models.OrderStatusCancelled {
		// Rejeu d'une annulation : seul le remboursement resté en plan est
		// rejoué, la garde LWT neutralise tout double crédit
		if err := l.refundCancelled(ctx, order); err != nil {
			return err
		}
		_ = l.tokens.Invalidate(ctx, order.QRToken)
		return nil
	}
	if order.Status != models.OrderStatusPlaced && order.Status != models.OrderStatusPicked {
		return ErrWrongStage
	}

	applied, err := l.store.TransitionStatus(ctx, orderID, order.Status, models.OrderStatusCancelled)
	if err != nil {
		return fmt.Errorf("transition vers CANCELLED: %w", err)
	}
	if !applied {
		cur, rerr := l.store.GetOrder(ctx, orderID)
		if rerr == nil && cur.Status == models.OrderStatusCancelled {
			return l.refundCancelled(ctx, cur)
		}
		return ErrWrongStage
	}

	if err := l.refundCancelled(ctx, order); err != nil {
		return err
	}
	_ = l.tokens.Invalidate(ctx, order.QRToken)
	if err := l.store.UpdateTrackingStatus(ctx, orderID, models.TrackingStatusCancelled); err != nil {
		log.Printf("⚠️ Mise à jour tracking impossible pour %s: %v", orderID, err)
	}

	l.notify(ctx, order.BuyerID, "Commande annulée",
		fmt.Sprintf("Votre commande a été annulée (%s), fonds remboursés", reason), "cancel", orderID)
	log.Printf("🚫 Commande %s annulée par %s (%s)", orderID, actorID, reason)
	return nil
}

// ExpireStale balaie les commandes PLACED/PICKED dont l'expiration est
// dépassée et leur applique la politique configurée. Retourne le nombre de
// commandes traitées.
func (l *Ledger) ExpireStale(ctx context.Context) (int, error) {
	now := l.nowFunc()
	expired, err := l.store.ListExpired(ctx, now, 200)
	if err != nil {
		return 0, fmt.Errorf("recherche commandes expirées: %w", err)
	}

	count := 0
	for _, order := range expired {
		applied, err := l.store.TransitionStatus(ctx, order.ID, order.Status, models.OrderStatusCancelled)
		if err != nil || !applied {
			continue
		}

		switch l.cfg.ExpiredPolicy {
		case ExpiredPolicyForfeit:
			// Le vendeur est réglé comme si la livraison avait été confirmée
			if err := l.releaseEscrow(ctx, order); err != nil {
				log.Printf("❌ Forfeit impossible pour %s: %v", order.ID, err)
				continue
			}
		default:
			if err := l.refundCancelled(ctx, order); err != nil {
				log.Printf("❌ Remboursement expiration impossible pour %s: %v", order.ID, err)
				continue
			}
		}

		_ = l.tokens.Invalidate(ctx, order.QRToken)
		l.notify(ctx, order.BuyerID, "Commande expirée",
			"Votre commande a expiré après 3 mois sans livraison confirmée", "expired", order.ID)
		count++
	}

	// Rattrapage : commandes terminées dont le règlement escrow avait échoué
	// après la transition de statut. Sans ce passage, un échec de
	// Release/Refund les laisserait retenues pour toujours.
	stranded, err := l.store.ListStrandedHeld(ctx, 200)
	if err != nil {
		log.Printf("⚠️ Recherche des escrows en souffrance impossible: %v", err)
		return count, nil
	}
	for _, order := range stranded {
		var serr error
		switch order.Status {
		case models.OrderStatusDelivered:
			serr = l.releaseEscrow(ctx, order)
		case models.OrderStatusCancelled:
			serr = l.refundCancelled(ctx, order)
		}
		if serr != nil {
			log.Printf("❌ Rattrapage escrow impossible pour %s: %v", order.ID, serr)
			continue
		}
		log.Printf("🩹 Escrow en souffrance réglé pour commande %s (%s)", order.ID, order.Status)
		count++
	}

	if count > 0 {
		log.Printf("🧹 Balayage expiration: %d commande(s) traitée(s) [politique %s]", count, l.cfg.ExpiredPolicy)
	}
	return count, nil
}

// refundCancelled rejoue le remboursement d'une commande annulée tant que
// l'escrow est encore retenu. No-op si le règlement a déjà abouti.
func (l *Ledger) refundCancelled(ctx context.Context, order models.Order) error {
	if order.EscrowState != models.EscrowStateHeld {
		return nil
	}
	if err := l.escrow.Refund(ctx, order.ID); err != nil {
		return err
	}
	if err := l.store.SetEscrowState(ctx, order.ID, models.EscrowStateRefunded, l.nowFunc()); err != nil {
		log.Printf("⚠️ État escrow non figé pour %s: %v", order.ID, err)
	}
	return nil
}

// GetOrder expose une commande en lecture (vérification d'accès côté handler)
func (l *Ledger) GetOrder(ctx context.Context, orderID gocql.UUID) (models.Order, error) {
	return l.store.GetOrder(ctx, orderID)
}

// ListByBuyer retourne les commandes d'un acheteur, plus récentes d'abord
func (l *Ledger) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]models.Order, error) {
	return l.store.ListByBuyer(ctx, buyerID, limit)
}

// GetTracking expose le suivi de livraison d'une commande
func (l *Ledger) GetTracking(ctx context.Context, orderID gocql.UUID) (models.DeliveryTracking, error) {
	return l.store.GetTracking(ctx, orderID)
}

func (l *Ledger) releaseEscrow(ctx context.Context, order models.Order) error {
	split := wallet.ReleaseSplit{
		SellerID:            order.SellerID,
		AffiliateID:         order.AffiliateID,
		SellerNet:           order.Subtotal,
		AffiliateCommission: order.AffiliateCommission,
		PlatformNet:         order.PlatformFee - order.AffiliateCommission,
		Currency:            order.Currency,
	}
	if err := l.escrow.Release(ctx, order.ID, split); err != nil {
		return err
	}
	if err := l.store.SetEscrowState(ctx, order.ID, models.EscrowStateReleased, l.nowFunc()); err != nil {
		log.Printf("⚠️ État escrow non figé pour %s: %v", order.ID, err)
	}
	if order.AffiliateID != nil && order.AffiliateCommission > 0 {
		l.notify(ctx, *order.AffiliateID, "Commission créditée",
			"Votre commission d'affiliation a été créditée", "release", order.ID)
	}
	return nil
}

func (l *Ledger) notify(ctx context.Context, userID, title, message, kind string, orderID gocql.UUID) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, userID, title, message, kind, map[string]string{"order_id": orderID.String()})
}

// Erreurs re-exportées pour que les handlers ne dépendent que du ledger
var (
	ErrInsufficientFunds = wallet.ErrInsufficientFunds
	ErrConflict          = wallet.ErrConflict
)

// IsBusinessErr indique si l'erreur relève d'un refus métier (4xx) plutôt que
// d'une défaillance technique
func IsBusinessErr(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrInvalidItems) ||
		errors.Is(err, ErrSellerMismatch) ||
		errors.Is(err, ErrWrongStage) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, qrtoken.ErrInvalidToken) ||
		errors.Is(err, qrtoken.ErrRoleMismatch) ||
		errors.Is(err, qrtoken.ErrAlreadyConsumed) ||
		errors.Is(err, qrtoken.ErrExpired)
}

func (l *Ledger) compensateHold(ctx context.Context, orderID gocql.UUID) {
	if err := l.escrow.Refund(ctx, orderID); err != nil {
		log.Printf("❌ Compensation du hold impossible pour commande %s: %v", orderID, err)
	}
}
