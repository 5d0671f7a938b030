package wallet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
)

// PlatformAccountID — wallet interne de la plateforme, crédité de la part
// du fee qui ne revient pas à l'affilié.
const PlatformAccountID = "platform"

const (
	casMaxRetries = 3
	casRetryDelay = 25 * time.Millisecond
)

// Escrow — moteur de rétention et de règlement des fonds. Toute mutation de
// solde passe par ici ou par le réconciliateur de webhooks, jamais ailleurs.
// La sérialisation par wallet repose sur un CAS optimiste (balance_version) ;
// les rejeux de Release/Refund/Settle sont neutralisés par des gardes LWT.
type Escrow struct {
	store   Store
	nowFunc func() time.Time
	sleep   func(time.Duration)
}

func New(store Store) *Escrow {
	return &Escrow{
		store:   store,
		nowFunc: time.Now,
		sleep:   time.Sleep,
	}
}

// ReleaseSplit — répartition des fonds retenus, calculée par le ledger de
// commandes au moment du placement et jamais re-dérivée ici.
type ReleaseSplit struct {
	SellerID            string
	AffiliateID         *string
	SellerNet           int64
	AffiliateCommission int64
	PlatformNet         int64
	Currency            string
}

// Hold débite l'acheteur et retient les fonds contre la commande.
// Échoue avec ErrInsufficientFunds sans rien écrire si le solde ne suffit pas.
func (e *Escrow) Hold(ctx context.Context, buyerID string, amount int64, currency string, orderID gocql.UUID) (models.WalletTransaction, error) {
	if amount <= 0 {
		return models.WalletTransaction{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	if err := e.adjustBalance(ctx, buyerID, currency, -amount, false); err != nil {
		return models.WalletTransaction{}, err
	}

	now := e.nowFunc()
	tx := models.WalletTransaction{
		ID:              gocql.TimeUUID(),
		FromWallet:      &buyerID,
		Amount:          amount,
		Currency:        currency,
		Purpose:         models.TxPurposePayment,
		Status:          models.TxStatusCompleted,
		EscrowEnabled:   true,
		EscrowCondition: models.EscrowConditionDelivery,
		EscrowState:     models.EscrowStateHeld,
		OrderID:         &orderID,
		CreatedAt:       now,
		CompletedAt:     &now,
	}

	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		// Le débit a eu lieu mais la trace escrow n'a pas pu être écrite :
		// on recrédite immédiatement pour ne jamais laisser de fonds orphelins.
		if compErr := e.adjustBalance(ctx, buyerID, currency, amount, true); compErr != nil {
			log.Printf("❌ Compensation du hold impossible pour %s (commande %s): %v", buyerID, orderID, compErr)
		}
		return models.WalletTransaction{}, fmt.Errorf("écriture transaction hold: %w", err)
	}

	log.Printf("💰 Fonds retenus: %d %s de %s pour commande %s", amount, currency, buyerID, orderID)
	return tx, nil
}

// Release règle la commande : vendeur, affilié éventuel et plateforme sont
// crédités selon le split. Exactly-once : un second appel sur la même commande
// est un succès silencieux, sans nouveau crédit.
func (e *Escrow) Release(ctx context.Context, orderID gocql.UUID, split ReleaseSplit) error {
	held, err := e.store.GetHeldTransactionByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	now := e.nowFunc()
	won, err := e.store.SettleEscrow(ctx, held.ID, models.EscrowStateReleased, now)
	if err != nil {
		return fmt.Errorf("garde de libération: %w", err)
	}
	if !won {
		log.Printf("🔁 Escrow déjà libéré pour commande %s, on ignore", orderID)
		return nil
	}

	if err := e.creditParty(ctx, split.SellerID, split.Currency, split.SellerNet, models.TxPurposePayment, orderID); err != nil {
		return err
	}
	if split.AffiliateID != nil && split.AffiliateCommission > 0 {
		if err := e.creditParty(ctx, *split.AffiliateID, split.Currency, split.AffiliateCommission, models.TxPurposeCommission, orderID); err != nil {
			return err
		}
	}
	if split.PlatformNet > 0 {
		if err := e.creditParty(ctx, PlatformAccountID, split.Currency, split.PlatformNet, models.TxPurposeCommission, orderID); err != nil {
			return err
		}
	}

	log.Printf("✅ Escrow libéré pour commande %s: vendeur %d, affilié %d, plateforme %d",
		orderID, split.SellerNet, split.AffiliateCommission, split.PlatformNet)
	return nil
}

// Refund rend l'intégralité des fonds retenus à l'acheteur. Même discipline
// d'idempotence que Release.
func (e *Escrow) Refund(ctx context.Context, orderID gocql.UUID) error {
	held, err := e.store.GetHeldTransactionByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if held.FromWallet == nil {
		return fmt.Errorf("%w: transaction escrow sans débiteur", ErrNotFound)
	}

	now := e.nowFunc()
	won, err := e.store.SettleEscrow(ctx, held.ID, models.EscrowStateRefunded, now)
	if err != nil {
		return fmt.Errorf("garde de remboursement: %w", err)
	}
	if !won {
		log.Printf("🔁 Escrow déjà remboursé pour commande %s, on ignore", orderID)
		return nil
	}

	if err := e.creditParty(ctx, *held.FromWallet, held.Currency, held.Amount, models.TxPurposeRefund, orderID); err != nil {
		return err
	}

	log.Printf("💸 Remboursement de %d %s vers %s (commande %s)", held.Amount, held.Currency, *held.FromWallet, orderID)
	return nil
}

// Fund enregistre une intention de rechargement externe (statut pending).
// La référence externe est unique : un rejeu du même ref échoue avec
// ErrDuplicateReference sans rien écrire d'autre.
func (e *Escrow) Fund(ctx context.Context, userID string, amount int64, currency, externalRef string) (models.WalletTransaction, error) {
	if amount <= 0 {
		return models.WalletTransaction{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	txID := gocql.TimeUUID()
	reserved, err := e.store.ReserveFundingRef(ctx, externalRef, txID)
	if err != nil {
		return models.WalletTransaction{}, fmt.Errorf("réservation référence: %w", err)
	}
	if !reserved {
		return models.WalletTransaction{}, fmt.Errorf("%w: %s", ErrDuplicateReference, externalRef)
	}

	tx := models.WalletTransaction{
		ID:          txID,
		ToWallet:    &userID,
		Amount:      amount,
		Currency:    currency,
		Purpose:     models.TxPurposePayment,
		Status:      models.TxStatusPending,
		ExternalRef: externalRef,
		CreatedAt:   e.nowFunc(),
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		return models.WalletTransaction{}, fmt.Errorf("écriture transaction funding: %w", err)
	}

	log.Printf("⏳ Rechargement en attente: %d %s pour %s (ref %s)", amount, currency, userID, externalRef)
	return tx, nil
}

// Settle conclut un rechargement sur confirmation du prestataire. Le passage
// pending → completed/failed n'a lieu qu'une fois ; tout rejeu est un no-op.
func (e *Escrow) Settle(ctx context.Context, externalRef string, success bool) error {
	tx, err := e.store.GetTransactionByRef(ctx, externalRef)
	if err != nil {
		return err
	}
	if tx.Status != models.TxStatusPending {
		log.Printf("🔁 Référence %s déjà réglée (%s), on ignore", externalRef, tx.Status)
		return nil
	}

	finalStatus := models.TxStatusFailed
	if success {
		finalStatus = models.TxStatusCompleted
	}

	now := e.nowFunc()
	won, err := e.store.CompleteTransaction(ctx, tx.ID, finalStatus, now)
	if err != nil {
		return fmt.Errorf("transition transaction %s: %w", tx.ID, err)
	}
	if !won {
		log.Printf("🔁 Transaction %s réglée en parallèle, on ignore", tx.ID)
		return nil
	}

	if success && tx.ToWallet != nil {
		if err := e.adjustBalance(ctx, *tx.ToWallet, tx.Currency, tx.Amount, true); err != nil {
			return err
		}
		log.Printf("✅ Rechargement réglé: %d %s crédités sur %s (ref %s)", tx.Amount, tx.Currency, *tx.ToWallet, externalRef)
	} else if !success {
		log.Printf("❌ Rechargement échoué côté prestataire (ref %s), aucun crédit", externalRef)
	}
	return nil
}

// Transfer déplace des fonds entre deux wallets (pourboire au coursier, etc.)
func (e *Escrow) Transfer(ctx context.Context, fromID, toID string, amount int64, currency, purpose string, orderID *gocql.UUID) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	if err := e.adjustBalance(ctx, fromID, currency, -amount, false); err != nil {
		return err
	}
	if err := e.adjustBalance(ctx, toID, currency, amount, true); err != nil {
		// Le débit est final (pas de rollback) : on compense explicitement.
		if compErr := e.adjustBalance(ctx, fromID, currency, amount, true); compErr != nil {
			log.Printf("❌ Compensation transfert %s→%s impossible: %v", fromID, toID, compErr)
		}
		return err
	}

	now := e.nowFunc()
	tx := models.WalletTransaction{
		ID:          gocql.TimeUUID(),
		FromWallet:  &fromID,
		ToWallet:    &toID,
		Amount:      amount,
		Currency:    currency,
		Purpose:     purpose,
		Status:      models.TxStatusCompleted,
		OrderID:     orderID,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		return fmt.Errorf("écriture transfert: %w", err)
	}

	log.Printf("💸 Transfert %s: %d %s de %s vers %s", purpose, amount, currency, fromID, toID)
	return nil
}

// Withdraw débite le wallet et crée une demande de retrait en attente de
// versement externe.
func (e *Escrow) Withdraw(ctx context.Context, userID string, amount int64, currency, externalRef string) (models.WalletTransaction, error) {
	if amount <= 0 {
		return models.WalletTransaction{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	txID := gocql.TimeUUID()
	reserved, err := e.store.ReserveFundingRef(ctx, externalRef, txID)
	if err != nil {
		return models.WalletTransaction{}, fmt.Errorf("réservation référence: %w", err)
	}
	if !reserved {
		return models.WalletTransaction{}, fmt.Errorf("%w: %s", ErrDuplicateReference, externalRef)
	}

	if err := e.adjustBalance(ctx, userID, currency, -amount, false); err != nil {
		return models.WalletTransaction{}, err
	}

	tx := models.WalletTransaction{
		ID:          txID,
		FromWallet:  &userID,
		Amount:      amount,
		Currency:    currency,
		Purpose:     models.TxPurposeWithdrawal,
		Status:      models.TxStatusPending,
		ExternalRef: externalRef,
		CreatedAt:   e.nowFunc(),
	}
	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		if compErr := e.adjustBalance(ctx, userID, currency, amount, true); compErr != nil {
			log.Printf("❌ Compensation retrait impossible pour %s: %v", userID, compErr)
		}
		return models.WalletTransaction{}, fmt.Errorf("écriture retrait: %w", err)
	}

	log.Printf("🏦 Retrait demandé: %d %s par %s (ref %s)", amount, currency, userID, externalRef)
	return tx, nil
}

// Balance retourne le solde courant (0 si le wallet n'existe pas encore)
func (e *Escrow) Balance(ctx context.Context, userID, currency string) (int64, error) {
	w, err := e.store.GetWallet(ctx, userID, currency)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return w.Balance, nil
}

// TransactionByRef retrouve une transaction par sa référence externe
func (e *Escrow) TransactionByRef(ctx context.Context, externalRef string) (models.WalletTransaction, error) {
	return e.store.GetTransactionByRef(ctx, externalRef)
}

// History retourne l'historique de transactions d'un utilisateur
func (e *Escrow) History(ctx context.Context, userID string, limit int) ([]models.WalletTransaction, error) {
	return e.store.ListTransactions(ctx, userID, limit)
}

func (e *Escrow) creditParty(ctx context.Context, userID, currency string, amount int64, purpose string, orderID gocql.UUID) error {
	if err := e.adjustBalance(ctx, userID, currency, amount, true); err != nil {
		return fmt.Errorf("crédit %s: %w", userID, err)
	}
	now := e.nowFunc()
	tx := models.WalletTransaction{
		ID:          gocql.TimeUUID(),
		ToWallet:    &userID,
		Amount:      amount,
		Currency:    currency,
		Purpose:     purpose,
		Status:      models.TxStatusCompleted,
		OrderID:     &orderID,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	return e.store.InsertTransaction(ctx, tx)
}

// adjustBalance applique un delta au solde via CAS optimiste, borné à
// casMaxRetries tentatives avant de rendre ErrConflict. Un delta négatif qui
// ferait passer le solde sous zéro rend ErrInsufficientFunds sans écrire.
func (e *Escrow) adjustBalance(ctx context.Context, userID, currency string, delta int64, createIfMissing bool) error {
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		now := e.nowFunc()

		w, err := e.store.GetWallet(ctx, userID, currency)
		if errors.Is(err, ErrNotFound) {
			if !createIfMissing && delta < 0 {
				return ErrInsufficientFunds
			}
			if err := e.store.CreateWallet(ctx, userID, currency, now); err != nil {
				return fmt.Errorf("création wallet %s/%s: %w", userID, currency, err)
			}
			w, err = e.store.GetWallet(ctx, userID, currency)
		}
		if err != nil {
			return err
		}

		newBalance := w.Balance + delta
		if newBalance < 0 {
			return ErrInsufficientFunds
		}

		ok, err := e.store.CompareAndSwapBalance(ctx, userID, currency, newBalance, w.BalanceVersion, now)
		if err != nil {
			return fmt.Errorf("CAS wallet %s/%s: %w", userID, currency, err)
		}
		if ok {
			return nil
		}

		// Conflit de version : un autre writer est passé avant nous
		e.sleep(casRetryDelay << uint(attempt))
	}
	return ErrConflict
}
