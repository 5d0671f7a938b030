package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
)

func newTestEscrow(store *memStore) *Escrow {
	e := New(store)
	e.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	e.sleep = func(time.Duration) {} // pas d'attente réelle dans les tests
	return e
}

func TestHoldDebiteAcheteur(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 15000)
	e := newTestEscrow(store)
	orderID := gocql.TimeUUID()

	tx, err := e.Hold(context.Background(), "buyer-1", 10100, "XAF", orderID)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if got := store.balance("buyer-1", "XAF"); got != 4900 {
		t.Errorf("solde acheteur = %d, attendu 4900", got)
	}
	if tx.EscrowState != models.EscrowStateHeld || !tx.EscrowEnabled {
		t.Errorf("transaction non marquée escrow held: %+v", tx)
	}
	if tx.Status != models.TxStatusCompleted {
		t.Errorf("statut = %s, attendu completed", tx.Status)
	}
}

func TestHoldSoldeInsuffisant(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 500)
	e := newTestEscrow(store)

	_, err := e.Hold(context.Background(), "buyer-1", 10100, "XAF", gocql.TimeUUID())
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("attendu ErrInsufficientFunds, reçu %v", err)
	}
	if got := store.balance("buyer-1", "XAF"); got != 500 {
		t.Errorf("le solde ne doit pas bouger, = %d", got)
	}
}

func TestHoldMontantInvalide(t *testing.T) {
	e := newTestEscrow(newMemStore())
	if _, err := e.Hold(context.Background(), "buyer-1", 0, "XAF", gocql.TimeUUID()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("attendu ErrInvalidAmount, reçu %v", err)
	}
}

// Scénario du flux complet : sous-total 10 000, fee 1% → hold 10 100,
// livraison → vendeur 10 000, plateforme 100.
func TestReleaseSansAffilie(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 20000)
	e := newTestEscrow(store)
	orderID := gocql.TimeUUID()

	if _, err := e.Hold(context.Background(), "buyer-1", 10100, "XAF", orderID); err != nil {
		t.Fatalf("Hold: %v", err)
	}

	split := ReleaseSplit{SellerID: "seller-1", SellerNet: 10000, PlatformNet: 100, Currency: "XAF"}
	if err := e.Release(context.Background(), orderID, split); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if got := store.balance("seller-1", "XAF"); got != 10000 {
		t.Errorf("solde vendeur = %d, attendu 10000", got)
	}
	if got := store.balance(PlatformAccountID, "XAF"); got != 100 {
		t.Errorf("solde plateforme = %d, attendu 100", got)
	}
	if got := store.balance("buyer-1", "XAF"); got != 9900 {
		t.Errorf("solde acheteur = %d, attendu 9900", got)
	}
}

func TestReleaseAvecAffilie(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 20000)
	e := newTestEscrow(store)
	orderID := gocql.TimeUUID()
	affiliate := "affiliate-1"

	if _, err := e.Hold(context.Background(), "buyer-1", 10100, "XAF", orderID); err != nil {
		t.Fatalf("Hold: %v", err)
	}

	split := ReleaseSplit{
		SellerID:            "seller-1",
		AffiliateID:         &affiliate,
		SellerNet:           10000,
		AffiliateCommission: 50,
		PlatformNet:         50,
		Currency:            "XAF",
	}
	if err := e.Release(context.Background(), orderID, split); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if got := store.balance("affiliate-1", "XAF"); got != 50 {
		t.Errorf("solde affilié = %d, attendu 50", got)
	}
	if got := store.balance(PlatformAccountID, "XAF"); got != 50 {
		t.Errorf("solde plateforme = %d, attendu 50", got)
	}
	if got := store.balance("seller-1", "XAF"); got != 10000 {
		t.Errorf("solde vendeur = %d, attendu 10000", got)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 20000)
	e := newTestEscrow(store)
	orderID := gocql.TimeUUID()

	if _, err := e.Hold(context.Background(), "buyer-1", 10100, "XAF", orderID); err != nil {
		t.Fatalf("Hold: %v", err)
	}

	split := ReleaseSplit{SellerID: "seller-1", SellerNet: 10000, PlatformNet: 100, Currency: "XAF"}
	if err := e.Release(context.Background(), orderID, split); err != nil {
		t.Fatalf("premier Release: %v", err)
	}
	if err := e.Release(context.Background(), orderID, split); err != nil {
		t.Fatalf("second Release doit être un succès silencieux: %v", err)
	}

	if got := store.balance("seller-1", "XAF"); got != 10000 {
		t.Errorf("double crédit vendeur détecté: %d", got)
	}
	if got := store.balance(PlatformAccountID, "XAF"); got != 100 {
		t.Errorf("double crédit plateforme détecté: %d", got)
	}
}

func TestRefundRendLesFonds(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 20000)
	e := newTestEscrow(store)
	orderID := gocql.TimeUUID()

	if _, err := e.Hold(context.Background(), "buyer-1", 10100, "XAF", orderID); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if err := e.Refund(context.Background(), orderID); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	if got := store.balance("buyer-1", "XAF"); got != 20000 {
		t.Errorf("solde acheteur = %d, attendu 20000 (remboursement intégral)", got)
	}
	if got := store.balance("seller-1", "XAF"); got != 0 {
		t.Errorf("le vendeur ne doit rien recevoir, = %d", got)
	}
}

func TestRefundIdempotent(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 20000)
	e := newTestEscrow(store)
	orderID := gocql.TimeUUID()

	if _, err := e.Hold(context.Background(), "buyer-1", 10100, "XAF", orderID); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if err := e.Refund(context.Background(), orderID); err != nil {
		t.Fatalf("premier Refund: %v", err)
	}
	if err := e.Refund(context.Background(), orderID); err != nil {
		t.Fatalf("second Refund doit être un succès silencieux: %v", err)
	}

	if got := store.balance("buyer-1", "XAF"); got != 20000 {
		t.Errorf("double remboursement détecté: %d", got)
	}
}

func TestRefundApresReleaseEstNoOp(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 20000)
	e := newTestEscrow(store)
	orderID := gocql.TimeUUID()

	if _, err := e.Hold(context.Background(), "buyer-1", 10100, "XAF", orderID); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	split := ReleaseSplit{SellerID: "seller-1", SellerNet: 10000, PlatformNet: 100, Currency: "XAF"}
	if err := e.Release(context.Background(), orderID, split); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// L'escrow n'est plus held : le refund ne recrédite pas l'acheteur
	if err := e.Refund(context.Background(), orderID); err != nil {
		t.Fatalf("Refund après Release: %v", err)
	}
	if got := store.balance("buyer-1", "XAF"); got != 9900 {
		t.Errorf("solde acheteur = %d, attendu 9900", got)
	}
}

func TestFundPuisSettleSucces(t *testing.T) {
	store := newMemStore()
	e := newTestEscrow(store)

	tx, err := e.Fund(context.Background(), "user-1", 5000, "XAF", "pi_abc123")
	if err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if tx.Status != models.TxStatusPending {
		t.Errorf("statut = %s, attendu pending", tx.Status)
	}
	if got := store.balance("user-1", "XAF"); got != 0 {
		t.Errorf("aucun crédit avant Settle, solde = %d", got)
	}

	if err := e.Settle(context.Background(), "pi_abc123", true); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if got := store.balance("user-1", "XAF"); got != 5000 {
		t.Errorf("solde = %d, attendu 5000", got)
	}
}

func TestSettleRejeu(t *testing.T) {
	store := newMemStore()
	e := newTestEscrow(store)

	if _, err := e.Fund(context.Background(), "user-1", 5000, "XAF", "pi_abc123"); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if err := e.Settle(context.Background(), "pi_abc123", true); err != nil {
		t.Fatalf("premier Settle: %v", err)
	}
	// Rejeu du prestataire : même solde qu'après un seul traitement
	if err := e.Settle(context.Background(), "pi_abc123", true); err != nil {
		t.Fatalf("rejeu Settle: %v", err)
	}
	if got := store.balance("user-1", "XAF"); got != 5000 {
		t.Errorf("rejeu a modifié le solde: %d", got)
	}
}

func TestSettleEchecSansCredit(t *testing.T) {
	store := newMemStore()
	e := newTestEscrow(store)

	if _, err := e.Fund(context.Background(), "user-1", 5000, "XAF", "pi_fail"); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if err := e.Settle(context.Background(), "pi_fail", false); err != nil {
		t.Fatalf("Settle échec: %v", err)
	}
	if got := store.balance("user-1", "XAF"); got != 0 {
		t.Errorf("échec prestataire ne doit rien créditer, solde = %d", got)
	}
	tx, err := store.GetTransactionByRef(context.Background(), "pi_fail")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if tx.Status != models.TxStatusFailed {
		t.Errorf("statut = %s, attendu failed", tx.Status)
	}
}

func TestFundReferenceDupliquee(t *testing.T) {
	e := newTestEscrow(newMemStore())

	if _, err := e.Fund(context.Background(), "user-1", 5000, "XAF", "pi_dup"); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if _, err := e.Fund(context.Background(), "user-1", 5000, "XAF", "pi_dup"); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("attendu ErrDuplicateReference, reçu %v", err)
	}
}

func TestTransferPourboire(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 2000)
	e := newTestEscrow(store)
	orderID := gocql.TimeUUID()

	if err := e.Transfer(context.Background(), "buyer-1", "courier-1", 500, "XAF", models.TxPurposeTip, &orderID); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := store.balance("buyer-1", "XAF"); got != 1500 {
		t.Errorf("solde acheteur = %d, attendu 1500", got)
	}
	if got := store.balance("courier-1", "XAF"); got != 500 {
		t.Errorf("solde coursier = %d, attendu 500", got)
	}
}

func TestCASRetryPuisConflit(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 10000)
	e := newTestEscrow(store)

	// 2 échecs CAS puis succès : le retry borné doit absorber la contention
	store.casFailures = 2
	if _, err := e.Hold(context.Background(), "buyer-1", 1000, "XAF", gocql.TimeUUID()); err != nil {
		t.Fatalf("Hold avec contention transitoire: %v", err)
	}
	if got := store.balance("buyer-1", "XAF"); got != 9000 {
		t.Errorf("solde = %d, attendu 9000", got)
	}

	// Contention permanente : ErrConflict après épuisement des tentatives
	store.casFailures = 10
	if _, err := e.Hold(context.Background(), "buyer-1", 1000, "XAF", gocql.TimeUUID()); !errors.Is(err, ErrConflict) {
		t.Fatalf("attendu ErrConflict, reçu %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	store := newMemStore()
	store.seed("seller-1", "XAF", 10000)
	e := newTestEscrow(store)

	tx, err := e.Withdraw(context.Background(), "seller-1", 4000, "XAF", "wd_001")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if tx.Status != models.TxStatusPending || tx.Purpose != models.TxPurposeWithdrawal {
		t.Errorf("transaction retrait inattendue: %+v", tx)
	}
	if got := store.balance("seller-1", "XAF"); got != 6000 {
		t.Errorf("solde = %d, attendu 6000", got)
	}

	// Solde insuffisant après le premier retrait
	if _, err := e.Withdraw(context.Background(), "seller-1", 7000, "XAF", "wd_002"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("attendu ErrInsufficientFunds, reçu %v", err)
	}
}

// Le solde d'un wallet est toujours la somme des crédits complétés moins les
// débits complétés, jamais négatif, quelle que soit la séquence.
func TestProprieteSoldeCoherent(t *testing.T) {
	store := newMemStore()
	store.seed("buyer-1", "XAF", 50000)
	e := newTestEscrow(store)

	orders := make([]gocql.UUID, 4)
	for i := range orders {
		orders[i] = gocql.TimeUUID()
		if _, err := e.Hold(context.Background(), "buyer-1", 10000, "XAF", orders[i]); err != nil {
			t.Fatalf("Hold %d: %v", i, err)
		}
	}

	split := ReleaseSplit{SellerID: "seller-1", SellerNet: 9900, PlatformNet: 100, Currency: "XAF"}
	_ = e.Release(context.Background(), orders[0], split)
	_ = e.Refund(context.Background(), orders[1])
	_ = e.Release(context.Background(), orders[2], split)
	_ = e.Refund(context.Background(), orders[3])
	// rejeux
	_ = e.Release(context.Background(), orders[0], split)
	_ = e.Refund(context.Background(), orders[3])

	// 50000 - 4×10000 + 2×10000 (refunds) = 30000
	if got := store.balance("buyer-1", "XAF"); got != 30000 {
		t.Errorf("solde acheteur = %d, attendu 30000", got)
	}
	if got := store.balance("seller-1", "XAF"); got != 19800 {
		t.Errorf("solde vendeur = %d, attendu 19800", got)
	}
	if got := store.balance(PlatformAccountID, "XAF"); got != 200 {
		t.Errorf("solde plateforme = %d, attendu 200", got)
	}
}
