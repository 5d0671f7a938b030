package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kiloba_back_end/internal/models"
	"kiloba_back_end/internal/qrtoken"
	"kiloba_back_end/internal/wallet"

	"github.com/gocql/gocql"
)

// ---- fakes -----------------------------------------------------------------

type memOrderStore struct {
	mu       sync.Mutex
	orders   map[gocql.UUID]*models.Order
	tracking map[gocql.UUID]*models.DeliveryTracking
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{
		orders:   make(map[gocql.UUID]*models.Order),
		tracking: make(map[gocql.UUID]*models.DeliveryTracking),
	}
}

func (s *memOrderStore) InsertOrder(_ context.Context, o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := o
	s.orders[o.ID] = &cp
	return nil
}

func (s *memOrderStore) GetOrder(_ context.Context, id gocql.UUID) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrOrderNotFound
	}
	return *o, nil
}

func (s *memOrderStore) ListByBuyer(_ context.Context, buyerID string, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memOrderStore) TransitionStatus(_ context.Context, id gocql.UUID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (s *memOrderStore) SetEscrowState(_ context.Context, id gocql.UUID, state string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.EscrowState = state
		o.ReleasedAt = &at
	}
	return nil
}

func (s *memOrderStore) ListExpired(_ context.Context, now time.Time, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if (o.Status == models.OrderStatusPlaced || o.Status == models.OrderStatusPicked) && o.ExpiresAt.Before(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memOrderStore) ListStrandedHeld(_ context.Context, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.EscrowState == models.EscrowStateHeld &&
			(o.Status == models.OrderStatusDelivered || o.Status == models.OrderStatusCancelled) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memOrderStore) CreateTracking(_ context.Context, t models.DeliveryTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.tracking[t.OrderID] = &cp
	return nil
}

func (s *memOrderStore) GetTracking(_ context.Context, id gocql.UUID) (models.DeliveryTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracking[id]
	if !ok {
		return models.DeliveryTracking{}, ErrOrderNotFound
	}
	return *t, nil
}

func (s *memOrderStore) UpdateTrackingStatus(_ context.Context, id gocql.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracking[id]; ok {
		t.Status = status
	}
	return nil
}

// fakeEscrow tient un état held/released/refunded par commande et crédite des
// soldes en mémoire, avec la même idempotence que le vrai moteur.
type fakeEscrow struct {
	mu           sync.Mutex
	balances     map[string]int64 // userID → solde
	held         map[gocql.UUID]int64
	state        map[gocql.UUID]string
	failHold     bool
	failReleases int // nombre de prochains Release à faire échouer
	failRefunds  int // idem pour Refund
	releases     int
	refunds      int
}

func newFakeEscrow(balances map[string]int64) *fakeEscrow {
	if balances == nil {
		balances = make(map[string]int64)
	}
	return &fakeEscrow{
		balances: balances,
		held:     make(map[gocql.UUID]int64),
		state:    make(map[gocql.UUID]string),
	}
}

func (f *fakeEscrow) Hold(_ context.Context, buyerID string, amount int64, currency string, orderID gocql.UUID) (models.WalletTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHold {
		return models.WalletTransaction{}, wallet.ErrConflict
	}
	if f.balances[buyerID] < amount {
		return models.WalletTransaction{}, wallet.ErrInsufficientFunds
	}
	f.balances[buyerID] -= amount
	f.held[orderID] = amount
	f.state[orderID] = models.EscrowStateHeld
	return models.WalletTransaction{Amount: amount, Currency: currency}, nil
}

func (f *fakeEscrow) Release(_ context.Context, orderID gocql.UUID, split wallet.ReleaseSplit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReleases > 0 {
		f.failReleases--
		return errors.New("règlement indisponible")
	}
	if f.state[orderID] != models.EscrowStateHeld {
		return nil // déjà réglé, no-op
	}
	f.state[orderID] = models.EscrowStateReleased
	f.balances[split.SellerID] += split.SellerNet
	if split.AffiliateID != nil && split.AffiliateCommission > 0 {
		f.balances[*split.AffiliateID] += split.AffiliateCommission
	}
	f.balances["platform"] += split.PlatformNet
	f.releases++
	return nil
}

func (f *fakeEscrow) Refund(_ context.Context, orderID gocql.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefunds > 0 {
		f.failRefunds--
		return errors.New("remboursement indisponible")
	}
	if f.state[orderID] != models.EscrowStateHeld {
		return nil
	}
	f.state[orderID] = models.EscrowStateRefunded
	// le hold connaît l'acheteur via la commande ; ici on rend au compte "buyer"
	f.balances["buyer"] += f.held[orderID]
	f.refunds++
	return nil
}

type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*qrtoken.Token
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: make(map[string]*qrtoken.Token)}
}

func (s *memTokenStore) InsertToken(_ context.Context, t qrtoken.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.tokens[t.Value] = &cp
	return nil
}

func (s *memTokenStore) GetToken(_ context.Context, value string) (qrtoken.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok {
		return qrtoken.Token{}, qrtoken.ErrInvalidToken
	}
	return *t, nil
}

func (s *memTokenStore) ConsumeStage(_ context.Context, value, stage string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok {
		return false, nil
	}
	switch stage {
	case qrtoken.StagePickup:
		if t.PickupConsumed {
			return false, nil
		}
		t.PickupConsumed = true
	case qrtoken.StageDelivery:
		if t.DeliveryConsumed {
			return false, nil
		}
		t.DeliveryConsumed = true
	}
	return true, nil
}

func (s *memTokenStore) Deactivate(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[value]; ok {
		t.Active = false
	}
	return nil
}

type fakeCatalog struct {
	products map[string]models.Product
}

func (f *fakeCatalog) GetProduct(_ context.Context, id string) (models.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return models.Product{}, errors.New("produit introuvable")
	}
	return p, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *recordingNotifier) Notify(_ context.Context, userID, title, message, kind string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

// ---- harnais ---------------------------------------------------------------

type ledgerFixture struct {
	ledger   *Ledger
	store    *memOrderStore
	escrow   *fakeEscrow
	notifier *recordingNotifier
	now      time.Time
}

func newLedgerFixture(t *testing.T, buyerBalance int64) *ledgerFixture {
	t.Helper()
	catalog := &fakeCatalog{products: map[string]models.Product{
		"prod-1": {ID: "prod-1", SellerID: "seller", Name: "Sac artisanal", UnitPrice: 10000, Currency: "XAF", Active: true},
		"prod-2": {ID: "prod-2", SellerID: "seller", Name: "Épices", UnitPrice: 2500, Currency: "XAF", Active: true},
		"prod-off": {ID: "prod-off", SellerID: "seller", Name: "Retiré", UnitPrice: 500, Currency: "XAF", Active: false},
		"prod-other": {ID: "prod-other", SellerID: "autre-vendeur", Name: "Tissu", UnitPrice: 3000, Currency: "XAF", Active: true},
	}}

	store := newMemOrderStore()
	escrow := newFakeEscrow(map[string]int64{"buyer": buyerBalance})
	notifier := &recordingNotifier{}
	fx := &ledgerFixture{
		store:    store,
		escrow:   escrow,
		notifier: notifier,
		// Horloge ancrée sur le présent : le validateur de jetons garde sa
		// propre horloge système, les jetons émis doivent rester valides
		// pour lui quelle que soit la date d'exécution
		now: time.Now().UTC().Truncate(time.Second),
	}

	cfg := Config{
		PlatformFeeBps:    100,
		AffiliateShareBps: 5000,
		OrderTTL:          3 * 30 * 24 * time.Hour,
		ExpiredPolicy:     ExpiredPolicyRefund,
	}
	fx.ledger = NewLedger(store, escrow, qrtoken.NewValidator(newMemTokenStore()), catalog, notifier, cfg)
	fx.ledger.nowFunc = func() time.Time { return fx.now }
	return fx
}

func (fx *ledgerFixture) place(t *testing.T, affiliateID *string) (models.Order, qrtoken.Token) {
	t.Helper()
	order, tok, err := fx.ledger.PlaceOrder(context.Background(), "buyer", "seller",
		[]PlaceOrderItem{{ProductID: "prod-1", Quantity: 1}}, "XAF", affiliateID)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return order, tok
}

// ---- tests -----------------------------------------------------------------

func TestPlaceOrderHoldsFunds(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)

	if order.Status != models.OrderStatusPlaced {
		t.Fatalf("statut = %s, attendu PLACED", order.Status)
	}
	if order.EscrowState != models.EscrowStateHeld {
		t.Fatalf("escrow = %s, attendu held", order.EscrowState)
	}
	if order.Subtotal != 10000 || order.PlatformFee != 100 || order.Total != 10100 {
		t.Fatalf("montants inattendus: %+v", order)
	}
	if fx.escrow.balances["buyer"] != 50000-10100 {
		t.Fatalf("solde acheteur = %d", fx.escrow.balances["buyer"])
	}
	if tok.Value == "" || tok.Ref == "" {
		t.Fatal("jeton QR manquant")
	}
	if order.ExpiresAt.Sub(order.CreatedAt) != 3*30*24*time.Hour {
		t.Fatalf("expiration inattendue: %s", order.ExpiresAt)
	}
}

func TestPlaceOrderMultipleItems(t *testing.T) {
	fx := newLedgerFixture(t, 100000)
	order, _, err := fx.ledger.PlaceOrder(context.Background(), "buyer", "seller",
		[]PlaceOrderItem{{ProductID: "prod-1", Quantity: 2}, {ProductID: "prod-2", Quantity: 4}}, "XAF", nil)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	// 2×10000 + 4×2500 = 30000, fee 1% = 300
	if order.Subtotal != 30000 || order.Total != 30300 {
		t.Fatalf("sous-total = %d, total = %d", order.Subtotal, order.Total)
	}
	if len(order.Items) != 2 || order.Items[0].UnitPrice != 10000 {
		t.Fatalf("snapshot articles inattendu: %+v", order.Items)
	}
}

func TestPlaceOrderInsufficientFunds(t *testing.T) {
	fx := newLedgerFixture(t, 5000)
	_, _, err := fx.ledger.PlaceOrder(context.Background(), "buyer", "seller",
		[]PlaceOrderItem{{ProductID: "prod-1", Quantity: 1}}, "XAF", nil)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, attendu ErrInsufficientFunds", err)
	}
	if len(fx.store.orders) != 0 {
		t.Fatal("aucune commande ne devait être créée")
	}
	if fx.escrow.balances["buyer"] != 5000 {
		t.Fatalf("solde acheteur modifié: %d", fx.escrow.balances["buyer"])
	}
}

func TestPlaceOrderRejectsBadItems(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	cases := []struct {
		name  string
		items []PlaceOrderItem
		want  error
	}{
		{"aucun article", nil, ErrInvalidItems},
		{"quantité nulle", []PlaceOrderItem{{ProductID: "prod-1", Quantity: 0}}, ErrInvalidItems},
		{"produit inactif", []PlaceOrderItem{{ProductID: "prod-off", Quantity: 1}}, ErrInvalidItems},
		{"produit inconnu", []PlaceOrderItem{{ProductID: "nope", Quantity: 1}}, ErrInvalidItems},
		{"autre vendeur", []PlaceOrderItem{{ProductID: "prod-other", Quantity: 1}}, ErrSellerMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := fx.ledger.PlaceOrder(context.Background(), "buyer", "seller", tc.items, "XAF", nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, attendu %v", err, tc.want)
			}
		})
	}
	if fx.escrow.balances["buyer"] != 50000 {
		t.Fatalf("solde acheteur modifié: %d", fx.escrow.balances["buyer"])
	}
}

func TestFullDeliveryFlowWithAffiliate(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	aff := "affiliate"
	order, tok := fx.place(t, &aff)
	ctx := context.Background()

	if err := fx.ledger.ConfirmPickup(ctx, "courier-1", models.RoleCourier, order.ID, tok.Value); err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}
	got, _ := fx.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderStatusPicked {
		t.Fatalf("statut = %s, attendu PICKED", got.Status)
	}

	if err := fx.ledger.ConfirmDelivery(ctx, "buyer", order.ID, tok.Value); err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	got, _ = fx.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderStatusDelivered {
		t.Fatalf("statut = %s, attendu DELIVERED", got.Status)
	}
	if got.EscrowState != models.EscrowStateReleased {
		t.Fatalf("escrow = %s, attendu released", got.EscrowState)
	}

	// 10000 au vendeur, fee 100 partagé 50/50 entre affilié et plateforme
	if fx.escrow.balances["seller"] != 10000 {
		t.Fatalf("solde vendeur = %d", fx.escrow.balances["seller"])
	}
	if fx.escrow.balances["affiliate"] != 50 {
		t.Fatalf("solde affilié = %d", fx.escrow.balances["affiliate"])
	}
	if fx.escrow.balances["platform"] != 50 {
		t.Fatalf("solde plateforme = %d", fx.escrow.balances["platform"])
	}
}

func TestPickupRejectsNonDeliveryRole(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)
	ctx := context.Background()

	for _, role := range []string{models.RoleBuyer, models.RoleSeller, models.RoleAdmin} {
		if err := fx.ledger.ConfirmPickup(ctx, "x", role, order.ID, tok.Value); !errors.Is(err, qrtoken.ErrRoleMismatch) {
			t.Fatalf("rôle %s: err = %v, attendu ErrRoleMismatch", role, err)
		}
	}

	// Les refus ne consomment pas l'étape : un vrai coursier passe ensuite
	got, _ := fx.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderStatusPlaced {
		t.Fatalf("statut = %s, la commande ne devait pas bouger", got.Status)
	}
	if err := fx.ledger.ConfirmPickup(ctx, "moto-1", models.RoleMotoTaxi, order.ID, tok.Value); err != nil {
		t.Fatalf("pickup moto_taxi après refus: %v", err)
	}
}

func TestDeliveryBeforePickupRejected(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)

	err := fx.ledger.ConfirmDelivery(context.Background(), "buyer", order.ID, tok.Value)
	if !errors.Is(err, ErrWrongStage) {
		t.Fatalf("err = %v, attendu ErrWrongStage", err)
	}
	if fx.escrow.releases != 0 {
		t.Fatal("aucune libération ne devait avoir lieu")
	}
}

func TestDeliveryByWrongBuyerRejected(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)
	ctx := context.Background()
	if err := fx.ledger.ConfirmPickup(ctx, "courier-1", models.RoleCourier, order.ID, tok.Value); err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}

	err := fx.ledger.ConfirmDelivery(ctx, "intrus", order.ID, tok.Value)
	if !errors.Is(err, qrtoken.ErrRoleMismatch) {
		t.Fatalf("err = %v, attendu ErrRoleMismatch", err)
	}
	// l'acheteur légitime confirme ensuite sans problème
	if err := fx.ledger.ConfirmDelivery(ctx, "buyer", order.ID, tok.Value); err != nil {
		t.Fatalf("confirmation légitime: %v", err)
	}
}

func TestDoubleDeliveryIsIdempotent(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)
	ctx := context.Background()
	if err := fx.ledger.ConfirmPickup(ctx, "courier-1", models.RoleCourier, order.ID, tok.Value); err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}
	if err := fx.ledger.ConfirmDelivery(ctx, "buyer", order.ID, tok.Value); err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}

	// Retransmission du même scan : succès silencieux, pas de double crédit
	if err := fx.ledger.ConfirmDelivery(ctx, "buyer", order.ID, tok.Value); err != nil {
		t.Fatalf("seconde confirmation: %v", err)
	}
	if fx.escrow.releases != 1 {
		t.Fatalf("libérations = %d, attendu 1", fx.escrow.releases)
	}
	if fx.escrow.balances["seller"] != 10000 {
		t.Fatalf("solde vendeur = %d, double crédit ?", fx.escrow.balances["seller"])
	}
}

func TestDoublePickupRejected(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)
	ctx := context.Background()
	if err := fx.ledger.ConfirmPickup(ctx, "courier-1", models.RoleCourier, order.ID, tok.Value); err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}
	err := fx.ledger.ConfirmPickup(ctx, "courier-2", models.RoleCourier, order.ID, tok.Value)
	if !errors.Is(err, ErrWrongStage) && !errors.Is(err, qrtoken.ErrAlreadyConsumed) {
		t.Fatalf("err = %v, attendu refus du second pickup", err)
	}
}

func TestCancelRefundsBuyer(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, _ := fx.place(t, nil)
	ctx := context.Background()

	if err := fx.ledger.Cancel(ctx, "buyer", models.RoleBuyer, order.ID, "changement d'avis"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := fx.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderStatusCancelled {
		t.Fatalf("statut = %s, attendu CANCELLED", got.Status)
	}
	if got.EscrowState != models.EscrowStateRefunded {
		t.Fatalf("escrow = %s, attendu refunded", got.EscrowState)
	}
	if fx.escrow.balances["buyer"] != 50000 {
		t.Fatalf("solde acheteur = %d, attendu remboursement intégral", fx.escrow.balances["buyer"])
	}
}

func TestCancelPermissions(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, _ := fx.place(t, nil)
	ctx := context.Background()

	if err := fx.ledger.Cancel(ctx, "intrus", models.RoleCourier, order.ID, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, attendu ErrForbidden", err)
	}
	if err := fx.ledger.Cancel(ctx, "ops", models.RoleAdmin, order.ID, "litige"); err != nil {
		t.Fatalf("annulation admin: %v", err)
	}
}

func TestCancelDeliveredRejected(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)
	ctx := context.Background()
	if err := fx.ledger.ConfirmPickup(ctx, "courier-1", models.RoleCourier, order.ID, tok.Value); err != nil {
		t.Fatal(err)
	}
	if err := fx.ledger.ConfirmDelivery(ctx, "buyer", order.ID, tok.Value); err != nil {
		t.Fatal(err)
	}

	err := fx.ledger.Cancel(ctx, "buyer", models.RoleBuyer, order.ID, "trop tard")
	if !errors.Is(err, ErrWrongStage) {
		t.Fatalf("err = %v, attendu ErrWrongStage", err)
	}
	// les fonds réglés restent réglés
	if fx.escrow.balances["seller"] != 10000 {
		t.Fatalf("solde vendeur = %d", fx.escrow.balances["seller"])
	}
}

func TestCancelInvalidatesToken(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)
	ctx := context.Background()
	if err := fx.ledger.Cancel(ctx, "buyer", models.RoleBuyer, order.ID, "annulation"); err != nil {
		t.Fatal(err)
	}
	err := fx.ledger.ConfirmPickup(ctx, "courier-1", models.RoleCourier, order.ID, tok.Value)
	if !errors.Is(err, ErrWrongStage) {
		t.Fatalf("err = %v, le jeton d'une commande annulée ne doit plus servir", err)
	}
}

func TestExpireStaleRefundPolicy(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, _ := fx.place(t, nil)

	fx.now = fx.now.Add(3*30*24*time.Hour + time.Hour)
	n, err := fx.ledger.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("traitées = %d, attendu 1", n)
	}
	got, _ := fx.store.GetOrder(context.Background(), order.ID)
	if got.Status != models.OrderStatusCancelled || got.EscrowState != models.EscrowStateRefunded {
		t.Fatalf("statut = %s escrow = %s", got.Status, got.EscrowState)
	}
	if fx.escrow.balances["buyer"] != 50000 {
		t.Fatalf("solde acheteur = %d", fx.escrow.balances["buyer"])
	}

	// second balayage : plus rien à traiter
	n, err = fx.ledger.ExpireStale(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second balayage: n=%d err=%v", n, err)
	}
}

func TestExpireStaleForfeitPolicy(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	fx.ledger.cfg.ExpiredPolicy = ExpiredPolicyForfeit
	order, _ := fx.place(t, nil)

	fx.now = fx.now.Add(3*30*24*time.Hour + time.Hour)
	if _, err := fx.ledger.ExpireStale(context.Background()); err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	got, _ := fx.store.GetOrder(context.Background(), order.ID)
	if got.EscrowState != models.EscrowStateReleased {
		t.Fatalf("escrow = %s, attendu released", got.EscrowState)
	}
	if fx.escrow.balances["seller"] != 10000 || fx.escrow.balances["platform"] != 100 {
		t.Fatalf("règlement forfeit incorrect: vendeur=%d plateforme=%d",
			fx.escrow.balances["seller"], fx.escrow.balances["platform"])
	}
	if fx.escrow.balances["buyer"] != 50000-10100 {
		t.Fatalf("l'acheteur ne devait pas être remboursé: %d", fx.escrow.balances["buyer"])
	}
}

func TestPickupByUnassignedCourierRejected(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)
	ctx := context.Background()
	if err := fx.ledger.AssignCourier(ctx, order.ID, "courier-assigne", 4.05, 9.70, 4.06, 9.75, 18); err != nil {
		t.Fatalf("AssignCourier: %v", err)
	}

	// Même avec un rôle de livraison valide, un autre coursier est refusé
	err := fx.ledger.ConfirmPickup(ctx, "courier-intrus", models.RoleCourier, order.ID, tok.Value)
	if !errors.Is(err, qrtoken.ErrRoleMismatch) {
		t.Fatalf("err = %v, attendu ErrRoleMismatch", err)
	}
	got, _ := fx.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderStatusPlaced {
		t.Fatalf("statut = %s, la commande ne devait pas bouger", got.Status)
	}

	if err := fx.ledger.ConfirmPickup(ctx, "courier-assigne", models.RoleCourier, order.ID, tok.Value); err != nil {
		t.Fatalf("pickup du coursier assigné: %v", err)
	}
}

func TestDeliveryRetryAfterReleaseFailure(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, tok := fx.place(t, nil)
	ctx := context.Background()
	if err := fx.ledger.ConfirmPickup(ctx, "courier-1", models.RoleCourier, order.ID, tok.Value); err != nil {
		t.Fatal(err)
	}

	// Le règlement tombe en panne après la transition PICKED→DELIVERED
	fx.escrow.failReleases = 1
	if err := fx.ledger.ConfirmDelivery(ctx, "buyer", order.ID, tok.Value); err == nil {
		t.Fatal("la première confirmation devait échouer sur le règlement")
	}
	got, _ := fx.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderStatusDelivered {
		t.Fatalf("statut = %s, attendu DELIVERED", got.Status)
	}
	if fx.escrow.balances["seller"] != 0 {
		t.Fatalf("solde vendeur = %d avant rattrapage", fx.escrow.balances["seller"])
	}

	// Le rejeu du scan rattrape le règlement au lieu de s'arrêter au statut
	if err := fx.ledger.ConfirmDelivery(ctx, "buyer", order.ID, tok.Value); err != nil {
		t.Fatalf("rejeu: %v", err)
	}
	if fx.escrow.balances["seller"] != 10000 {
		t.Fatalf("solde vendeur = %d, attendu 10000", fx.escrow.balances["seller"])
	}
	if fx.escrow.releases != 1 {
		t.Fatalf("libérations = %d, attendu 1", fx.escrow.releases)
	}
	got, _ = fx.store.GetOrder(ctx, order.ID)
	if got.EscrowState != models.EscrowStateReleased {
		t.Fatalf("escrow = %s, attendu released", got.EscrowState)
	}
}

func TestCancelRetryAfterRefundFailure(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, _ := fx.place(t, nil)
	ctx := context.Background()

	fx.escrow.failRefunds = 1
	if err := fx.ledger.Cancel(ctx, "buyer", models.RoleBuyer, order.ID, "panne"); err == nil {
		t.Fatal("la première annulation devait échouer sur le remboursement")
	}
	got, _ := fx.store.GetOrder(ctx, order.ID)
	if got.Status != models.OrderStatusCancelled {
		t.Fatalf("statut = %s, attendu CANCELLED", got.Status)
	}

	// Le rejeu de l'annulation rejoue le remboursement resté en plan
	if err := fx.ledger.Cancel(ctx, "buyer", models.RoleBuyer, order.ID, "panne"); err != nil {
		t.Fatalf("rejeu annulation: %v", err)
	}
	if fx.escrow.balances["buyer"] != 50000 {
		t.Fatalf("solde acheteur = %d, attendu remboursement intégral", fx.escrow.balances["buyer"])
	}
	if fx.escrow.refunds != 1 {
		t.Fatalf("remboursements = %d, attendu 1", fx.escrow.refunds)
	}
}

func TestExpireStaleRecoversStrandedEscrow(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, _ := fx.place(t, nil)

	// Les deux tentatives du premier balayage échouent : la commande passe
	// CANCELLED mais l'escrow reste retenu
	fx.now = fx.now.Add(3*30*24*time.Hour + time.Hour)
	fx.escrow.failRefunds = 2
	n, err := fx.ledger.ExpireStale(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("premier balayage: n=%d err=%v", n, err)
	}
	got, _ := fx.store.GetOrder(context.Background(), order.ID)
	if got.Status != models.OrderStatusCancelled {
		t.Fatalf("statut = %s, attendu CANCELLED", got.Status)
	}

	// La commande est sortie du filtre d'expiration (déjà CANCELLED), mais le
	// balayage suivant la retrouve via son escrow en souffrance
	n, err = fx.ledger.ExpireStale(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("second balayage: n=%d err=%v", n, err)
	}
	if fx.escrow.balances["buyer"] != 50000 {
		t.Fatalf("solde acheteur = %d, attendu remboursement intégral", fx.escrow.balances["buyer"])
	}
	got, _ = fx.store.GetOrder(context.Background(), order.ID)
	if got.EscrowState != models.EscrowStateRefunded {
		t.Fatalf("escrow = %s, attendu refunded", got.EscrowState)
	}
}

func TestAssignCourierCreatesTracking(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	order, _ := fx.place(t, nil)
	ctx := context.Background()

	if err := fx.ledger.AssignCourier(ctx, order.ID, "courier-1", 4.05, 9.70, 4.06, 9.75, 18); err != nil {
		t.Fatalf("AssignCourier: %v", err)
	}
	tr, err := fx.ledger.GetTracking(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetTracking: %v", err)
	}
	if tr.CourierID != "courier-1" || tr.Status != models.TrackingStatusAssigned {
		t.Fatalf("tracking inattendu: %+v", tr)
	}
}

func TestNotificationsEmitted(t *testing.T) {
	fx := newLedgerFixture(t, 50000)
	aff := "affiliate"
	order, tok := fx.place(t, &aff)
	ctx := context.Background()

	if err := fx.ledger.ConfirmPickup(ctx, "courier-1", models.RoleCourier, order.ID, tok.Value); err != nil {
		t.Fatal(err)
	}
	if err := fx.ledger.ConfirmDelivery(ctx, "buyer", order.ID, tok.Value); err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{"pickup": false, "delivery": false, "release": false}
	for _, k := range fx.notifier.kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("notification %q jamais émise (reçues: %v)", k, fx.notifier.kinds)
		}
	}
}
