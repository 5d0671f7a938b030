package wallet

import (
	"context"
	"sync"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
)

// memStore — fake mémoire du Store, fidèle à la sémantique LWT/CAS de
// l'implémentation ScyllaDB.
type memStore struct {
	mu       sync.Mutex
	wallets  map[string]*models.Wallet // clé user|currency
	txs      map[gocql.UUID]*models.WalletTransaction
	byRef    map[string]gocql.UUID
	byOrder  map[gocql.UUID][]gocql.UUID
	byUser   map[string][]gocql.UUID

	// casFailures force n échecs CAS consécutifs (simulation de contention)
	casFailures int
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[string]*models.Wallet),
		txs:     make(map[gocql.UUID]*models.WalletTransaction),
		byRef:   make(map[string]gocql.UUID),
		byOrder: make(map[gocql.UUID][]gocql.UUID),
		byUser:  make(map[string][]gocql.UUID),
	}
}

func key(userID, currency string) string { return userID + "|" + currency }

// seed initialise un wallet avec un solde de départ
func (m *memStore) seed(userID, currency string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[key(userID, currency)] = &models.Wallet{
		UserID: userID, Currency: currency, Balance: balance,
	}
}

func (m *memStore) balance(userID, currency string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[key(userID, currency)]; ok {
		return w.Balance
	}
	return 0
}

func (m *memStore) GetWallet(_ context.Context, userID, currency string) (models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[key(userID, currency)]
	if !ok {
		return models.Wallet{}, ErrNotFound
	}
	return *w, nil
}

func (m *memStore) CreateWallet(_ context.Context, userID, currency string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(userID, currency)
	if _, ok := m.wallets[k]; !ok {
		m.wallets[k] = &models.Wallet{UserID: userID, Currency: currency, UpdatedAt: now}
	}
	return nil
}

func (m *memStore) CompareAndSwapBalance(_ context.Context, userID, currency string, newBalance, expectedVersion int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.casFailures > 0 {
		m.casFailures--
		return false, nil
	}
	w, ok := m.wallets[key(userID, currency)]
	if !ok || w.BalanceVersion != expectedVersion {
		return false, nil
	}
	w.Balance = newBalance
	w.BalanceVersion++
	w.UpdatedAt = now
	return true, nil
}

func (m *memStore) InsertTransaction(_ context.Context, tx models.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := tx
	m.txs[tx.ID] = &cp
	if tx.OrderID != nil {
		m.byOrder[*tx.OrderID] = append(m.byOrder[*tx.OrderID], tx.ID)
	}
	for _, p := range []*string{tx.FromWallet, tx.ToWallet} {
		if p != nil {
			m.byUser[*p] = append(m.byUser[*p], tx.ID)
		}
	}
	return nil
}

func (m *memStore) ReserveFundingRef(_ context.Context, externalRef string, txID gocql.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byRef[externalRef]; taken {
		return false, nil
	}
	m.byRef[externalRef] = txID
	return true, nil
}

func (m *memStore) GetTransactionByRef(_ context.Context, externalRef string) (models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txID, ok := m.byRef[externalRef]
	if !ok {
		return models.WalletTransaction{}, ErrNotFound
	}
	tx, ok := m.txs[txID]
	if !ok {
		return models.WalletTransaction{}, ErrNotFound
	}
	return *tx, nil
}

func (m *memStore) GetHeldTransactionByOrder(_ context.Context, orderID gocql.UUID) (models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txID := range m.byOrder[orderID] {
		if tx := m.txs[txID]; tx != nil && tx.EscrowEnabled {
			return *tx, nil
		}
	}
	return models.WalletTransaction{}, ErrNotFound
}

func (m *memStore) SettleEscrow(_ context.Context, txID gocql.UUID, finalState string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	if !ok || tx.EscrowState != models.EscrowStateHeld {
		return false, nil
	}
	tx.EscrowState = finalState
	tx.EscrowReleaseDate = &now
	return true, nil
}

func (m *memStore) CompleteTransaction(_ context.Context, txID gocql.UUID, finalStatus string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	if !ok || tx.Status != models.TxStatusPending {
		return false, nil
	}
	tx.Status = finalStatus
	tx.CompletedAt = &now
	return true, nil
}

func (m *memStore) ListTransactions(_ context.Context, userID string, limit int) ([]models.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byUser[userID]
	out := make([]models.WalletTransaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.txs[ids[i]])
	}
	return out, nil
}
