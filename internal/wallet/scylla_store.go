package wallet

import (
	"context"
	"fmt"
	"time"

	"kiloba_back_end/internal/models"

	"github.com/gocql/gocql"
)

// ScyllaStore — implémentation ScyllaDB du Store. Soldes et historique vivent
// dans le keyspace wallets (deux sessions distinctes restent possibles si les
// rôles divergent). Le CAS s'appuie sur les transactions légères
// (IF balance_version = ?).
type ScyllaStore struct {
	wallets *gocql.Session
	ledger  *gocql.Session
}

func NewScyllaStore(wallets, ledger *gocql.Session) *ScyllaStore {
	return &ScyllaStore{wallets: wallets, ledger: ledger}
}

func (s *ScyllaStore) GetWallet(ctx context.Context, userID, currency string) (models.Wallet, error) {
	var w models.Wallet
	w.UserID = userID
	w.Currency = currency

	err := s.wallets.Query(`
		SELECT balance, balance_version, updated_at
		FROM wallets WHERE user_id = ? AND currency = ?
	`, userID, currency).WithContext(ctx).Scan(&w.Balance, &w.BalanceVersion, &w.UpdatedAt)

	if err == gocql.ErrNotFound {
		return models.Wallet{}, ErrNotFound
	}
	if err != nil {
		return models.Wallet{}, fmt.Errorf("lecture wallet: %w", err)
	}
	return w, nil
}

func (s *ScyllaStore) CreateWallet(ctx context.Context, userID, currency string, now time.Time) error {
	// IF NOT EXISTS : la création concurrente du même wallet est inoffensive
	applied, err := s.wallets.Query(`
		INSERT INTO wallets (user_id, currency, balance, balance_version, updated_at)
		VALUES (?, ?, 0, 0, ?) IF NOT EXISTS
	`, userID, currency, now).WithContext(ctx).ScanCAS()
	if err != nil {
		return fmt.Errorf("création wallet: %w", err)
	}
	_ = applied
	return nil
}

func (s *ScyllaStore) CompareAndSwapBalance(ctx context.Context, userID, currency string, newBalance, expectedVersion int64, now time.Time) (bool, error) {
	applied, err := s.wallets.Query(`
		UPDATE wallets SET balance = ?, balance_version = ?, updated_at = ?
		WHERE user_id = ? AND currency = ?
		IF balance_version = ?
	`, newBalance, expectedVersion+1, now, userID, currency, expectedVersion).
		WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("CAS solde: %w", err)
	}
	return applied, nil
}

func (s *ScyllaStore) InsertTransaction(ctx context.Context, tx models.WalletTransaction) error {
	err := s.ledger.Query(`
		INSERT INTO wallet_transactions
			(tx_id, from_wallet, to_wallet, amount, currency, purpose, status,
			 escrow_enabled, escrow_condition, escrow_state, escrow_release_date,
			 order_id, external_ref, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.FromWallet, tx.ToWallet, tx.Amount, tx.Currency, tx.Purpose, tx.Status,
		tx.EscrowEnabled, tx.EscrowCondition, tx.EscrowState, tx.EscrowReleaseDate,
		tx.OrderID, tx.ExternalRef, tx.CreatedAt, tx.CompletedAt).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insertion transaction: %w", err)
	}

	// Tables de lookup dénormalisées
	if tx.OrderID != nil {
		if err := s.ledger.Query(`
			INSERT INTO wallet_transactions_by_order (order_id, tx_id) VALUES (?, ?)
		`, *tx.OrderID, tx.ID).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("index par commande: %w", err)
		}
	}
	for _, party := range []*string{tx.FromWallet, tx.ToWallet} {
		if party == nil {
			continue
		}
		if err := s.ledger.Query(`
			INSERT INTO wallet_transactions_by_user (user_id, created_at, tx_id) VALUES (?, ?, ?)
		`, *party, tx.CreatedAt, tx.ID).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("index par utilisateur: %w", err)
		}
	}
	return nil
}

func (s *ScyllaStore) ReserveFundingRef(ctx context.Context, externalRef string, txID gocql.UUID) (bool, error) {
	applied, err := s.ledger.Query(`
		INSERT INTO wallet_transactions_by_ref (external_ref, tx_id) VALUES (?, ?) IF NOT EXISTS
	`, externalRef, txID).WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("réservation référence: %w", err)
	}
	return applied, nil
}

func (s *ScyllaStore) GetTransactionByRef(ctx context.Context, externalRef string) (models.WalletTransaction, error) {
	var txID gocql.UUID
	err := s.ledger.Query(`
		SELECT tx_id FROM wallet_transactions_by_ref WHERE external_ref = ?
	`, externalRef).WithContext(ctx).Scan(&txID)
	if err == gocql.ErrNotFound {
		return models.WalletTransaction{}, ErrNotFound
	}
	if err != nil {
		return models.WalletTransaction{}, fmt.Errorf("lookup référence: %w", err)
	}
	return s.getTransaction(ctx, txID)
}

func (s *ScyllaStore) GetHeldTransactionByOrder(ctx context.Context, orderID gocql.UUID) (models.WalletTransaction, error) {
	iter := s.ledger.Query(`
		SELECT tx_id FROM wallet_transactions_by_order WHERE order_id = ?
	`, orderID).WithContext(ctx).Iter()

	var txID gocql.UUID
	for iter.Scan(&txID) {
		tx, err := s.getTransaction(ctx, txID)
		if err != nil {
			iter.Close()
			return models.WalletTransaction{}, err
		}
		if tx.EscrowEnabled {
			iter.Close()
			return tx, nil
		}
	}
	if err := iter.Close(); err != nil {
		return models.WalletTransaction{}, fmt.Errorf("parcours transactions commande: %w", err)
	}
	return models.WalletTransaction{}, ErrNotFound
}

func (s *ScyllaStore) SettleEscrow(ctx context.Context, txID gocql.UUID, finalState string, now time.Time) (bool, error) {
	applied, err := s.ledger.Query(`
		UPDATE wallet_transactions SET escrow_state = ?, escrow_release_date = ?
		WHERE tx_id = ?
		IF escrow_state = ?
	`, finalState, now, txID, models.EscrowStateHeld).WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("règlement escrow: %w", err)
	}
	return applied, nil
}

func (s *ScyllaStore) CompleteTransaction(ctx context.Context, txID gocql.UUID, finalStatus string, now time.Time) (bool, error) {
	applied, err := s.ledger.Query(`
		UPDATE wallet_transactions SET status = ?, completed_at = ?
		WHERE tx_id = ?
		IF status = ?
	`, finalStatus, now, txID, models.TxStatusPending).WithContext(ctx).ScanCAS()
	if err != nil {
		return false, fmt.Errorf("transition transaction: %w", err)
	}
	return applied, nil
}

func (s *ScyllaStore) ListTransactions(ctx context.Context, userID string, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	iter := s.ledger.Query(`
		SELECT tx_id FROM wallet_transactions_by_user
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit).WithContext(ctx).Iter()

	var txs []models.WalletTransaction
	var txID gocql.UUID
	for iter.Scan(&txID) {
		tx, err := s.getTransaction(ctx, txID)
		if err != nil {
			iter.Close()
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("parcours historique: %w", err)
	}
	return txs, nil
}

func (s *ScyllaStore) getTransaction(ctx context.Context, txID gocql.UUID) (models.WalletTransaction, error) {
	var tx models.WalletTransaction
	tx.ID = txID

	err := s.ledger.Query(`
		SELECT from_wallet, to_wallet, amount, currency, purpose, status,
		       escrow_enabled, escrow_condition, escrow_state, escrow_release_date,
		       order_id, external_ref, created_at, completed_at
		FROM wallet_transactions WHERE tx_id = ?
	`, txID).WithContext(ctx).Scan(
		&tx.FromWallet, &tx.ToWallet, &tx.Amount, &tx.Currency, &tx.Purpose, &tx.Status,
		&tx.EscrowEnabled, &tx.EscrowCondition, &tx.EscrowState, &tx.EscrowReleaseDate,
		&tx.OrderID, &tx.ExternalRef, &tx.CreatedAt, &tx.CompletedAt)

	if err == gocql.ErrNotFound {
		return models.WalletTransaction{}, ErrNotFound
	}
	if err != nil {
		return models.WalletTransaction{}, fmt.Errorf("lecture transaction: %w", err)
	}
	return tx, nil
}
