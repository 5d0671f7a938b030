package models

import (
	"time"

	"github.com/gocql/gocql"
)

// Objets d'une transaction wallet
const (
	TxPurposePayment    = "payment"
	TxPurposeRefund     = "refund"
	TxPurposeCommission = "commission"
	TxPurposeTip        = "tip"
	TxPurposeWithdrawal = "withdrawal"
)

// Statuts d'une transaction wallet
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

// Conditions de libération escrow
const (
	EscrowConditionDelivery = "delivery_confirmed"
	EscrowConditionAuto     = "auto_release"
	EscrowConditionManual   = "manual"
)

// Wallet — solde par utilisateur et par devise. Le solde ne descend jamais
// sous zéro ; balance_version sert de garde CAS pour les écritures concurrentes.
type Wallet struct {
	UserID         string    `json:"user_id" db:"user_id"`
	Currency       string    `json:"currency" db:"currency"`
	Balance        int64     `json:"balance" db:"balance"` // centimes
	BalanceVersion int64     `json:"-" db:"balance_version"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

type WalletTransaction struct {
	ID                gocql.UUID  `json:"id" db:"tx_id"`
	FromWallet        *string     `json:"from_wallet,omitempty" db:"from_wallet"` // nil = financement externe
	ToWallet          *string     `json:"to_wallet,omitempty" db:"to_wallet"`     // nil = retrait / sortie
	Amount            int64       `json:"amount" db:"amount"`                     // centimes, > 0
	Currency          string      `json:"currency" db:"currency"`
	Purpose           string      `json:"purpose" db:"purpose"`
	Status            string      `json:"status" db:"status"`
	EscrowEnabled     bool        `json:"escrow_enabled" db:"escrow_enabled"`
	EscrowCondition   string      `json:"escrow_condition,omitempty" db:"escrow_condition"`
	EscrowState       string      `json:"escrow_state,omitempty" db:"escrow_state"` // held → released | refunded, garde exactly-once
	EscrowReleaseDate *time.Time  `json:"escrow_release_date,omitempty" db:"escrow_release_date"`
	OrderID           *gocql.UUID `json:"order_id,omitempty" db:"order_id"`
	ExternalRef       string      `json:"external_ref,omitempty" db:"external_ref"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}
