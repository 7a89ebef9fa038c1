// Package ledger defines the external asset-transfer ledger the exchange
// settles through, and a simulated blockchain implementation with a
// mempool and confirmation delay.
//
// The ledger is the only external dependency of the engine and is treated
// as untrusted and unreliable: every read must re-verify the Confirmed
// flag before any balance is mutated.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnreachable is returned while the ledger is offline.
	ErrUnreachable = errors.New("ledger: unreachable")

	// ErrNotFound is returned when no transaction matches (asset, id).
	ErrNotFound = errors.New("ledger: transaction not found")

	// ErrAlreadyConfirmed is returned when cancelling a confirmed
	// transaction.
	ErrAlreadyConfirmed = errors.New("ledger: transaction already confirmed")
)

// Transaction is one asset transfer as the ledger reports it. Timestamp is
// nil until the transaction confirms.
type Transaction struct {
	ID        string          `json:"id"`
	Asset     string          `json:"asset"`
	Fee       decimal.Decimal `json:"fee"`
	Amount    decimal.Decimal `json:"amount"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Confirmed bool            `json:"confirmed"`
	Timestamp *time.Time      `json:"timestamp"`
}

// Ledger is the append-only transaction log with asynchronous
// confirmation. Submitted transactions sit unconfirmed in a mempool until
// the external system confirms them; callers poll GetTransaction.
type Ledger interface {
	// AddTransaction submits a transfer. The returned transaction is
	// unconfirmed with a nil timestamp.
	AddTransaction(ctx context.Context, asset string, fee, amount decimal.Decimal, sender, recipient string) (*Transaction, error)

	// GetTransaction returns the current state of a transaction.
	GetTransaction(ctx context.Context, asset, id string) (*Transaction, error)

	// CancelTransaction removes an unconfirmed transaction from the
	// mempool. Confirmed transactions cannot be cancelled.
	CancelTransaction(ctx context.Context, asset, id string) (*Transaction, error)
}
