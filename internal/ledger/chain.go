package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Chain is the simulated blockchain: submitted transactions enter a
// mempool and confirm after ConfirmDelay calls to Step. SetOffline makes
// every call fail with ErrUnreachable, simulating a network partition.
//
// Chain is safe for concurrent use, though the engine drives it from a
// single loop.
type Chain struct {
	mu           sync.Mutex
	confirmDelay int
	offline      bool
	height       int
	txs          map[string]*chainTx // id → tx
}

type chainTx struct {
	tx              Transaction
	submittedHeight int
}

// NewChain creates a simulated chain confirming transactions confirmDelay
// steps after submission. A delay of 0 confirms on the next Step.
func NewChain(confirmDelay int) *Chain {
	if confirmDelay < 0 {
		confirmDelay = 0
	}
	return &Chain{
		confirmDelay: confirmDelay,
		txs:          make(map[string]*chainTx),
	}
}

// SetOffline toggles the simulated network partition.
func (c *Chain) SetOffline(offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = offline
}

// Step advances the chain one block: every mempool transaction old enough
// is marked confirmed and stamped. Step works even while offline — the
// chain keeps mining, the exchange just cannot reach it.
func (c *Chain) Step() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height++
	now := time.Now().UTC()
	for _, entry := range c.txs {
		if entry.tx.Confirmed {
			continue
		}
		if c.height-entry.submittedHeight > c.confirmDelay {
			entry.tx.Confirmed = true
			ts := now
			entry.tx.Timestamp = &ts
		}
	}
}

// Height returns the current block height.
func (c *Chain) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

func (c *Chain) AddTransaction(_ context.Context, asset string, fee, amount decimal.Decimal, sender, recipient string) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offline {
		return nil, ErrUnreachable
	}

	tx := Transaction{
		ID:        uuid.New().String(),
		Asset:     asset,
		Fee:       fee,
		Amount:    amount,
		Sender:    sender,
		Recipient: recipient,
	}
	c.txs[tx.ID] = &chainTx{tx: tx, submittedHeight: c.height}

	out := tx
	return &out, nil
}

func (c *Chain) GetTransaction(_ context.Context, asset, id string) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offline {
		return nil, ErrUnreachable
	}

	entry, ok := c.txs[id]
	if !ok || entry.tx.Asset != asset {
		return nil, ErrNotFound
	}

	out := entry.tx
	return &out, nil
}

func (c *Chain) CancelTransaction(_ context.Context, asset, id string) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offline {
		return nil, ErrUnreachable
	}

	entry, ok := c.txs[id]
	if !ok || entry.tx.Asset != asset {
		return nil, ErrNotFound
	}
	if entry.tx.Confirmed {
		return nil, ErrAlreadyConfirmed
	}

	delete(c.txs, id)
	out := entry.tx
	return &out, nil
}
