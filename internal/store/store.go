// Package store defines the trade-log persistence interface. PostgreSQL
// is the source of truth, Redis provides a read-through cache, and the
// in-memory store backs tests and single-process deployments.
//
// The store is an append-only log of settled trades; the live books,
// balances, and lots are in-process state owned by the engine.
package store

import (
	"context"
	"errors"

	"github.com/vexsim/exchange-engine/internal/model"
)

// ErrNoTrades is returned by LatestTrade when a ticker has no settled
// trade yet.
var ErrNoTrades = errors.New("store: no trades")

// Store is the trade-log persistence interface.
type Store interface {
	// InsertTrade appends one settled trade.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// TradesByTicker returns a ticker's settled trades, oldest first.
	TradesByTicker(ctx context.Context, ticker string) ([]model.Trade, error)

	// TradesByAgent returns every trade an agent participated in, as
	// buyer or seller, oldest first.
	TradesByAgent(ctx context.Context, agent string) ([]model.Trade, error)

	// LatestTrade returns the most recent trade for a ticker.
	LatestTrade(ctx context.Context, ticker string) (*model.Trade, error)
}
