// Package book implements the per-pair order book: bids descending and
// asks ascending by price, FIFO within a price, with an order-id index so
// cancels do not rescan the whole side.
//
// The book only holds resting orders with remaining quantity > 0; the
// matching engine removes an order the moment its quantity reaches zero.
// Top of book is always index 0.
package book

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vexsim/exchange-engine/internal/model"
)

// Book is one pair's resting orders. Not safe for concurrent use; the
// engine serializes all access.
type Book struct {
	Ticker string

	bids  []*model.Order
	asks  []*model.Order
	index map[uuid.UUID]*model.Order
}

// New creates an empty book for a ticker.
func New(ticker string) *Book {
	return &Book{
		Ticker: ticker,
		index:  make(map[uuid.UUID]*model.Order),
	}
}

// Depth returns the number of resting orders on one side.
func (b *Book) Depth(side model.Side) int {
	if side == model.SideBuy {
		return len(b.bids)
	}
	return len(b.asks)
}

// Best returns the top-of-book order for a side, or nil.
func (b *Book) Best(side model.Side) *model.Order {
	if side == model.SideBuy {
		if len(b.bids) == 0 {
			return nil
		}
		return b.bids[0]
	}
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0]
}

// Get returns a resting order by id, or nil.
func (b *Book) Get(id uuid.UUID) *model.Order {
	return b.index[id]
}

// Insert rests an order at the first position whose price is not strictly
// better: price priority first, FIFO within equal prices.
func (b *Book) Insert(o *model.Order) {
	side := &b.asks
	better := func(a, c decimal.Decimal) bool { return a.LessThan(c) }
	if o.Side == model.SideBuy {
		side = &b.bids
		better = func(a, c decimal.Decimal) bool { return a.GreaterThan(c) }
	}

	pos := len(*side)
	for i, resting := range *side {
		if better(o.Price, resting.Price) {
			pos = i
			break
		}
	}

	*side = append(*side, nil)
	copy((*side)[pos+1:], (*side)[pos:])
	(*side)[pos] = o
	b.index[o.ID] = o
}

// Remove takes an order out of the book by id. Returns nil when the id is
// not resting.
func (b *Book) Remove(id uuid.UUID) *model.Order {
	o, ok := b.index[id]
	if !ok {
		return nil
	}
	delete(b.index, id)

	side := &b.asks
	if o.Side == model.SideBuy {
		side = &b.bids
	}
	for i, resting := range *side {
		if resting.ID == id {
			*side = append((*side)[:i], (*side)[i+1:]...)
			break
		}
	}
	return o
}

// Orders returns the resting orders on one side in priority order.
func (b *Book) Orders(side model.Side) []*model.Order {
	if side == model.SideBuy {
		return b.bids
	}
	return b.asks
}

// Levels snapshots one side as BookLevel records in priority order.
func (b *Book) Levels(side model.Side) []model.BookLevel {
	orders := b.Orders(side)
	out := make([]model.BookLevel, 0, len(orders))
	for _, o := range orders {
		out = append(out, model.BookLevel{
			OrderID: o.ID,
			Price:   o.Price,
			Qty:     o.Remaining,
			Creator: o.Creator,
		})
	}
	return out
}

// ByCreator returns the ids of all resting orders owned by creator.
func (b *Book) ByCreator(creator string) []uuid.UUID {
	var out []uuid.UUID
	for _, o := range b.bids {
		if o.Creator == creator {
			out = append(out, o.ID)
		}
	}
	for _, o := range b.asks {
		if o.Creator == creator {
			out = append(out, o.ID)
		}
	}
	return out
}
