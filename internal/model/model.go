// Package model defines the core domain types shared across the exchange
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes resting-capable limit orders from market orders,
// which walk the book and never rest.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the closed order lifecycle:
//
//	open → partially_filled → {filled_unconfirmed} → confirmed
//	open | partially_filled → cancelled
//	(rejected orders never enter the book)
//
// filled_unconfirmed means every unit matched but at least one settlement
// still awaits ledger confirmation of both legs.
type OrderStatus string

const (
	StatusOpen              OrderStatus = "open"
	StatusPartiallyFilled   OrderStatus = "partially_filled"
	StatusFilledUnconfirmed OrderStatus = "filled_unconfirmed"
	StatusConfirmed         OrderStatus = "confirmed"
	StatusCancelled         OrderStatus = "cancelled"
	StatusRejected          OrderStatus = "rejected"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusRejected
}

// Asset is a registered instrument with its decimal precision. Quantities
// denominated in this asset are truncated (rounded down) to Decimals.
type Asset struct {
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// Pair is a tradable base/quote pairing, identified by its ticker
// ("BTC/USD"). Prices and fees are denominated in the quote asset.
type Pair struct {
	Ticker string `json:"ticker"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// Fill is one execution slice of an order.
type Fill struct {
	TradeID    uuid.UUID       `json:"trade_id"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`         // exchange fee owed on this slice
	NetworkFee decimal.Decimal `json:"network_fee"` // pro-rated slice of the declared fee
	Timestamp  time.Time       `json:"timestamp"`
}

// Order is a limit or market order. Mutated only by the matching loop and
// by cancellation; immutable once its status is terminal.
type Order struct {
	ID         uuid.UUID       `json:"id"`
	Ticker     string          `json:"ticker"`
	Base       string          `json:"base"`
	Quote      string          `json:"quote"`
	Side       Side            `json:"side"`
	Type       OrderType       `json:"type"`
	Status     OrderStatus     `json:"status"`
	Price      decimal.Decimal `json:"price"` // zero for market orders
	Qty        decimal.Decimal `json:"qty"`   // original quantity
	Remaining  decimal.Decimal `json:"remaining"`
	Creator    string          `json:"creator"`
	NetworkFee decimal.Decimal `json:"network_fee"` // declared total, pro-rated per unit
	Fills      []Fill          `json:"fills"`
	CreatedAt  time.Time       `json:"created_at"`

	// Unsettled counts settlements still awaiting ledger confirmation.
	// An order becomes confirmed when Remaining is zero and Unsettled
	// drops back to zero.
	Unsettled int `json:"-"`

	// FeesWaived marks bootstrap/system orders exempt from exchange fees.
	FeesWaived bool `json:"-"`
}

// NetworkFeePerUnit returns the declared network fee spread across the
// original quantity.
func (o *Order) NetworkFeePerUnit() decimal.Decimal {
	if o.Qty.IsZero() {
		return decimal.Zero
	}
	return o.NetworkFee.Div(o.Qty)
}

// Trade is an immutable record of one match. Appended to the trade log,
// never mutated.
type Trade struct {
	ID               uuid.UUID       `json:"id"`
	Ticker           string          `json:"ticker"`
	Base             string          `json:"base"`
	Quote            string          `json:"quote"`
	Qty              decimal.Decimal `json:"qty"`
	Price            decimal.Decimal `json:"price"`
	Buyer            string          `json:"buyer"`
	Seller           string          `json:"seller"`
	TakerSide        Side            `json:"taker_side"`
	BuyerFee         decimal.Decimal `json:"buyer_fee"`          // exchange fee, quote
	SellerFee        decimal.Decimal `json:"seller_fee"`         // exchange fee, quote
	BuyerNetworkFee  decimal.Decimal `json:"buyer_network_fee"`  // quote leg, quote
	SellerNetworkFee decimal.Decimal `json:"seller_network_fee"` // base leg, base
	Timestamp        time.Time       `json:"timestamp"`
}

// Notional returns qty*price in the quote asset.
func (t Trade) Notional() decimal.Decimal {
	return t.Qty.Mul(t.Price)
}

// Quote is a top-of-book snapshot.
type Quote struct {
	Ticker   string          `json:"ticker"`
	BidPrice decimal.Decimal `json:"bid_price"`
	BidQty   decimal.Decimal `json:"bid_qty"`
	AskPrice decimal.Decimal `json:"ask_price"`
	AskQty   decimal.Decimal `json:"ask_qty"`
}

// PriceBar is one OHLCV aggregation bucket of the trade log.
type PriceBar struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// BookLevel is one resting order as exposed by get_order_book.
type BookLevel struct {
	OrderID uuid.UUID       `json:"order_id"`
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"qty"`
	Creator string          `json:"creator"`
}

// QuantizeQty truncates q toward zero to the asset's decimals. Quantities
// and prices always round down; fees round up (see fees package).
func QuantizeQty(q decimal.Decimal, a Asset) decimal.Decimal {
	return q.RoundDown(a.Decimals)
}
