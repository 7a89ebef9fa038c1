// Package engine implements the order-matching engine and the settlement
// coordinator. One mutex serializes every mutating operation: matching,
// cancellation, and settlement application never interleave, so escrow
// and book state transitions are atomic with respect to each other.
//
// Money flow per match: the buyer's quote escrow covers notional,
// exchange fee, and the quote-leg network fee; the seller's base escrow
// covers quantity and the base-leg network fee. Nothing moves out of
// escrow until the settlement coordinator observes both ledger legs
// confirmed.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vexsim/exchange-engine/internal/account"
	"github.com/vexsim/exchange-engine/internal/book"
	"github.com/vexsim/exchange-engine/internal/fees"
	"github.com/vexsim/exchange-engine/internal/ledger"
	"github.com/vexsim/exchange-engine/internal/lots"
	"github.com/vexsim/exchange-engine/internal/model"
)

var (
	// ErrPriceNotPositive rejects non-positive limit prices.
	ErrPriceNotPositive = errors.New("engine: price_must_be_greater_than_zero")

	// ErrQtyNotPositive rejects non-positive quantities.
	ErrQtyNotPositive = errors.New("engine: qty_must_be_greater_than_zero")

	// ErrMaxBidDepth rejects limit buys when the bid side is full.
	ErrMaxBidDepth = errors.New("engine: max_bid_depth_reached")

	// ErrMaxAskDepth rejects limit sells when the ask side is full.
	ErrMaxAskDepth = errors.New("engine: max_ask_depth_reached")

	// ErrMaxPending rejects new orders while the settlement queue is full.
	ErrMaxPending = errors.New("engine: max_pending_settlements_reached")

	// ErrMaxPairs rejects new instruments at the configured cap.
	ErrMaxPairs = errors.New("engine: max_assets_reached")

	// ErrUnknownTicker is returned for operations on unregistered pairs.
	ErrUnknownTicker = errors.New("engine: unknown_ticker")

	// ErrInsufficientFunds is the market-order rejection when escrow
	// cannot cover the first fill attempt.
	ErrInsufficientFunds = errors.New("engine: insufficient funds/assets")

	// ErrNoFills is returned when a market order crosses nothing.
	ErrNoFills = errors.New("engine: no fills")

	// ErrOrderNotFound is returned when cancelling a missing, filled, or
	// already-cancelled order.
	ErrOrderNotFound = errors.New("engine: order_not_found")
)

// Config carries the engine's capacity limits and the bounded retry
// policy for ledger leg submission. Settlement polling itself retries
// forever (consistency over liveness); the retry knobs here apply only
// at match time.
type Config struct {
	MaxBookDepth  int // resting orders per side; 0 = unlimited
	MaxPending    int // pending settlements; 0 = unlimited
	MaxPairs      int // registered trading pairs; 0 = unlimited
	SubmitRetries int // extra attempts per ledger leg submission
	SubmitBackoff time.Duration
}

// DefaultConfig mirrors a small simulated venue.
func DefaultConfig() Config {
	return Config{
		MaxBookDepth:  1000,
		MaxPending:    10000,
		MaxPairs:      100,
		SubmitRetries: 2,
		SubmitBackoff: 10 * time.Millisecond,
	}
}

// instrument is one registered pair with its asset precisions.
type instrument struct {
	pair  model.Pair
	base  model.Asset
	quote model.Asset
	book  *book.Book
}

// Engine owns the books, the order index, the trade log, and the pending
// settlement set. It consumes the account registry, the lot tracker, the
// fee model, and the external ledger.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	accounts *account.Registry
	lots     *lots.Tracker
	fees     *fees.Model
	chain    ledger.Ledger

	instruments map[string]*instrument
	tickers     []string // registration order
	orders      map[uuid.UUID]*model.Order
	trades      []model.Trade
	pending     []*PendingSettlement

	// onSettled runs under the engine lock after a settlement applies,
	// for persistence and broadcast hooks. Hooks must not call back in.
	onSettled func(model.Trade)
}

// SubmitParams are the inputs to SubmitLimit/SubmitMarket. Price is
// ignored for market orders. NetworkFee is the declared total network
// fee, pro-rated per unit across fills. WaiveFees marks bootstrap orders
// exempt from exchange fees.
type SubmitParams struct {
	Ticker     string
	Side       model.Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	NetworkFee decimal.Decimal
	Creator    string
	WaiveFees  bool
}

// New creates an engine.
func New(cfg Config, accounts *account.Registry, tracker *lots.Tracker, feeModel *fees.Model, chain ledger.Ledger) *Engine {
	return &Engine{
		cfg:         cfg,
		accounts:    accounts,
		lots:        tracker,
		fees:        feeModel,
		chain:       chain,
		instruments: make(map[string]*instrument),
		orders:      make(map[uuid.UUID]*model.Order),
	}
}

// SetOnSettled installs the settled-trade hook.
func (e *Engine) SetOnSettled(fn func(model.Trade)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSettled = fn
}

// AddPair registers a trading pair and creates its empty book.
func (e *Engine) AddPair(pair model.Pair, base, quote model.Asset) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.MaxPairs > 0 && len(e.instruments) >= e.cfg.MaxPairs {
		return ErrMaxPairs
	}
	if _, ok := e.instruments[pair.Ticker]; ok {
		return fmt.Errorf("engine: pair %s already registered", pair.Ticker)
	}
	e.instruments[pair.Ticker] = &instrument{
		pair:  pair,
		base:  base,
		quote: quote,
		book:  book.New(pair.Ticker),
	}
	e.tickers = append(e.tickers, pair.Ticker)
	return nil
}

// Tickers returns registered pair tickers in registration order.
func (e *Engine) Tickers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.tickers))
	copy(out, e.tickers)
	return out
}

// Pair returns the pair definition for a ticker.
func (e *Engine) Pair(ticker string) (model.Pair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ins, ok := e.instruments[ticker]
	if !ok {
		return model.Pair{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return ins.pair, nil
}

// SubmitLimit validates, escrows, matches, and rests a limit order.
func (e *Engine) SubmitLimit(ctx context.Context, p SubmitParams) (*model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ins, ok := e.instruments[p.Ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, p.Ticker)
	}
	if !p.Price.IsPositive() {
		return nil, ErrPriceNotPositive
	}
	if !p.Qty.IsPositive() {
		return nil, ErrQtyNotPositive
	}
	if e.cfg.MaxPending > 0 && len(e.pending) >= e.cfg.MaxPending {
		return nil, ErrMaxPending
	}
	if e.cfg.MaxBookDepth > 0 && ins.book.Depth(p.Side) >= e.cfg.MaxBookDepth {
		if p.Side == model.SideBuy {
			return nil, ErrMaxBidDepth
		}
		return nil, ErrMaxAskDepth
	}

	price := p.Price.RoundDown(ins.quote.Decimals)
	qty := model.QuantizeQty(p.Qty, ins.base)
	if !price.IsPositive() {
		return nil, ErrPriceNotPositive
	}
	if !qty.IsPositive() {
		return nil, ErrQtyNotPositive
	}

	o := &model.Order{
		ID:         uuid.New(),
		Ticker:     ins.pair.Ticker,
		Base:       ins.pair.Base,
		Quote:      ins.pair.Quote,
		Side:       p.Side,
		Type:       model.OrderTypeLimit,
		Status:     model.StatusOpen,
		Price:      price,
		Qty:        qty,
		Remaining:  qty,
		Creator:    p.Creator,
		NetworkFee: p.NetworkFee,
		CreatedAt:  time.Now().UTC(),
		FeesWaived: p.WaiveFees,
	}

	// Escrow the full order upfront. Buys freeze quote notional plus the
	// anticipated taker fee plus the declared network fee; sells freeze
	// base quantity plus the network fee.
	var anticipated decimal.Decimal
	if p.Side == model.SideBuy {
		notional := qty.Mul(price)
		if !p.WaiveFees {
			anticipated = e.fees.Taker(notional, ins.quote.Decimals)
		}
		if err := e.accounts.Freeze(p.Creator, ins.pair.Quote, o.ID, notional, anticipated, p.NetworkFee); err != nil {
			o.Status = model.StatusRejected
			return o, err
		}
	} else {
		if err := e.accounts.Freeze(p.Creator, ins.pair.Base, o.ID, qty, decimal.Zero, p.NetworkFee); err != nil {
			o.Status = model.StatusRejected
			return o, err
		}
	}

	e.orders[o.ID] = o
	takerFeesCharged, _ := e.match(ctx, ins, o)

	if o.Remaining.IsPositive() {
		ins.book.Insert(o)
		if o.Side == model.SideBuy {
			// The remainder is now a maker order: release the unused
			// anticipated taker fee, keeping only what in-flight fills
			// will consume plus the maker fee on the resting remainder.
			keep := takerFeesCharged
			if !o.FeesWaived {
				keep = keep.Add(e.fees.Maker(o.Remaining.Mul(o.Price), ins.quote.Decimals))
			}
			if release := anticipated.Sub(keep); release.IsPositive() {
				e.accounts.Unfreeze(p.Creator, ins.pair.Quote, o.ID, decimal.Zero, release, decimal.Zero)
			}
		}
	}

	slog.Info("limit order submitted",
		"order_id", o.ID,
		"ticker", o.Ticker,
		"side", o.Side,
		"price", o.Price.String(),
		"qty", o.Qty.String(),
		"remaining", o.Remaining.String(),
		"status", o.Status,
		"creator", o.Creator,
	)
	return o, nil
}

// SubmitMarket walks the opposing side without resting. Escrow is taken
// per fill; if the first attempt cannot be covered the order is rejected
// with insufficient funds, and a market order that crosses nothing
// reports no fills.
func (e *Engine) SubmitMarket(ctx context.Context, p SubmitParams) (*model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ins, ok := e.instruments[p.Ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, p.Ticker)
	}
	if !p.Qty.IsPositive() {
		return nil, ErrQtyNotPositive
	}
	if e.cfg.MaxPending > 0 && len(e.pending) >= e.cfg.MaxPending {
		return nil, ErrMaxPending
	}

	qty := model.QuantizeQty(p.Qty, ins.base)
	if !qty.IsPositive() {
		return nil, ErrQtyNotPositive
	}

	o := &model.Order{
		ID:         uuid.New(),
		Ticker:     ins.pair.Ticker,
		Base:       ins.pair.Base,
		Quote:      ins.pair.Quote,
		Side:       p.Side,
		Type:       model.OrderTypeMarket,
		Status:     model.StatusOpen,
		Qty:        qty,
		Remaining:  qty,
		Creator:    p.Creator,
		NetworkFee: p.NetworkFee,
		CreatedAt:  time.Now().UTC(),
		FeesWaived: p.WaiveFees,
	}
	e.orders[o.ID] = o

	_, escrowFailed := e.match(ctx, ins, o)

	if len(o.Fills) == 0 {
		e.releaseOrderEscrow(ins, o)
		o.Status = model.StatusRejected
		if escrowFailed {
			return o, ErrInsufficientFunds
		}
		return o, ErrNoFills
	}

	slog.Info("market order executed",
		"order_id", o.ID,
		"ticker", o.Ticker,
		"side", o.Side,
		"qty", o.Qty.String(),
		"unfilled", o.Remaining.String(),
		"fills", len(o.Fills),
		"creator", o.Creator,
	)
	return o, nil
}

// match walks the opposing side in book priority order, skipping
// self-created orders and stopping at the first non-crossing price.
// Returns the sum of taker exchange fees charged to the incoming order.
//
// A ledger submission failure stops the walk; partial progress already
// escrowed stays escrowed and the caller decides what to do with the
// remainder (limit orders rest it, market orders drop it). escrowFailed
// reports a first-fill escrow failure on a market order.
func (e *Engine) match(ctx context.Context, ins *instrument, o *model.Order) (takerFees decimal.Decimal, escrowFailed bool) {
	takerFees = decimal.Zero

	for o.Remaining.IsPositive() {
		if e.cfg.MaxPending > 0 && len(e.pending) >= e.cfg.MaxPending {
			break
		}

		opp := e.bestCounterparty(ins, o)
		if opp == nil {
			break
		}

		tradeQty := o.Remaining
		if opp.Remaining.LessThan(tradeQty) {
			tradeQty = opp.Remaining
		}
		price := opp.Price
		notional := tradeQty.Mul(price)

		var takerFee, makerFee decimal.Decimal
		if !o.FeesWaived {
			takerFee = e.fees.Taker(notional, ins.quote.Decimals)
		}
		if !opp.FeesWaived {
			makerFee = e.fees.Maker(notional, ins.quote.Decimals)
		}
		takerNet := o.NetworkFeePerUnit().Mul(tradeQty)
		makerNet := opp.NetworkFeePerUnit().Mul(tradeQty)

		// Market takers escrow per fill at the fill price.
		if o.Type == model.OrderTypeMarket {
			var err error
			if o.Side == model.SideBuy {
				err = e.accounts.Freeze(o.Creator, ins.pair.Quote, o.ID, notional, takerFee, takerNet)
			} else {
				err = e.accounts.Freeze(o.Creator, ins.pair.Base, o.ID, tradeQty, decimal.Zero, takerNet)
			}
			if err != nil {
				escrowFailed = len(o.Fills) == 0
				break
			}
		}

		if ok := e.executeFill(ctx, ins, o, opp, tradeQty, price, takerFee, makerFee, takerNet, makerNet); !ok {
			// Leg submission failed. Roll back a per-fill market escrow;
			// limit escrow stays for the resting remainder.
			if o.Type == model.OrderTypeMarket {
				if o.Side == model.SideBuy {
					e.accounts.Unfreeze(o.Creator, ins.pair.Quote, o.ID, notional, takerFee, takerNet)
				} else {
					e.accounts.Unfreeze(o.Creator, ins.pair.Base, o.ID, tradeQty, decimal.Zero, takerNet)
				}
			}
			break
		}

		takerFees = takerFees.Add(takerFee)

		if opp.Remaining.IsZero() {
			ins.book.Remove(opp.ID)
			opp.Status = model.StatusFilledUnconfirmed
		} else {
			opp.Status = model.StatusPartiallyFilled
		}
		if o.Remaining.IsZero() {
			o.Status = model.StatusFilledUnconfirmed
		} else if len(o.Fills) > 0 {
			o.Status = model.StatusPartiallyFilled
		}
	}

	return takerFees, escrowFailed
}

// bestCounterparty returns the best opposing resting order that is not
// self-created and whose price crosses the incoming order, or nil.
func (e *Engine) bestCounterparty(ins *instrument, o *model.Order) *model.Order {
	for _, opp := range ins.book.Orders(o.Side.Opposite()) {
		if opp.Creator == o.Creator {
			continue // self-trades are skipped, not matched
		}
		if o.Type == model.OrderTypeLimit && !crosses(o, opp) {
			return nil // book is price-ordered; nothing further crosses
		}
		return opp
	}
	return nil
}

func crosses(o, opp *model.Order) bool {
	if o.Side == model.SideBuy {
		return opp.Price.LessThanOrEqual(o.Price)
	}
	return opp.Price.GreaterThanOrEqual(o.Price)
}

// executeFill submits both ledger legs, records the trade and fills, and
// enqueues the pending settlement. Returns false when a leg could not be
// submitted; the first leg is cancelled so no half-submitted transfer
// remains in the mempool.
func (e *Engine) executeFill(ctx context.Context, ins *instrument, taker, maker *model.Order, qty, price, takerFee, makerFee, takerNet, makerNet decimal.Decimal) bool {
	buyer, seller := taker, maker
	if taker.Side == model.SideSell {
		buyer, seller = maker, taker
	}
	buyerFee, sellerFee := takerFee, makerFee
	buyerNet, sellerNet := takerNet, makerNet
	if taker.Side == model.SideSell {
		buyerFee, sellerFee = makerFee, takerFee
		buyerNet, sellerNet = makerNet, takerNet
	}
	notional := qty.Mul(price)

	baseTx, err := e.submitLeg(ctx, ins.pair.Base, sellerNet, qty, seller.Creator, buyer.Creator)
	if err != nil {
		slog.Warn("base leg submission failed, halting match",
			"ticker", ins.pair.Ticker, "err", err)
		return false
	}
	quoteTx, err := e.submitLeg(ctx, ins.pair.Quote, buyerNet, notional, buyer.Creator, seller.Creator)
	if err != nil {
		slog.Warn("quote leg submission failed, cancelling base leg",
			"ticker", ins.pair.Ticker, "err", err)
		if _, cerr := e.chain.CancelTransaction(ctx, ins.pair.Base, baseTx.ID); cerr != nil {
			slog.Error("orphaned base leg could not be cancelled",
				"tx_id", baseTx.ID, "err", cerr)
		}
		return false
	}

	now := time.Now().UTC()
	trade := model.Trade{
		ID:               uuid.New(),
		Ticker:           ins.pair.Ticker,
		Base:             ins.pair.Base,
		Quote:            ins.pair.Quote,
		Qty:              qty,
		Price:            price,
		Buyer:            buyer.Creator,
		Seller:           seller.Creator,
		TakerSide:        taker.Side,
		BuyerFee:         buyerFee,
		SellerFee:        sellerFee,
		BuyerNetworkFee:  buyerNet,
		SellerNetworkFee: sellerNet,
		Timestamp:        now,
	}
	e.trades = append(e.trades, trade)

	taker.Remaining = taker.Remaining.Sub(qty)
	maker.Remaining = maker.Remaining.Sub(qty)
	taker.Fills = append(taker.Fills, model.Fill{
		TradeID: trade.ID, Qty: qty, Price: price, Fee: takerFee, NetworkFee: takerNet, Timestamp: now,
	})
	maker.Fills = append(maker.Fills, model.Fill{
		TradeID: trade.ID, Qty: qty, Price: price, Fee: makerFee, NetworkFee: makerNet, Timestamp: now,
	})
	taker.Unsettled++
	maker.Unsettled++

	e.pending = append(e.pending, &PendingSettlement{
		ID:          uuid.New(),
		Ticker:      ins.pair.Ticker,
		BaseTxID:    baseTx.ID,
		QuoteTxID:   quoteTx.ID,
		Trade:       trade,
		BuyOrderID:  buyer.ID,
		SellOrderID: seller.ID,
		BuyerMode:   e.lots.Mode(buyer.Creator),
		SellerMode:  e.lots.Mode(seller.Creator),
	})

	slog.Info("trade matched",
		"trade_id", trade.ID,
		"ticker", trade.Ticker,
		"qty", qty.String(),
		"price", price.String(),
		"buyer", buyer.Creator,
		"seller", seller.Creator,
	)
	return true
}

// submitLeg submits one ledger transaction with the configured bounded
// retry/backoff.
func (e *Engine) submitLeg(ctx context.Context, asset string, fee, amount decimal.Decimal, sender, recipient string) (*ledger.Transaction, error) {
	var lastErr error
	attempts := 1 + e.cfg.SubmitRetries
	for i := 0; i < attempts; i++ {
		if i > 0 && e.cfg.SubmitBackoff > 0 {
			time.Sleep(e.cfg.SubmitBackoff * time.Duration(i))
		}
		tx, err := e.chain.AddTransaction(ctx, asset, fee, amount, sender, recipient)
		if err == nil {
			return tx, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// pendingEscrow sums the escrowed amounts the order's in-flight
// settlements will consume when their ledger legs confirm: notional,
// exchange fee, and network fee for buys; quantity and network fee for
// sells.
func (e *Engine) pendingEscrow(o *model.Order) (qty, exFee, netFee decimal.Decimal) {
	for _, ps := range e.pending {
		switch o.ID {
		case ps.BuyOrderID:
			// A limit buy filled below its limit price is escrowed at the
			// limit; the improvement is released when the fill settles.
			frozen := ps.Trade.Notional()
			if o.Type == model.OrderTypeLimit && o.Price.GreaterThan(ps.Trade.Price) {
				frozen = ps.Trade.Qty.Mul(o.Price)
			}
			qty = qty.Add(frozen)
			exFee = exFee.Add(ps.Trade.BuyerFee)
			netFee = netFee.Add(ps.Trade.BuyerNetworkFee)
		case ps.SellOrderID:
			qty = qty.Add(ps.Trade.Qty)
			netFee = netFee.Add(ps.Trade.SellerNetworkFee)
		}
	}
	return qty, exFee, netFee
}

// releaseOrderEscrow returns whatever is still reserved for an order.
func (e *Engine) releaseOrderEscrow(ins *instrument, o *model.Order) {
	asset := ins.pair.Base
	if o.Side == model.SideBuy {
		asset = ins.pair.Quote
	}
	reservations, err := e.accounts.Reservations(o.Creator, asset)
	if err != nil {
		return
	}
	for _, res := range reservations {
		if res.OrderID == o.ID {
			e.accounts.Unfreeze(o.Creator, asset, o.ID, res.Qty, res.ExchangeFee, res.NetworkFee)
			return
		}
	}
}

// Cancel removes a resting order, releasing the reservation for its
// unmatched remainder. Filled, missing, and already-cancelled orders
// report not-found.
func (e *Engine) Cancel(orderID uuid.UUID) (*model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelLocked(orderID)
}

func (e *Engine) cancelLocked(orderID uuid.UUID) (*model.Order, error) {
	o, ok := e.orders[orderID]
	if !ok || o.Status.Terminal() || o.Remaining.IsZero() {
		return nil, ErrOrderNotFound
	}
	ins, ok := e.instruments[o.Ticker]
	if !ok || ins.book.Remove(orderID) == nil {
		return nil, ErrOrderNotFound
	}

	// Release everything reserved that is not backing an in-flight
	// settlement. Working from the reservation's actual remainder rather
	// than recomputing per-unit amounts keeps pro-rated network-fee
	// division dust from staying frozen after a partial fill.
	asset := ins.pair.Base
	if o.Side == model.SideBuy {
		asset = ins.pair.Quote
	}
	pendQty, pendEx, pendNet := e.pendingEscrow(o)
	if reservations, err := e.accounts.Reservations(o.Creator, asset); err == nil {
		for _, res := range reservations {
			if res.OrderID != o.ID {
				continue
			}
			e.accounts.Unfreeze(o.Creator, asset, o.ID,
				res.Qty.Sub(pendQty), res.ExchangeFee.Sub(pendEx), res.NetworkFee.Sub(pendNet))
			break
		}
	}

	o.Status = model.StatusCancelled
	slog.Info("order cancelled", "order_id", o.ID, "ticker", o.Ticker, "creator", o.Creator)
	return o, nil
}

// CancelAll cancels every resting order a creator has on one ticker and
// returns the cancelled ids.
func (e *Engine) CancelAll(creator, ticker string) []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()

	ins, ok := e.instruments[ticker]
	if !ok {
		return nil
	}
	var cancelled []uuid.UUID
	for _, id := range ins.book.ByCreator(creator) {
		if _, err := e.cancelLocked(id); err == nil {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// Order returns a copy of an order by id.
func (e *Engine) Order(orderID uuid.UUID) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return model.Order{}, ErrOrderNotFound
	}
	return *o, nil
}

// Book snapshots one side of a ticker's book.
func (e *Engine) Book(ticker string, side model.Side) ([]model.BookLevel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ins, ok := e.instruments[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return ins.book.Levels(side), nil
}

// Best returns the top-of-book order for a side as a level, or nil.
func (e *Engine) Best(ticker string, side model.Side) (*model.BookLevel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ins, ok := e.instruments[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	o := ins.book.Best(side)
	if o == nil {
		return nil, nil
	}
	return &model.BookLevel{OrderID: o.ID, Price: o.Price, Qty: o.Remaining, Creator: o.Creator}, nil
}

// Trades returns the trade log for one ticker, oldest first.
func (e *Engine) Trades(ticker string) []model.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []model.Trade
	for _, t := range e.trades {
		if t.Ticker == ticker {
			out = append(out, t)
		}
	}
	return out
}

// LatestTrade returns the most recent trade for a ticker, or nil.
func (e *Engine) LatestTrade(ticker string) *model.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := len(e.trades) - 1; i >= 0; i-- {
		if e.trades[i].Ticker == ticker {
			t := e.trades[i]
			return &t
		}
	}
	return nil
}

// PendingCount returns the size of the settlement queue.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
