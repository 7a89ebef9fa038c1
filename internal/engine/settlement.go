package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vexsim/exchange-engine/internal/lots"
	"github.com/vexsim/exchange-engine/internal/metrics"
	"github.com/vexsim/exchange-engine/internal/model"
)

// PendingSettlement is one matched trade awaiting confirmation of both
// ledger legs. Created when a match executes; removed exactly once, in
// the same critical section that applies it, so double-application is
// impossible by construction.
type PendingSettlement struct {
	ID          uuid.UUID   `json:"id"`
	Ticker      string      `json:"ticker"`
	BaseTxID    string      `json:"base_tx_id"`
	QuoteTxID   string      `json:"quote_tx_id"`
	Trade       model.Trade `json:"trade"`
	BuyOrderID  uuid.UUID   `json:"buy_order_id"`
	SellOrderID uuid.UUID   `json:"sell_order_id"`

	// Lot consumption order for each side, captured at match time. The
	// exits at settlement use these, so flipping an agent's mode while a
	// trade awaits confirmation does not change which lots it consumes.
	BuyerMode  lots.Mode `json:"buyer_mode"`
	SellerMode lots.Mode `json:"seller_mode"`
}

// Tick polls the ledger once for every pending settlement and applies
// those whose two legs both report confirmed. A ledger error or an
// unconfirmed leg leaves the entry untouched for the next tick: funds
// stay frozen exactly as they were, nothing is lost or duplicated, and
// there is no timeout — consistency is chosen over liveness.
//
// Returns the number of settlements applied.
func (e *Engine) Tick(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := 0
	still := make([]*PendingSettlement, 0, len(e.pending))

	for _, ps := range e.pending {
		baseTx, err := e.chain.GetTransaction(ctx, ps.Trade.Base, ps.BaseTxID)
		if err != nil {
			metrics.LedgerPollErrors.Inc()
			slog.Debug("ledger poll failed, settlement stays pending",
				"settlement_id", ps.ID, "leg", "base", "err", err)
			still = append(still, ps)
			continue
		}
		quoteTx, err := e.chain.GetTransaction(ctx, ps.Trade.Quote, ps.QuoteTxID)
		if err != nil {
			metrics.LedgerPollErrors.Inc()
			slog.Debug("ledger poll failed, settlement stays pending",
				"settlement_id", ps.ID, "leg", "quote", "err", err)
			still = append(still, ps)
			continue
		}
		if !baseTx.Confirmed || !quoteTx.Confirmed {
			still = append(still, ps)
			continue
		}

		e.applySettlement(ps)
		applied++
	}

	e.pending = still
	return applied
}

// applySettlement moves the matched value out of escrow: the buyer pays
// quote and receives base, the seller pays base and receives quote net of
// fees, realized fees transfer into the fee model's collected ledger, and
// both sides' lots update with basis chaining. Called with both legs
// confirmed, under the engine lock.
func (e *Engine) applySettlement(ps *PendingSettlement) {
	t := ps.Trade
	ins := e.instruments[t.Ticker]
	notional := t.Notional()
	now := time.Now().UTC()
	memo := "settle " + t.ID.String()

	buyOrder := e.orders[ps.BuyOrderID]
	sellOrder := e.orders[ps.SellOrderID]

	// Buyer: consume the realized slice of the quote reservation, release
	// any price improvement over the frozen limit price, credit base.
	e.accounts.Consume(t.Buyer, t.Quote, ps.BuyOrderID, notional, t.BuyerFee, t.BuyerNetworkFee, memo)
	if buyOrder != nil && buyOrder.Type == model.OrderTypeLimit && buyOrder.Price.GreaterThan(t.Price) {
		improvement := t.Qty.Mul(buyOrder.Price.Sub(t.Price))
		e.accounts.Unfreeze(t.Buyer, t.Quote, ps.BuyOrderID, improvement, decimal.Zero, decimal.Zero)
	}
	if err := e.accounts.Credit(t.Buyer, t.Base, t.Qty, memo); err != nil {
		slog.Error("buyer credit failed", "trade_id", t.ID, "err", err)
	}

	// Seller: consume the base reservation, credit quote net of the
	// seller's exchange fee.
	sellerCredit := notional.Sub(t.SellerFee)
	e.accounts.Consume(t.Seller, t.Base, ps.SellOrderID, t.Qty, decimal.Zero, t.SellerNetworkFee, memo)
	if err := e.accounts.Credit(t.Seller, t.Quote, sellerCredit, memo); err != nil {
		slog.Error("seller credit failed", "trade_id", t.ID, "err", err)
	}

	// Exchange fees become collected fees; network fees left the system
	// as ledger transaction fees.
	e.fees.Collect(t.Quote, t.BuyerFee.Add(t.SellerFee))

	e.applyLots(ps, notional, sellerCredit, now)

	e.finalizeOrder(buyOrder, ins)
	e.finalizeOrder(sellOrder, ins)

	if e.onSettled != nil {
		e.onSettled(t)
	}

	slog.Info("trade settled",
		"trade_id", t.ID,
		"ticker", t.Ticker,
		"qty", t.Qty.String(),
		"price", t.Price.String(),
		"buyer", t.Buyer,
		"seller", t.Seller,
	)
}

// applyLots updates both agents' cost-basis positions for one settled
// trade. The buyer's quote exit determines the basis of the acquired
// base lot (chained when the quote is not the unit of account); the
// seller's base exit realizes pnl and may emit a taxable event.
func (e *Engine) applyLots(ps *PendingSettlement, notional, sellerCredit decimal.Decimal, now time.Time) {
	t := ps.Trade

	// Buyer: the notional exit carries the basis; fees are a separate
	// exit so they do not distort the acquired lot's basis.
	records, err := e.lots.ExitWithMode(t.Buyer, t.Quote, notional, now, t.Base, decimal.Zero, ps.BuyerMode)
	if err != nil && !errors.Is(err, lots.ErrNoPosition) {
		slog.Error("buyer quote lot exit failed", "trade_id", t.ID, "err", err)
	}
	if feeCost := t.BuyerFee.Add(t.BuyerNetworkFee); feeCost.IsPositive() {
		e.lots.ExitWithMode(t.Buyer, t.Quote, feeCost, now, t.Base, decimal.Zero, ps.BuyerMode)
	}

	basis := lots.ChainBasis(records, t.Qty, t.Quote, ps.BaseTxID, now)
	if len(records) == 0 {
		basis = lots.Basis{Unit: t.Quote, PerUnit: t.Price, SourceTxID: ps.BaseTxID, Date: now}
	}
	e.lots.Enter(t.Buyer, t.Base, t.Qty, now, basis)

	// Seller: exit base at the trade price, then enter the quote
	// proceeds with a chained or cash basis.
	sellRecords, err := e.lots.ExitWithMode(t.Seller, t.Base, t.Qty, now, t.Quote, t.Price, ps.SellerMode)
	if err != nil && !errors.Is(err, lots.ErrNoPosition) {
		slog.Error("seller base lot exit failed", "trade_id", t.ID, "err", err)
	}
	if t.SellerNetworkFee.IsPositive() {
		e.lots.ExitWithMode(t.Seller, t.Base, t.SellerNetworkFee, now, t.Quote, t.Price, ps.SellerMode)
	}

	var quoteBasis lots.Basis
	if t.Quote == e.lots.DefaultUnit() {
		quoteBasis = lots.Basis{Unit: t.Quote, PerUnit: decimal.NewFromInt(1), SourceTxID: ps.QuoteTxID, Date: now}
	} else {
		quoteBasis = lots.ChainBasis(sellRecords, sellerCredit, t.Base, ps.QuoteTxID, now)
	}
	e.lots.Enter(t.Seller, t.Quote, sellerCredit, now, quoteBasis)
}

// finalizeOrder decrements the order's in-flight settlement count and,
// once nothing is pending, releases whatever is left in the order's
// reservation: rounding dust for a fully-filled order (which also
// confirms), or the remainder of a cancelled one.
func (e *Engine) finalizeOrder(o *model.Order, ins *instrument) {
	if o == nil {
		return
	}
	if o.Unsettled > 0 {
		o.Unsettled--
	}
	if o.Unsettled > 0 {
		return
	}
	if o.Status == model.StatusCancelled {
		e.releaseOrderEscrow(ins, o)
		return
	}
	if !o.Remaining.IsZero() {
		return
	}
	if o.Status == model.StatusFilledUnconfirmed {
		o.Status = model.StatusConfirmed
	}
	e.releaseOrderEscrow(ins, o)
}

// Pending returns a copy of the pending settlement set.
func (e *Engine) Pending() []PendingSettlement {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]PendingSettlement, len(e.pending))
	for i, ps := range e.pending {
		out[i] = *ps
	}
	return out
}
