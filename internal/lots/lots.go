// Package lots tracks per-agent, per-asset tax lots: ordered entries with
// cost basis, ordered exits with realized pnl, FIFO/LIFO consumption, and
// taxable-event emission.
//
// Basis chaining: when an asset is acquired by spending something other
// than the unit of account (e.g. buying ETH with BTC), the new lot
// inherits the consumed lots' basis rescaled per acquired unit, so the
// original cash cost survives multi-hop conversions (USD→BTC→ETH).
//
// All monetary values use shopspring/decimal — never float64 for money.
package lots

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoPosition is returned when an exit finds no lot with quantity
	// left. Exits consumed before exhaustion are still returned.
	ErrNoPosition = errors.New("lots: no position to exit")
)

// Mode selects the lot consumption order.
type Mode string

const (
	FIFO Mode = "FIFO"
	LIFO Mode = "LIFO"
)

// Basis describes what a lot originally cost.
type Basis struct {
	Unit       string          `json:"unit"`          // unit of account the cost is denominated in
	PerUnit    decimal.Decimal `json:"per_unit"`      // cost per unit of the held asset
	SourceTxID string          `json:"source_tx_id"`  // ledger transaction that funded the lot
	Date       time.Time       `json:"date"`
}

// Entry is one acquisition lot. Remaining decreases as exits consume it
// and never goes negative.
type Entry struct {
	Qty       decimal.Decimal `json:"qty"`
	Remaining decimal.Decimal `json:"remaining"`
	Timestamp time.Time       `json:"timestamp"`
	Basis     Basis           `json:"basis"`
}

// Exit is one disposal record.
type Exit struct {
	Qty       decimal.Decimal `json:"qty"`
	Timestamp time.Time       `json:"timestamp"`
	PnL       decimal.Decimal `json:"pnl"`
	Basis     Basis           `json:"basis"` // basis of the consumed entry
}

// Position is the ordered lot history of one agent in one asset.
type Position struct {
	ID     uuid.UUID `json:"id"`
	Agent  string    `json:"agent"`
	Asset  string    `json:"asset"`
	Enters []*Entry  `json:"enters"`
	Exits  []Exit    `json:"exits"`
}

// Held returns the total remaining quantity across all entries.
func (p *Position) Held() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Enters {
		total = total.Add(e.Remaining)
	}
	return total
}

// TaxableEvent is a realized capital gain. Emitted only when the exit is
// denominated in the default unit of account and pnl is positive.
type TaxableEvent struct {
	Kind     string          `json:"kind"` // always "capital_gains"
	Opened   time.Time       `json:"opened"`
	Realized time.Time       `json:"realized"`
	PnL      decimal.Decimal `json:"pnl"`
}

// ExitRecord reports one entry consumed by an Exit call, for basis
// chaining by the caller.
type ExitRecord struct {
	Qty   decimal.Decimal
	PnL   decimal.Decimal
	Basis Basis
}

// Tracker owns all positions and taxable events.
type Tracker struct {
	mu          sync.RWMutex
	defaultUnit string
	defaultMode Mode
	modes       map[string]Mode                 // per-agent override
	positions   map[string]map[string]*Position // agent → asset → position
	events      map[string][]TaxableEvent       // agent → events
}

// NewTracker creates a tracker using defaultUnit (e.g. "USD") as the unit
// of account and mode as the default consumption order.
func NewTracker(defaultUnit string, mode Mode) *Tracker {
	if mode != LIFO {
		mode = FIFO
	}
	return &Tracker{
		defaultUnit: defaultUnit,
		defaultMode: mode,
		modes:       make(map[string]Mode),
		positions:   make(map[string]map[string]*Position),
		events:      make(map[string][]TaxableEvent),
	}
}

// DefaultUnit returns the configured unit of account.
func (t *Tracker) DefaultUnit() string { return t.defaultUnit }

// SortLots sets the consumption order for one agent's future exits.
func (t *Tracker) SortLots(agent string, mode Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mode != FIFO && mode != LIFO {
		return
	}
	t.modes[agent] = mode
}

// Mode returns the consumption order in effect for an agent.
func (t *Tracker) Mode(agent string) Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modeFor(agent)
}

func (t *Tracker) modeFor(agent string) Mode {
	if m, ok := t.modes[agent]; ok {
		return m
	}
	return t.defaultMode
}

// position returns the live position, creating it if needed. Callers must
// hold the lock.
func (t *Tracker) position(agent, asset string) *Position {
	byAsset, ok := t.positions[agent]
	if !ok {
		byAsset = make(map[string]*Position)
		t.positions[agent] = byAsset
	}
	p, ok := byAsset[asset]
	if !ok {
		p = &Position{ID: uuid.New(), Agent: agent, Asset: asset}
		byAsset[asset] = p
	}
	return p
}

// Enter appends an acquisition lot.
func (t *Tracker) Enter(agent, asset string, qty decimal.Decimal, ts time.Time, basis Basis) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := &Entry{Qty: qty, Remaining: qty, Timestamp: ts, Basis: basis}
	p := t.position(agent, asset)
	p.Enters = append(p.Enters, entry)
	return entry
}

// Exit consumes qty across the agent's lots in the configured order.
// proceedsPerUnit is the realized price per unit, denominated in
// proceedsUnit. Realized pnl is computed per consumed lot when both the
// proceeds and the lot's basis are denominated in the default unit of
// account; positive pnl in the default unit emits a taxable event.
//
// When no lot has quantity left before qty is satisfied, the exits
// consumed so far are returned together with ErrNoPosition.
func (t *Tracker) Exit(agent, asset string, qty decimal.Decimal, ts time.Time, proceedsUnit string, proceedsPerUnit decimal.Decimal) ([]ExitRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitLocked(agent, asset, qty, ts, proceedsUnit, proceedsPerUnit, t.modeFor(agent))
}

// ExitWithMode is Exit with an explicit consumption order, ignoring the
// agent's configured mode. Used when the order was fixed at an earlier
// point in time than the exit itself.
func (t *Tracker) ExitWithMode(agent, asset string, qty decimal.Decimal, ts time.Time, proceedsUnit string, proceedsPerUnit decimal.Decimal, mode Mode) ([]ExitRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mode != FIFO && mode != LIFO {
		mode = t.modeFor(agent)
	}
	return t.exitLocked(agent, asset, qty, ts, proceedsUnit, proceedsPerUnit, mode)
}

func (t *Tracker) exitLocked(agent, asset string, qty decimal.Decimal, ts time.Time, proceedsUnit string, proceedsPerUnit decimal.Decimal, mode Mode) ([]ExitRecord, error) {
	p := t.position(agent, asset)
	order := t.consumptionOrder(mode, p)

	var records []ExitRecord
	remaining := qty

	for _, entry := range order {
		if !remaining.IsPositive() {
			break
		}
		if !entry.Remaining.IsPositive() {
			continue
		}

		take := remaining
		if entry.Remaining.LessThan(take) {
			take = entry.Remaining
		}
		entry.Remaining = entry.Remaining.Sub(take)
		remaining = remaining.Sub(take)

		pnl := decimal.Zero
		realizable := proceedsUnit == t.defaultUnit && entry.Basis.Unit == t.defaultUnit
		if realizable {
			pnl = take.Mul(proceedsPerUnit.Sub(entry.Basis.PerUnit))
		}

		p.Exits = append(p.Exits, Exit{Qty: take, Timestamp: ts, PnL: pnl, Basis: entry.Basis})
		records = append(records, ExitRecord{Qty: take, PnL: pnl, Basis: entry.Basis})

		if realizable && pnl.IsPositive() {
			t.events[agent] = append(t.events[agent], TaxableEvent{
				Kind:     "capital_gains",
				Opened:   entry.Timestamp,
				Realized: ts,
				PnL:      pnl,
			})
		}
	}

	if remaining.IsPositive() {
		return records, ErrNoPosition
	}
	return records, nil
}

// consumptionOrder returns entries oldest-first (FIFO) or newest-first
// (LIFO). Entries are appended in time order, so slice order is age order.
func (t *Tracker) consumptionOrder(mode Mode, p *Position) []*Entry {
	if mode == FIFO {
		return p.Enters
	}
	out := make([]*Entry, len(p.Enters))
	for i, e := range p.Enters {
		out[len(out)-1-i] = e
	}
	return out
}

// ChainBasis derives the basis for an acquired lot from the records of
// the lots spent to acquire it:
//
//	per_unit = Σ(spent_qty × spent_basis_per_unit) / acquired_qty
//
// When the spend was denominated in the unit of account this reduces to
// the purchase price; otherwise the original cash cost is carried
// forward. Records with mixed basis units cannot be combined — the spend
// price itself becomes the basis in spendUnit.
func ChainBasis(records []ExitRecord, acquiredQty decimal.Decimal, spendUnit string, txID string, date time.Time) Basis {
	if len(records) == 0 || acquiredQty.IsZero() {
		return Basis{Unit: spendUnit, PerUnit: decimal.Zero, SourceTxID: txID, Date: date}
	}

	unit := records[0].Basis.Unit
	cost := decimal.Zero
	spent := decimal.Zero
	for _, rec := range records {
		if rec.Basis.Unit != unit {
			unit = ""
			break
		}
		cost = cost.Add(rec.Qty.Mul(rec.Basis.PerUnit))
		spent = spent.Add(rec.Qty)
	}
	if unit == "" {
		// Mixed-unit spend; fall back to the raw conversion rate.
		total := decimal.Zero
		for _, rec := range records {
			total = total.Add(rec.Qty)
		}
		return Basis{Unit: spendUnit, PerUnit: total.Div(acquiredQty), SourceTxID: txID, Date: date}
	}
	return Basis{Unit: unit, PerUnit: cost.Div(acquiredQty), SourceTxID: txID, Date: date}
}

// Positions returns copies of the agent's positions, one per asset held
// or previously held.
func (t *Tracker) Positions(agent string) []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Position
	for _, p := range t.positions[agent] {
		cp := Position{ID: p.ID, Agent: p.Agent, Asset: p.Asset}
		cp.Enters = make([]*Entry, len(p.Enters))
		for i, e := range p.Enters {
			ecp := *e
			cp.Enters[i] = &ecp
		}
		cp.Exits = make([]Exit, len(p.Exits))
		copy(cp.Exits, p.Exits)
		out = append(out, cp)
	}
	return out
}

// Held returns the agent's remaining lot quantity in one asset.
func (t *Tracker) Held(agent, asset string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byAsset, ok := t.positions[agent]
	if !ok {
		return decimal.Zero
	}
	p, ok := byAsset[asset]
	if !ok {
		return decimal.Zero
	}
	return p.Held()
}

// Events returns a copy of the agent's taxable events.
func (t *Tracker) Events(agent string) []TaxableEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TaxableEvent, len(t.events[agent]))
	copy(out, t.events[agent])
	return out
}
