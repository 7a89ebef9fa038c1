// Package fees implements the exchange fee model: pure maker/taker fee
// computation plus the append-only collected-fees ledger.
//
// Canonical rounding contract (pinned by tests): quantities are truncated
// to the base asset's decimals before the notional is formed; the fee is
// computed on that notional and rounded UP (ceiling) to the quote asset's
// decimals. Never banker's rounding.
//
// All monetary values use shopspring/decimal — never float64 for money.
package fees

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeRate is returned when a fee rate is below zero.
	ErrNegativeRate = errors.New("fees: rate must not be negative")
)

// Default fee schedule. Makers pay nothing; takers pay 20 bps.
var (
	DefaultMakerRate = decimal.Zero
	DefaultTakerRate = decimal.NewFromFloat(0.002)
)

// Model computes exchange fees and accumulates what has been collected.
// The computation methods are pure; Collect is the only mutation.
type Model struct {
	makerRate decimal.Decimal
	takerRate decimal.Decimal

	mu        sync.RWMutex
	collected map[string]decimal.Decimal // asset → total collected
}

// NewModel creates a fee model with the given rates.
func NewModel(makerRate, takerRate decimal.Decimal) (*Model, error) {
	if makerRate.IsNegative() || takerRate.IsNegative() {
		return nil, ErrNegativeRate
	}
	return &Model{
		makerRate: makerRate,
		takerRate: takerRate,
		collected: make(map[string]decimal.Decimal),
	}, nil
}

// NewDefaultModel creates a fee model with the default schedule.
func NewDefaultModel() *Model {
	m, _ := NewModel(DefaultMakerRate, DefaultTakerRate)
	return m
}

// MakerRate returns the maker fee rate.
func (m *Model) MakerRate() decimal.Decimal { return m.makerRate }

// TakerRate returns the taker fee rate.
func (m *Model) TakerRate() decimal.Decimal { return m.takerRate }

// Maker returns the maker fee on a notional, rounded up to decimals.
func (m *Model) Maker(notional decimal.Decimal, decimals int32) decimal.Decimal {
	return roundFee(notional.Mul(m.makerRate), decimals)
}

// Taker returns the taker fee on a notional, rounded up to decimals.
func (m *Model) Taker(notional decimal.Decimal, decimals int32) decimal.Decimal {
	return roundFee(notional.Mul(m.takerRate), decimals)
}

// roundFee rounds a fee up (away from the agent) to the asset's decimals.
func roundFee(fee decimal.Decimal, decimals int32) decimal.Decimal {
	if fee.IsZero() {
		return decimal.Zero
	}
	return fee.RoundCeil(decimals)
}

// Collect records a realized fee payment into the collected ledger.
// Zero amounts are ignored.
func (m *Model) Collect(asset string, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collected[asset] = m.collected[asset].Add(amount)
}

// Collected returns the total fees collected in one asset.
func (m *Model) Collected(asset string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collected[asset]
}

// CollectedAll returns a copy of the full collected-fees ledger.
func (m *Model) CollectedAll() map[string]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(m.collected))
	for asset, amt := range m.collected {
		out[asset] = amt
	}
	return out
}
