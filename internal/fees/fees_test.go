package fees

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNewModel_NegativeRate(t *testing.T) {
	if _, err := NewModel(d(-0.001), d(0.002)); err != ErrNegativeRate {
		t.Errorf("expected ErrNegativeRate for negative maker rate, got %v", err)
	}
	if _, err := NewModel(decimal.Zero, d(-0.002)); err != ErrNegativeRate {
		t.Errorf("expected ErrNegativeRate for negative taker rate, got %v", err)
	}
}

func TestTaker_RoundsUp(t *testing.T) {
	m := NewDefaultModel()
	// 4 * 151.5 = 606; 606 * 0.002 = 1.212 → ceil at 2 decimals = 1.22
	fee := m.Taker(d(606), 2)
	if !fee.Equal(d(1.22)) {
		t.Errorf("expected taker fee 1.22, got %s", fee)
	}
}

func TestTaker_ExactNoPadding(t *testing.T) {
	m := NewDefaultModel()
	// 500 * 0.002 = 1.00 exactly; ceiling must not add a cent.
	fee := m.Taker(d(500), 2)
	if !fee.Equal(d(1)) {
		t.Errorf("expected taker fee 1, got %s", fee)
	}
}

func TestMaker_DefaultZero(t *testing.T) {
	m := NewDefaultModel()
	if fee := m.Maker(d(606), 2); !fee.IsZero() {
		t.Errorf("expected zero maker fee by default, got %s", fee)
	}
}

func TestMaker_NonZeroRate(t *testing.T) {
	m, err := NewModel(d(0.001), d(0.002))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 444 * 0.001 = 0.444 → ceil at 2 decimals = 0.45
	if fee := m.Maker(d(444), 2); !fee.Equal(d(0.45)) {
		t.Errorf("expected maker fee 0.45, got %s", fee)
	}
}

func TestCollect_Accumulates(t *testing.T) {
	m := NewDefaultModel()
	m.Collect("USD", d(1.22))
	m.Collect("USD", d(0.03))
	m.Collect("BTC", d(0.0001))
	m.Collect("USD", decimal.Zero) // ignored

	if got := m.Collected("USD"); !got.Equal(d(1.25)) {
		t.Errorf("expected USD collected 1.25, got %s", got)
	}
	if got := m.Collected("BTC"); !got.Equal(d(0.0001)) {
		t.Errorf("expected BTC collected 0.0001, got %s", got)
	}
	if got := m.Collected("ETH"); !got.IsZero() {
		t.Errorf("expected ETH collected 0, got %s", got)
	}

	all := m.CollectedAll()
	if len(all) != 2 {
		t.Errorf("expected 2 assets in collected ledger, got %d", len(all))
	}
}
