package account

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newFunded registers an agent with a USD balance.
func newFunded(t *testing.T, r *Registry, name string, usd float64) {
	t.Helper()
	if _, err := r.Register(name); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if err := r.Credit(name, "USD", d(usd), "deposit"); err != nil {
		t.Fatalf("credit %s: %v", name, err)
	}
}

// checkConservation asserts available + Σ frozen == net credits.
func checkConservation(t *testing.T, r *Registry, name, asset string) {
	t.Helper()
	avail, err := r.Available(name, asset)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	frozen, err := r.FrozenTotal(name, asset)
	if err != nil {
		t.Fatalf("frozen: %v", err)
	}
	net, err := r.NetCredits(name, asset)
	if err != nil {
		t.Fatalf("net credits: %v", err)
	}
	if !avail.Add(frozen).Equal(net) {
		t.Errorf("conservation violated for %s/%s: available=%s frozen=%s net=%s",
			name, asset, avail, frozen, net)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry(0)
	if _, err := r.Register("alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Register("alice"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestRegister_MaxAgents(t *testing.T) {
	r := NewRegistry(2)
	r.Register("a")
	r.Register("b")
	if _, err := r.Register("c"); !errors.Is(err, ErrMaxAgents) {
		t.Errorf("expected ErrMaxAgents, got %v", err)
	}
}

func TestFreeze_MovesAvailableIntoReservation(t *testing.T) {
	r := NewRegistry(0)
	newFunded(t, r, "alice", 10000)
	orderID := uuid.New()

	// 148*3 notional + 0.03 network fee, no exchange fee component.
	if err := r.Freeze("alice", "USD", orderID, d(444), decimal.Zero, d(0.03)); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	avail, _ := r.Available("alice", "USD")
	if !avail.Equal(d(9555.97)) {
		t.Errorf("expected available 9555.97, got %s", avail)
	}
	frozen, _ := r.FrozenTotal("alice", "USD")
	if !frozen.Equal(d(444.03)) {
		t.Errorf("expected frozen 444.03, got %s", frozen)
	}
	checkConservation(t, r, "alice", "USD")
}

func TestFreeze_Insufficient(t *testing.T) {
	r := NewRegistry(0)
	newFunded(t, r, "alice", 100)

	err := r.Freeze("alice", "USD", uuid.New(), d(99), d(2), decimal.Zero)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// No partial freeze.
	avail, _ := r.Available("alice", "USD")
	if !avail.Equal(d(100)) {
		t.Errorf("available changed on failed freeze: %s", avail)
	}
	frozen, _ := r.FrozenTotal("alice", "USD")
	if !frozen.IsZero() {
		t.Errorf("frozen changed on failed freeze: %s", frozen)
	}
}

func TestFreeze_NoSuchAsset(t *testing.T) {
	r := NewRegistry(0)
	r.Register("alice")
	err := r.Freeze("alice", "BTC", uuid.New(), d(1), decimal.Zero, decimal.Zero)
	if !errors.Is(err, ErrNoSuchAsset) {
		t.Errorf("expected ErrNoSuchAsset, got %v", err)
	}
}

func TestUnfreeze_ClampsAtRemaining(t *testing.T) {
	r := NewRegistry(0)
	newFunded(t, r, "alice", 1000)
	orderID := uuid.New()

	r.Freeze("alice", "USD", orderID, d(500), d(1), d(0.5))

	// Ask for more than is frozen; all remaining is released instead.
	released, err := r.Unfreeze("alice", "USD", orderID, d(600), d(2), d(1))
	if err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if !released.Equal(d(501.5)) {
		t.Errorf("expected released 501.5, got %s", released)
	}

	avail, _ := r.Available("alice", "USD")
	if !avail.Equal(d(1000)) {
		t.Errorf("expected available back to 1000, got %s", avail)
	}

	// Reservation consumed to zero is removed.
	reservations, _ := r.Reservations("alice", "USD")
	if len(reservations) != 0 {
		t.Errorf("expected reservation removed, got %d", len(reservations))
	}
	checkConservation(t, r, "alice", "USD")
}

func TestConsume_DebitsAndRecords(t *testing.T) {
	r := NewRegistry(0)
	newFunded(t, r, "alice", 1000)
	orderID := uuid.New()

	r.Freeze("alice", "USD", orderID, d(600), d(1.22), d(0.04))

	consumed, err := r.Consume("alice", "USD", orderID, d(600), d(1.22), d(0.04), "settle trade")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !consumed.Total().Equal(d(601.26)) {
		t.Errorf("expected consumed total 601.26, got %s", consumed.Total())
	}

	avail, _ := r.Available("alice", "USD")
	if !avail.Equal(d(398.74)) {
		t.Errorf("expected available 398.74, got %s", avail)
	}
	frozen, _ := r.FrozenTotal("alice", "USD")
	if !frozen.IsZero() {
		t.Errorf("expected frozen 0, got %s", frozen)
	}
	checkConservation(t, r, "alice", "USD")
}

func TestConsume_PartialLeavesReservation(t *testing.T) {
	r := NewRegistry(0)
	newFunded(t, r, "alice", 1000)
	orderID := uuid.New()

	r.Freeze("alice", "USD", orderID, d(600), decimal.Zero, d(0.04))
	r.Consume("alice", "USD", orderID, d(300), decimal.Zero, d(0.02), "partial fill")

	frozen, _ := r.FrozenTotal("alice", "USD")
	if !frozen.Equal(d(300.02)) {
		t.Errorf("expected frozen 300.02, got %s", frozen)
	}
	reservations, _ := r.Reservations("alice", "USD")
	if len(reservations) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(reservations))
	}
	if !reservations[0].Qty.Equal(d(300)) {
		t.Errorf("expected reservation qty 300, got %s", reservations[0].Qty)
	}
	checkConservation(t, r, "alice", "USD")
}

func TestFreeze_IncrementsExistingReservation(t *testing.T) {
	r := NewRegistry(0)
	newFunded(t, r, "alice", 1000)
	orderID := uuid.New()

	r.Freeze("alice", "USD", orderID, d(100), decimal.Zero, decimal.Zero)
	r.Freeze("alice", "USD", orderID, d(50), d(1), decimal.Zero)

	reservations, _ := r.Reservations("alice", "USD")
	if len(reservations) != 1 {
		t.Fatalf("expected a single keyed reservation, got %d", len(reservations))
	}
	if !reservations[0].Qty.Equal(d(150)) || !reservations[0].ExchangeFee.Equal(d(1)) {
		t.Errorf("reservation not incremented: %+v", reservations[0])
	}
	checkConservation(t, r, "alice", "USD")
}

func TestDebit_Insufficient(t *testing.T) {
	r := NewRegistry(0)
	newFunded(t, r, "alice", 10)
	if err := r.Debit("alice", "USD", d(11), "withdraw"); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestNoNegativeReservations(t *testing.T) {
	r := NewRegistry(0)
	newFunded(t, r, "alice", 100)
	orderID := uuid.New()

	r.Freeze("alice", "USD", orderID, d(50), decimal.Zero, decimal.Zero)
	r.Consume("alice", "USD", orderID, d(50), decimal.Zero, decimal.Zero, "settle")

	// A second consume is a no-op, not a negative balance.
	consumed, err := r.Consume("alice", "USD", orderID, d(50), decimal.Zero, decimal.Zero, "settle again")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !consumed.Total().IsZero() {
		t.Errorf("expected zero consumed from removed reservation, got %s", consumed.Total())
	}
	checkConservation(t, r, "alice", "USD")
}
