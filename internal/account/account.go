// Package account holds the agent registry and the escrow (frozen
// balance) model. Every balance mutation flows through this package so
// the conservation invariant can be checked after any operation:
//
//	available + Σ frozen == Σ credits − Σ debits
//
// Freezing moves value from available into a named per-order reservation;
// unfreezing moves it back; consuming removes it from the agent entirely
// (settlement debit or fee payment) and records a debit in the agent's
// append-only audit trail.
//
// All monetary values use shopspring/decimal — never float64 for money.
package account

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when available balance cannot
	// cover a freeze or debit.
	ErrInsufficientFunds = errors.New("account: insufficient_assets")

	// ErrNoSuchAsset is returned when the agent holds no balance entry
	// for the asset.
	ErrNoSuchAsset = errors.New("account: no_such_asset")

	// ErrNotFound is returned for unknown agents.
	ErrNotFound = errors.New("account: agent_not_found")

	// ErrDuplicate is returned when registering an existing name.
	ErrDuplicate = errors.New("account: agent_already_registered")

	// ErrMaxAgents is returned when the registry is at capacity.
	ErrMaxAgents = errors.New("account: max_agents_reached")
)

// Reservation is one named escrow entry: funds frozen against a specific
// order, split into notional, exchange fee, and network fee components.
// Components are consumed toward zero and never go negative.
type Reservation struct {
	OrderID     uuid.UUID       `json:"order_id"`
	Qty         decimal.Decimal `json:"qty"`
	ExchangeFee decimal.Decimal `json:"exchange_fee"`
	NetworkFee  decimal.Decimal `json:"network_fee"`
}

// Total returns the sum of all reservation components.
func (r Reservation) Total() decimal.Decimal {
	return r.Qty.Add(r.ExchangeFee).Add(r.NetworkFee)
}

func (r Reservation) empty() bool {
	return r.Qty.IsZero() && r.ExchangeFee.IsZero() && r.NetworkFee.IsZero()
}

// Transaction is one entry of an agent's append-only audit trail.
type Transaction struct {
	Kind      string          `json:"kind"` // "credit" or "debit"
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo"`
	Timestamp time.Time       `json:"timestamp"`
}

// Agent is one registered participant. Agents are created on registration,
// mutated only through Registry operations, and never deleted.
type Agent struct {
	Name         string                     `json:"name"`
	Available    map[string]decimal.Decimal `json:"available"`
	Frozen       map[string][]*Reservation  `json:"frozen"`
	Transactions []Transaction              `json:"-"`
	CreatedAt    time.Time                  `json:"created_at"`
}

// Registry owns all agents. A single mutex serializes every mutation;
// the engine is a single logical writer.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*Agent
	names     []string // registration order
	maxAgents int
}

// NewRegistry creates a registry capped at maxAgents (0 = unlimited).
func NewRegistry(maxAgents int) *Registry {
	return &Registry{
		agents:    make(map[string]*Agent),
		maxAgents: maxAgents,
	}
}

// Register creates a new agent with empty balances.
func (r *Registry) Register(name string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxAgents > 0 && len(r.agents) >= r.maxAgents {
		return nil, ErrMaxAgents
	}
	if _, ok := r.agents[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	a := &Agent{
		Name:      name,
		Available: make(map[string]decimal.Decimal),
		Frozen:    make(map[string][]*Reservation),
		CreatedAt: time.Now().UTC(),
	}
	r.agents[name] = a
	r.names = append(r.names, name)
	return a, nil
}

// get returns the live agent record. Callers must hold the lock.
func (r *Registry) get(name string) (*Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return a, nil
}

// Exists reports whether an agent is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// Names returns agent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Credit adds amount to the agent's available balance and records it in
// the audit trail. Creates the asset entry if absent.
func (r *Registry) Credit(name, asset string, amount decimal.Decimal, memo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(name)
	if err != nil {
		return err
	}
	a.Available[asset] = a.Available[asset].Add(amount)
	a.Transactions = append(a.Transactions, Transaction{
		Kind: "credit", Asset: asset, Amount: amount, Memo: memo,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Debit removes amount from the agent's available balance.
func (r *Registry) Debit(name, asset string, amount decimal.Decimal, memo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(name)
	if err != nil {
		return err
	}
	bal, ok := a.Available[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchAsset, asset)
	}
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, asset)
	}
	a.Available[asset] = bal.Sub(amount)
	a.Transactions = append(a.Transactions, Transaction{
		Kind: "debit", Asset: asset, Amount: amount, Memo: memo,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Freeze reserves qty + exchangeFee + networkFee against orderID. The
// whole amount moves or nothing does.
func (r *Registry) Freeze(name, asset string, orderID uuid.UUID, qty, exchangeFee, networkFee decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(name)
	if err != nil {
		return err
	}
	bal, ok := a.Available[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchAsset, asset)
	}
	total := qty.Add(exchangeFee).Add(networkFee)
	if bal.LessThan(total) {
		return fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientFunds, total, asset, bal)
	}

	a.Available[asset] = bal.Sub(total)

	if res := findReservation(a, asset, orderID); res != nil {
		res.Qty = res.Qty.Add(qty)
		res.ExchangeFee = res.ExchangeFee.Add(exchangeFee)
		res.NetworkFee = res.NetworkFee.Add(networkFee)
		return nil
	}
	a.Frozen[asset] = append(a.Frozen[asset], &Reservation{
		OrderID: orderID, Qty: qty, ExchangeFee: exchangeFee, NetworkFee: networkFee,
	})
	return nil
}

// Unfreeze returns reserved funds to the available balance. Each component
// is clamped at what remains frozen for the order, tolerating rounding
// drift at the last unit. Returns the total actually released.
func (r *Registry) Unfreeze(name, asset string, orderID uuid.UUID, qty, exchangeFee, networkFee decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(name)
	if err != nil {
		return decimal.Zero, err
	}
	res := findReservation(a, asset, orderID)
	if res == nil {
		return decimal.Zero, nil
	}

	released := clampSub(&res.Qty, qty).
		Add(clampSub(&res.ExchangeFee, exchangeFee)).
		Add(clampSub(&res.NetworkFee, networkFee))

	a.Available[asset] = a.Available[asset].Add(released)
	r.dropIfEmpty(a, asset, orderID)
	return released, nil
}

// Consume removes reserved funds from the agent entirely: settlement
// debits and fees finally paid rather than returned. Components are
// clamped like Unfreeze. The consumed total is recorded as a debit.
func (r *Registry) Consume(name, asset string, orderID uuid.UUID, qty, exchangeFee, networkFee decimal.Decimal, memo string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(name)
	if err != nil {
		return Reservation{}, err
	}
	res := findReservation(a, asset, orderID)
	if res == nil {
		return Reservation{}, nil
	}

	consumed := Reservation{
		OrderID:     orderID,
		Qty:         clampSub(&res.Qty, qty),
		ExchangeFee: clampSub(&res.ExchangeFee, exchangeFee),
		NetworkFee:  clampSub(&res.NetworkFee, networkFee),
	}
	if total := consumed.Total(); !total.IsZero() {
		a.Transactions = append(a.Transactions, Transaction{
			Kind: "debit", Asset: asset, Amount: total, Memo: memo,
			Timestamp: time.Now().UTC(),
		})
	}
	r.dropIfEmpty(a, asset, orderID)
	return consumed, nil
}

// clampSub subtracts up to want from the component, never below zero, and
// returns what was actually taken.
func clampSub(component *decimal.Decimal, want decimal.Decimal) decimal.Decimal {
	take := want
	if component.LessThan(want) {
		take = *component
	}
	*component = component.Sub(take)
	return take
}

func findReservation(a *Agent, asset string, orderID uuid.UUID) *Reservation {
	for _, res := range a.Frozen[asset] {
		if res.OrderID == orderID {
			return res
		}
	}
	return nil
}

// dropIfEmpty removes a fully consumed reservation from the agent.
func (r *Registry) dropIfEmpty(a *Agent, asset string, orderID uuid.UUID) {
	list := a.Frozen[asset]
	for i, res := range list {
		if res.OrderID == orderID && res.empty() {
			a.Frozen[asset] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Available returns the agent's available balance for one asset.
func (r *Registry) Available(name, asset string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, err := r.get(name)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Available[asset], nil
}

// Balances returns a copy of the agent's available balances.
func (r *Registry) Balances(name string) (map[string]decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, err := r.get(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(a.Available))
	for asset, bal := range a.Available {
		out[asset] = bal
	}
	return out, nil
}

// FrozenTotal returns the sum of all reservations for one asset.
func (r *Registry) FrozenTotal(name, asset string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, err := r.get(name)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, res := range a.Frozen[asset] {
		total = total.Add(res.Total())
	}
	return total, nil
}

// Reservations returns a copy of the agent's reservations for one asset.
func (r *Registry) Reservations(name, asset string) ([]Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, err := r.get(name)
	if err != nil {
		return nil, err
	}
	out := make([]Reservation, 0, len(a.Frozen[asset]))
	for _, res := range a.Frozen[asset] {
		out = append(out, *res)
	}
	return out, nil
}

// NetCredits returns Σ credits − Σ debits for one asset from the audit
// trail. Conservation requires available + Σ frozen == NetCredits after
// every operation sequence.
func (r *Registry) NetCredits(name, asset string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, err := r.get(name)
	if err != nil {
		return decimal.Zero, err
	}
	net := decimal.Zero
	for _, tx := range a.Transactions {
		if tx.Asset != asset {
			continue
		}
		switch tx.Kind {
		case "credit":
			net = net.Add(tx.Amount)
		case "debit":
			net = net.Sub(tx.Amount)
		}
	}
	return net, nil
}

// AuditTrail returns a copy of the agent's raw transaction records.
func (r *Registry) AuditTrail(name string) ([]Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, err := r.get(name)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, len(a.Transactions))
	copy(out, a.Transactions)
	return out, nil
}
