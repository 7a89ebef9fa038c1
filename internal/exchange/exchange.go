// Package exchange is the composition root: it owns the asset registry,
// wires the matching engine to the accounts, lots, fees, and ledger, and
// exposes every externally callable operation of the venue. One Tick
// drives one settlement poll against the ledger.
//
// All monetary values use shopspring/decimal — never float64 for money.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vexsim/exchange-engine/internal/account"
	"github.com/vexsim/exchange-engine/internal/engine"
	"github.com/vexsim/exchange-engine/internal/fees"
	"github.com/vexsim/exchange-engine/internal/ledger"
	"github.com/vexsim/exchange-engine/internal/lots"
	"github.com/vexsim/exchange-engine/internal/metrics"
	"github.com/vexsim/exchange-engine/internal/model"
	"github.com/vexsim/exchange-engine/internal/store"
)

var (
	// ErrAssetExists is returned when creating a duplicate asset symbol.
	ErrAssetExists = errors.New("exchange: asset_already_exists")

	// ErrUnknownAsset is returned for operations on unregistered assets.
	ErrUnknownAsset = errors.New("exchange: unknown_asset")

	// ErrUnknownAgent is returned for operations on unregistered agents.
	ErrUnknownAgent = errors.New("exchange: unknown_agent")

	// ErrNoQuote is returned when a midprice needs both sides of the
	// book and at least one is empty.
	ErrNoQuote = errors.New("exchange: no_quote")
)

// Config carries the venue's composition parameters on top of the
// engine's own limits.
type Config struct {
	Engine        engine.Config
	UnitOfAccount string // default "USD"
	DefaultMode   lots.Mode
	MaxAgents     int
	SystemAgent   string // bootstrap agent whose seed orders are fee-waived

	// Seed-book shape for create_asset: one bid of SeedBidQty at
	// price*SeedBidRatio and one ask of SeedAskQty at price*SeedAskRatio.
	SeedBidRatio decimal.Decimal
	SeedAskRatio decimal.Decimal
	SeedBidQty   decimal.Decimal
	SeedAskQty   decimal.Decimal
}

// DefaultConfig returns the standard simulated-venue configuration.
func DefaultConfig() Config {
	return Config{
		Engine:        engine.DefaultConfig(),
		UnitOfAccount: "USD",
		DefaultMode:   lots.FIFO,
		MaxAgents:     10000,
		SystemAgent:   "exchange.init",
		SeedBidRatio:  decimal.NewFromFloat(0.99),
		SeedAskRatio:  decimal.NewFromFloat(1.01),
		SeedBidQty:    decimal.NewFromInt(1),
		SeedAskQty:    decimal.NewFromInt(1000),
	}
}

// AgentSummary is the get_agents_simple row.
type AgentSummary struct {
	Name string          `json:"name"`
	Cash decimal.Decimal `json:"cash"`
}

// Exchange composes the whole venue.
type Exchange struct {
	cfg      Config
	accounts *account.Registry
	tracker  *lots.Tracker
	feeModel *fees.Model
	chain    ledger.Ledger
	eng      *engine.Engine
	trades   store.Store // optional settled-trade log

	mu     sync.RWMutex
	assets map[string]model.Asset
	order  []string // asset registration order

	// onTrade is invoked for every settled trade after persistence.
	// Runs under the engine lock; callbacks must not call back in.
	onTrade func(model.Trade)
}

// New wires the venue together. The trade store may be nil; settled
// trades are then only kept in the engine's in-memory log. Store
// failures are logged, never propagated into settlement.
func New(cfg Config, chain ledger.Ledger, tradeStore store.Store) *Exchange {
	x := &Exchange{
		cfg:      cfg,
		accounts: account.NewRegistry(cfg.MaxAgents),
		tracker:  lots.NewTracker(cfg.UnitOfAccount, cfg.DefaultMode),
		feeModel: fees.NewDefaultModel(),
		chain:    chain,
		trades:   tradeStore,
		assets:   make(map[string]model.Asset),
	}
	x.eng = engine.New(cfg.Engine, x.accounts, x.tracker, x.feeModel, chain)
	x.eng.SetOnSettled(x.settled)

	if _, err := x.accounts.Register(cfg.SystemAgent); err != nil {
		slog.Error("system agent registration failed", "agent", cfg.SystemAgent, "err", err)
	}
	return x
}

// SetOnTrade installs the settled-trade broadcast callback.
func (x *Exchange) SetOnTrade(fn func(model.Trade)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.onTrade = fn
}

// settled runs for every applied settlement: persist, then broadcast.
func (x *Exchange) settled(t model.Trade) {
	metrics.TradesSettled.WithLabelValues(t.Ticker).Inc()
	metrics.TradeVolume.WithLabelValues(t.Ticker).Add(t.Qty.InexactFloat64())
	if x.trades != nil {
		if err := x.trades.InsertTrade(context.Background(), &t); err != nil {
			slog.Error("trade persistence failed", "trade_id", t.ID, "err", err)
		}
	}
	x.mu.RLock()
	fn := x.onTrade
	x.mu.RUnlock()
	if fn != nil {
		fn(t)
	}
}

// Tick drives one settlement poll. Returns the number applied.
func (x *Exchange) Tick(ctx context.Context) int {
	return x.eng.Tick(ctx)
}

// --- Assets ---

// CreateAsset registers an asset. Every non-cash asset gets a trading
// pair against the unit of account; when seedPrice is positive the book
// is seeded with a fee-waived bid and ask from the system agent, funded
// by freshly minted balances.
func (x *Exchange) CreateAsset(ctx context.Context, symbol string, decimals int32, seedPrice decimal.Decimal) error {
	x.mu.Lock()
	if _, ok := x.assets[symbol]; ok {
		x.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAssetExists, symbol)
	}
	asset := model.Asset{Symbol: symbol, Decimals: decimals}
	cash, hasCash := x.assets[x.cfg.UnitOfAccount]

	if symbol == x.cfg.UnitOfAccount {
		x.assets[symbol] = asset
		x.order = append(x.order, symbol)
		x.mu.Unlock()
		slog.Info("cash asset registered", "symbol", symbol, "decimals", decimals)
		return nil
	}
	x.mu.Unlock()

	if !hasCash {
		return fmt.Errorf("%w: unit of account %s must be created first", ErrUnknownAsset, x.cfg.UnitOfAccount)
	}

	// Registration happens last: a pair or seed failure must leave no
	// registered asset behind, so a retry does not hit ErrAssetExists.
	pair := model.Pair{
		Ticker: symbol + "/" + x.cfg.UnitOfAccount,
		Base:   symbol,
		Quote:  x.cfg.UnitOfAccount,
	}
	if err := x.eng.AddPair(pair, asset, cash); err != nil {
		return err
	}
	slog.Info("pair registered", "ticker", pair.Ticker)

	if seedPrice.IsPositive() {
		if err := x.seedBook(ctx, pair, asset, cash, seedPrice); err != nil {
			return fmt.Errorf("seed %s: %w", pair.Ticker, err)
		}
	}

	x.mu.Lock()
	x.assets[symbol] = asset
	x.order = append(x.order, symbol)
	x.mu.Unlock()
	return nil
}

// seedBook mints balances for the system agent and rests one bid and one
// ask around the seed price so the new pair quotes immediately.
func (x *Exchange) seedBook(ctx context.Context, pair model.Pair, base, quote model.Asset, seedPrice decimal.Decimal) error {
	bidPrice := seedPrice.Mul(x.cfg.SeedBidRatio).RoundDown(quote.Decimals)
	askPrice := seedPrice.Mul(x.cfg.SeedAskRatio).RoundDown(quote.Decimals)
	now := time.Now().UTC()

	bidNotional := x.cfg.SeedBidQty.Mul(bidPrice)
	if err := x.accounts.Credit(x.cfg.SystemAgent, quote.Symbol, bidNotional, "seed "+pair.Ticker); err != nil {
		return err
	}
	x.tracker.Enter(x.cfg.SystemAgent, quote.Symbol, bidNotional, now, lots.Basis{
		Unit: x.cfg.UnitOfAccount, PerUnit: decimal.NewFromInt(1), Date: now,
	})
	if err := x.accounts.Credit(x.cfg.SystemAgent, base.Symbol, x.cfg.SeedAskQty, "seed "+pair.Ticker); err != nil {
		return err
	}
	x.tracker.Enter(x.cfg.SystemAgent, base.Symbol, x.cfg.SeedAskQty, now, lots.Basis{
		Unit: x.cfg.UnitOfAccount, PerUnit: seedPrice, Date: now,
	})

	if _, err := x.eng.SubmitLimit(ctx, engine.SubmitParams{
		Ticker: pair.Ticker, Side: model.SideBuy, Price: bidPrice, Qty: x.cfg.SeedBidQty,
		Creator: x.cfg.SystemAgent, WaiveFees: true,
	}); err != nil {
		return err
	}
	if _, err := x.eng.SubmitLimit(ctx, engine.SubmitParams{
		Ticker: pair.Ticker, Side: model.SideSell, Price: askPrice, Qty: x.cfg.SeedAskQty,
		Creator: x.cfg.SystemAgent, WaiveFees: true,
	}); err != nil {
		return err
	}
	return nil
}

// Asset returns a registered asset definition.
func (x *Exchange) Asset(symbol string) (model.Asset, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	a, ok := x.assets[symbol]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return a, nil
}

// Assets returns registered assets in registration order.
func (x *Exchange) Assets() []model.Asset {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.Asset, 0, len(x.order))
	for _, sym := range x.order {
		out = append(out, x.assets[sym])
	}
	return out
}

// Tickers returns registered pair tickers.
func (x *Exchange) Tickers() []string {
	return x.eng.Tickers()
}

// --- Agents ---

// RegisterAgent creates a trading agent with empty balances.
func (x *Exchange) RegisterAgent(name string) error {
	_, err := x.accounts.Register(name)
	if err == nil {
		slog.Info("agent registered", "agent", name)
	}
	return err
}

// SortLots sets the agent's lot-consumption mode (FIFO or LIFO).
func (x *Exchange) SortLots(name string, mode lots.Mode) error {
	if !x.accounts.Exists(name) {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	x.tracker.SortLots(name, mode)
	return nil
}

// AddCash credits the agent in the unit of account and opens a matching
// cash lot at par.
func (x *Exchange) AddCash(name string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return engine.ErrQtyNotPositive
	}
	if err := x.accounts.Credit(name, x.cfg.UnitOfAccount, amount, "add_cash"); err != nil {
		return err
	}
	now := time.Now().UTC()
	x.tracker.Enter(name, x.cfg.UnitOfAccount, amount, now, lots.Basis{
		Unit: x.cfg.UnitOfAccount, PerUnit: decimal.NewFromInt(1), Date: now,
	})
	return nil
}

// RemoveCash debits available cash and consumes the matching lots. Fails
// without state change when available cash cannot cover the amount.
func (x *Exchange) RemoveCash(name string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return engine.ErrQtyNotPositive
	}
	if err := x.accounts.Debit(name, x.cfg.UnitOfAccount, amount, "remove_cash"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := x.tracker.Exit(name, x.cfg.UnitOfAccount, amount, now, x.cfg.UnitOfAccount, decimal.NewFromInt(1)); err != nil && !errors.Is(err, lots.ErrNoPosition) {
		slog.Error("cash lot exit failed", "agent", name, "err", err)
	}
	return nil
}

// GetCash returns the agent's available balance in the unit of account.
func (x *Exchange) GetCash(name string) (decimal.Decimal, error) {
	return x.accounts.Available(name, x.cfg.UnitOfAccount)
}

// GetAssets returns the agent's available balances per asset.
func (x *Exchange) GetAssets(name string) (map[string]decimal.Decimal, error) {
	return x.accounts.Balances(name)
}

// FrozenTotal returns the agent's total frozen balance in one asset.
func (x *Exchange) FrozenTotal(name, asset string) (decimal.Decimal, error) {
	return x.accounts.FrozenTotal(name, asset)
}

// Positions returns the agent's cost-basis positions.
func (x *Exchange) Positions(name string) ([]lots.Position, error) {
	if !x.accounts.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return x.tracker.Positions(name), nil
}

// TaxableEvents returns the agent's realized capital-gains events.
func (x *Exchange) TaxableEvents(name string) ([]lots.TaxableEvent, error) {
	if !x.accounts.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return x.tracker.Events(name), nil
}

// AgentsSimple returns each registered agent's name and cash balance, in
// registration order.
func (x *Exchange) AgentsSimple() []AgentSummary {
	names := x.accounts.Names()
	out := make([]AgentSummary, 0, len(names))
	for _, name := range names {
		cash, _ := x.accounts.Available(name, x.cfg.UnitOfAccount)
		out = append(out, AgentSummary{Name: name, Cash: cash})
	}
	return out
}

// --- Orders ---

func (x *Exchange) checkAgent(name string) error {
	if !x.accounts.Exists(name) {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return nil
}

// LimitBuy submits a resting-capable buy order.
func (x *Exchange) LimitBuy(ctx context.Context, ticker string, price, qty, networkFee decimal.Decimal, agent string) (*model.Order, error) {
	if err := x.checkAgent(agent); err != nil {
		return nil, err
	}
	return x.eng.SubmitLimit(ctx, engine.SubmitParams{
		Ticker: ticker, Side: model.SideBuy, Price: price, Qty: qty,
		NetworkFee: networkFee, Creator: agent,
	})
}

// LimitSell submits a resting-capable sell order.
func (x *Exchange) LimitSell(ctx context.Context, ticker string, price, qty, networkFee decimal.Decimal, agent string) (*model.Order, error) {
	if err := x.checkAgent(agent); err != nil {
		return nil, err
	}
	return x.eng.SubmitLimit(ctx, engine.SubmitParams{
		Ticker: ticker, Side: model.SideSell, Price: price, Qty: qty,
		NetworkFee: networkFee, Creator: agent,
	})
}

// MarketBuy walks the ask side without resting.
func (x *Exchange) MarketBuy(ctx context.Context, ticker string, qty, networkFee decimal.Decimal, agent string) (*model.Order, error) {
	if err := x.checkAgent(agent); err != nil {
		return nil, err
	}
	return x.eng.SubmitMarket(ctx, engine.SubmitParams{
		Ticker: ticker, Side: model.SideBuy, Qty: qty,
		NetworkFee: networkFee, Creator: agent,
	})
}

// MarketSell walks the bid side without resting.
func (x *Exchange) MarketSell(ctx context.Context, ticker string, qty, networkFee decimal.Decimal, agent string) (*model.Order, error) {
	if err := x.checkAgent(agent); err != nil {
		return nil, err
	}
	return x.eng.SubmitMarket(ctx, engine.SubmitParams{
		Ticker: ticker, Side: model.SideSell, Qty: qty,
		NetworkFee: networkFee, Creator: agent,
	})
}

// CancelOrder removes a resting order and releases its remainder.
func (x *Exchange) CancelOrder(id uuid.UUID) (*model.Order, error) {
	return x.eng.Cancel(id)
}

// CancelAllOrders cancels every resting order an agent has on a ticker.
func (x *Exchange) CancelAllOrders(agent, ticker string) []uuid.UUID {
	return x.eng.CancelAll(agent, ticker)
}

// Order returns an order snapshot by id.
func (x *Exchange) Order(id uuid.UUID) (model.Order, error) {
	return x.eng.Order(id)
}

// --- Market data ---

// OrderBook snapshots one side of a pair's book in priority order.
func (x *Exchange) OrderBook(ticker string, side model.Side) ([]model.BookLevel, error) {
	return x.eng.Book(ticker, side)
}

// BestBid returns the top bid, or nil when the side is empty.
func (x *Exchange) BestBid(ticker string) (*model.BookLevel, error) {
	return x.eng.Best(ticker, model.SideBuy)
}

// BestAsk returns the top ask, or nil when the side is empty.
func (x *Exchange) BestAsk(ticker string) (*model.BookLevel, error) {
	return x.eng.Best(ticker, model.SideSell)
}

// LatestTrade returns the most recent trade for a ticker, or nil.
func (x *Exchange) LatestTrade(ticker string) *model.Trade {
	return x.eng.LatestTrade(ticker)
}

// Trades returns a ticker's trade log, oldest first.
func (x *Exchange) Trades(ticker string) []model.Trade {
	return x.eng.Trades(ticker)
}

// Quotes returns the top-of-book snapshot for a ticker. Empty sides are
// reported as zero price/qty.
func (x *Exchange) Quotes(ticker string) (model.Quote, error) {
	q := model.Quote{Ticker: ticker}
	bid, err := x.eng.Best(ticker, model.SideBuy)
	if err != nil {
		return model.Quote{}, err
	}
	ask, err := x.eng.Best(ticker, model.SideSell)
	if err != nil {
		return model.Quote{}, err
	}
	if bid != nil {
		q.BidPrice, q.BidQty = bid.Price, bid.Qty
	}
	if ask != nil {
		q.AskPrice, q.AskQty = ask.Price, ask.Qty
	}
	return q, nil
}

// Midprice returns (best bid + best ask) / 2. Both sides must quote.
func (x *Exchange) Midprice(ticker string) (decimal.Decimal, error) {
	q, err := x.Quotes(ticker)
	if err != nil {
		return decimal.Zero, err
	}
	if q.BidPrice.IsZero() || q.AskPrice.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoQuote, ticker)
	}
	return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2)), nil
}

// PriceBars aggregates a ticker's trade log into OHLCV buckets of the
// given interval, oldest bucket first. Gaps produce no bars.
func (x *Exchange) PriceBars(ticker string, interval time.Duration) ([]model.PriceBar, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("exchange: bar interval must be positive")
	}
	if _, err := x.eng.Pair(ticker); err != nil {
		return nil, err
	}

	bars := make(map[time.Time]*model.PriceBar)
	for _, t := range x.eng.Trades(ticker) {
		start := t.Timestamp.Truncate(interval)
		bar, ok := bars[start]
		if !ok {
			bars[start] = &model.PriceBar{
				Start: start, Open: t.Price, High: t.Price, Low: t.Price,
				Close: t.Price, Volume: t.Qty,
			}
			continue
		}
		if t.Price.GreaterThan(bar.High) {
			bar.High = t.Price
		}
		if t.Price.LessThan(bar.Low) {
			bar.Low = t.Price
		}
		bar.Close = t.Price
		bar.Volume = bar.Volume.Add(t.Qty)
	}

	out := make([]model.PriceBar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, *bar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// PendingSettlements returns the number of trades awaiting confirmation.
func (x *Exchange) PendingSettlements() int {
	return x.eng.PendingCount()
}

// CollectedFees returns the venue's accumulated exchange fees per asset.
func (x *Exchange) CollectedFees() map[string]decimal.Decimal {
	return x.feeModel.CollectedAll()
}
