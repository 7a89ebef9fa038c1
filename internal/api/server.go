// Package api exposes the exchange operations over HTTP: flat JSON
// request/response bodies, one route per operation, and a WebSocket feed
// of settled trades.
//
// All monetary fields travel as decimal strings, never floats.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vexsim/exchange-engine/internal/account"
	"github.com/vexsim/exchange-engine/internal/engine"
	"github.com/vexsim/exchange-engine/internal/exchange"
	"github.com/vexsim/exchange-engine/internal/lots"
	"github.com/vexsim/exchange-engine/internal/metrics"
	"github.com/vexsim/exchange-engine/internal/model"
)

// Server holds the HTTP handlers over the composed exchange.
type Server struct {
	x   *exchange.Exchange
	hub *WSHub
}

// NewServer creates the handler set. The hub may be nil when WebSocket
// broadcasting is not needed.
func NewServer(x *exchange.Exchange, hub *WSHub) *Server {
	s := &Server{x: x, hub: hub}
	if hub != nil {
		x.SetOnTrade(func(t model.Trade) {
			hub.BroadcastTrade(t)
		})
	}
	return s
}

// Routes mounts every operation under the given router.
func (s *Server) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Post("/assets", s.createAsset)
	r.Get("/assets", s.listAssets)
	r.Get("/tickers", s.listTickers)

	r.Post("/agents", s.registerAgent)
	r.Get("/agents", s.agentsSimple)
	r.Post("/agents/{agent}/deposit", s.addCash)
	r.Post("/agents/{agent}/withdraw", s.removeCash)
	r.Post("/agents/{agent}/lot-mode", s.sortLots)
	r.Get("/agents/{agent}/cash", s.getCash)
	r.Get("/agents/{agent}/assets", s.getAssets)
	r.Get("/agents/{agent}/positions", s.getPositions)
	r.Get("/agents/{agent}/taxable-events", s.getTaxableEvents)

	r.Post("/orders", s.submitOrder)
	r.Get("/orders/{orderID}", s.getOrder)
	r.Delete("/orders/{orderID}", s.cancelOrder)
	r.Delete("/orders", s.cancelAllOrders)

	r.Get("/book", s.getOrderBook)
	r.Get("/best-bid", s.getBestBid)
	r.Get("/best-ask", s.getBestAsk)
	r.Get("/trades", s.getTrades)
	r.Get("/trades/latest", s.getLatestTrade)
	r.Get("/quotes", s.getQuotes)
	r.Get("/midprice", s.getMidprice)
	r.Get("/price-bars", s.getPriceBars)
}

// --- Request bodies ---

type createAssetRequest struct {
	Symbol    string          `json:"symbol"`
	Decimals  int32           `json:"decimals"`
	SeedPrice decimal.Decimal `json:"seed_price"`
}

type registerAgentRequest struct {
	Name string `json:"name"`
}

type cashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type lotModeRequest struct {
	Mode lots.Mode `json:"mode"`
}

type orderRequest struct {
	Ticker     string          `json:"ticker"`
	Side       model.Side      `json:"side"`
	Type       model.OrderType `json:"type"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	NetworkFee decimal.Decimal `json:"network_fee"`
	Agent      string          `json:"agent"`
}

// --- Asset handlers ---

func (s *Server) createAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if err := s.x.CreateAsset(r.Context(), req.Symbol, req.Decimals, req.SeedPrice); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"symbol": req.Symbol})
}

func (s *Server) listAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.x.Assets())
}

func (s *Server) listTickers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.x.Tickers())
}

// --- Agent handlers ---

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if err := s.x.RegisterAgent(req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) agentsSimple(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.x.AgentsSimple())
}

func (s *Server) addCash(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	var req cashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.x.AddCash(agent, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	cash, _ := s.x.GetCash(agent)
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"cash": cash})
}

func (s *Server) removeCash(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	var req cashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.x.RemoveCash(agent, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	cash, _ := s.x.GetCash(agent)
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"cash": cash})
}

func (s *Server) sortLots(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	var req lotModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mode != lots.FIFO && req.Mode != lots.LIFO {
		writeError(w, "mode must be FIFO or LIFO", http.StatusBadRequest)
		return
	}
	if err := s.x.SortLots(agent, req.Mode); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]lots.Mode{"mode": req.Mode})
}

func (s *Server) getCash(w http.ResponseWriter, r *http.Request) {
	cash, err := s.x.GetCash(chi.URLParam(r, "agent"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"cash": cash})
}

func (s *Server) getAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.x.GetAssets(chi.URLParam(r, "agent"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (s *Server) getPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.x.Positions(chi.URLParam(r, "agent"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []lots.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) getTaxableEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.x.TaxableEvents(chi.URLParam(r, "agent"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []lots.TaxableEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Order handlers ---

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Agent == "" {
		writeError(w, "agent is required", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}

	var (
		o   *model.Order
		err error
	)
	ctx := r.Context()
	switch {
	case req.Type == model.OrderTypeMarket && req.Side == model.SideBuy:
		o, err = s.x.MarketBuy(ctx, req.Ticker, req.Qty, req.NetworkFee, req.Agent)
	case req.Type == model.OrderTypeMarket:
		o, err = s.x.MarketSell(ctx, req.Ticker, req.Qty, req.NetworkFee, req.Agent)
	case req.Type == model.OrderTypeLimit && req.Side == model.SideBuy:
		o, err = s.x.LimitBuy(ctx, req.Ticker, req.Price, req.Qty, req.NetworkFee, req.Agent)
	case req.Type == model.OrderTypeLimit:
		o, err = s.x.LimitSell(ctx, req.Ticker, req.Price, req.Qty, req.NetworkFee, req.Agent)
	default:
		writeError(w, "type must be limit or market", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(rejectReason(err)).Inc()
		// A rejected order is still reported with its reason.
		if o != nil {
			writeJSON(w, domainStatus(err), map[string]any{
				"error": err.Error(),
				"order": o,
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, "invalid order id", http.StatusBadRequest)
		return
	}
	o, err := s.x.Order(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, "invalid order id", http.StatusBadRequest)
		return
	}
	o, err := s.x.CancelOrder(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) cancelAllOrders(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	ticker := r.URL.Query().Get("ticker")
	if agent == "" || ticker == "" {
		writeError(w, "agent and ticker are required", http.StatusBadRequest)
		return
	}
	cancelled := s.x.CancelAllOrders(agent, ticker)
	if cancelled == nil {
		cancelled = []uuid.UUID{}
	}
	writeJSON(w, http.StatusOK, map[string][]uuid.UUID{"cancelled": cancelled})
}

// --- Market data handlers ---

func (s *Server) getOrderBook(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	side := model.Side(r.URL.Query().Get("side"))
	if side != model.SideBuy && side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	levels, err := s.x.OrderBook(ticker, side)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if levels == nil {
		levels = []model.BookLevel{}
	}
	writeJSON(w, http.StatusOK, levels)
}

func (s *Server) getBestBid(w http.ResponseWriter, r *http.Request) {
	s.writeBest(w, r, model.SideBuy)
}

func (s *Server) getBestAsk(w http.ResponseWriter, r *http.Request) {
	s.writeBest(w, r, model.SideSell)
}

func (s *Server) writeBest(w http.ResponseWriter, r *http.Request, side model.Side) {
	ticker := r.URL.Query().Get("ticker")
	var (
		level *model.BookLevel
		err   error
	)
	if side == model.SideBuy {
		level, err = s.x.BestBid(ticker)
	} else {
		level, err = s.x.BestAsk(ticker)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if level == nil {
		writeError(w, "book side is empty", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		writeError(w, "ticker is required", http.StatusBadRequest)
		return
	}
	trades := s.x.Trades(ticker)
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) getLatestTrade(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	t := s.x.LatestTrade(ticker)
	if t == nil {
		writeError(w, "no trades for ticker", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) getQuotes(w http.ResponseWriter, r *http.Request) {
	q, err := s.x.Quotes(r.URL.Query().Get("ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) getMidprice(w http.ResponseWriter, r *http.Request) {
	mid, err := s.x.Midprice(r.URL.Query().Get("ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"midprice": mid})
}

func (s *Server) getPriceBars(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	interval, err := time.ParseDuration(r.URL.Query().Get("interval"))
	if err != nil {
		writeError(w, "interval must be a duration like 1m or 1h", http.StatusBadRequest)
		return
	}
	bars, err := s.x.PriceBars(ticker, interval)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bars == nil {
		bars = []model.PriceBar{}
	}
	writeJSON(w, http.StatusOK, bars)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), domainStatus(err))
}

// rejectReason buckets order rejections into low-cardinality metric
// labels.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, account.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, engine.ErrNoFills):
		return "no_fills"
	case errors.Is(err, engine.ErrMaxBidDepth),
		errors.Is(err, engine.ErrMaxAskDepth),
		errors.Is(err, engine.ErrMaxPending):
		return "capacity"
	case errors.Is(err, engine.ErrUnknownTicker),
		errors.Is(err, exchange.ErrUnknownAgent):
		return "not_found"
	default:
		return "validation"
	}
}

// domainStatus maps domain errors onto HTTP statuses: not-found lookups
// to 404, insufficiency and capacity to 409, validation to 400.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, exchange.ErrUnknownAgent),
		errors.Is(err, exchange.ErrUnknownAsset),
		errors.Is(err, exchange.ErrNoQuote),
		errors.Is(err, engine.ErrUnknownTicker),
		errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, account.ErrNotFound),
		errors.Is(err, account.ErrNoSuchAsset):
		return http.StatusNotFound
	case errors.Is(err, account.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrNoFills),
		errors.Is(err, engine.ErrMaxBidDepth),
		errors.Is(err, engine.ErrMaxAskDepth),
		errors.Is(err, engine.ErrMaxPending),
		errors.Is(err, engine.ErrMaxPairs),
		errors.Is(err, account.ErrMaxAgents),
		errors.Is(err, account.ErrDuplicate),
		errors.Is(err, exchange.ErrAssetExists):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
