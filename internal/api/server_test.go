package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vexsim/exchange-engine/internal/exchange"
	"github.com/vexsim/exchange-engine/internal/ledger"
	"github.com/vexsim/exchange-engine/internal/model"
	"github.com/vexsim/exchange-engine/internal/store"
)

func newTestRouter(t *testing.T) (*chi.Mux, *exchange.Exchange, *ledger.Chain) {
	t.Helper()
	chain := ledger.NewChain(0)
	x := exchange.New(exchange.DefaultConfig(), chain, store.NewMemoryStore())

	ctx := context.Background()
	if err := x.CreateAsset(ctx, "USD", 2, decimal.Zero); err != nil {
		t.Fatalf("create USD: %v", err)
	}
	if err := x.CreateAsset(ctx, "BTC", 8, decimal.NewFromInt(150)); err != nil {
		t.Fatalf("create BTC: %v", err)
	}

	r := chi.NewRouter()
	NewServer(x, nil).Routes(r)
	return r, x, chain
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/agents", map[string]string{"name": "alice"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body)
	}

	// Duplicate registration conflicts.
	rec = doJSON(t, r, http.MethodPost, "/agents", map[string]string{"name": "alice"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/agents/alice/deposit", map[string]string{"amount": "10000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, r, http.MethodGet, "/agents/alice/cash", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get cash: expected 200, got %d", rec.Code)
	}
	var cash map[string]decimal.Decimal
	if err := json.Unmarshal(rec.Body.Bytes(), &cash); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cash["cash"].Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected 10000, got %s", cash["cash"])
	}

	rec = doJSON(t, r, http.MethodGet, "/agents/nobody/cash", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent: expected 404, got %d", rec.Code)
	}
}

func TestSubmitOrderOverHTTP(t *testing.T) {
	r, x, chain := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/agents", map[string]string{"name": "bob"})
	doJSON(t, r, http.MethodPost, "/agents/bob/deposit", map[string]string{"amount": "1000"})

	rec := doJSON(t, r, http.MethodPost, "/orders", map[string]string{
		"ticker": "BTC/USD", "side": "buy", "type": "market", "qty": "4", "agent": "bob",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("market buy: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var o model.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if o.Status != model.StatusFilledUnconfirmed {
		t.Errorf("expected filled_unconfirmed, got %s", o.Status)
	}

	chain.Step()
	x.Tick(context.Background())

	rec = doJSON(t, r, http.MethodGet, "/orders/"+o.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: expected 200, got %d", rec.Code)
	}
	var confirmed model.Order
	json.Unmarshal(rec.Body.Bytes(), &confirmed)
	if confirmed.Status != model.StatusConfirmed {
		t.Errorf("expected confirmed, got %s", confirmed.Status)
	}

	rec = doJSON(t, r, http.MethodGet, "/trades/latest?ticker=BTC%2FUSD", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("latest trade: expected 200, got %d", rec.Code)
	}
}

func TestSubmitOrderRejectionOverHTTP(t *testing.T) {
	r, _, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/agents", map[string]string{"name": "dave"})
	doJSON(t, r, http.MethodPost, "/agents/dave/deposit", map[string]string{"amount": "10"})

	rec := doJSON(t, r, http.MethodPost, "/orders", map[string]string{
		"ticker": "BTC/USD", "side": "buy", "type": "market", "qty": "1", "agent": "dave",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Error string       `json:"error"`
		Order *model.Order `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == "" || resp.Order == nil || resp.Order.Status != model.StatusRejected {
		t.Errorf("rejection must include reason and rejected order, got %s", rec.Body)
	}
}

func TestCancelOrderOverHTTP(t *testing.T) {
	r, _, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/agents", map[string]string{"name": "alice"})
	doJSON(t, r, http.MethodPost, "/agents/alice/deposit", map[string]string{"amount": "10000"})

	rec := doJSON(t, r, http.MethodPost, "/orders", map[string]string{
		"ticker": "BTC/USD", "side": "buy", "type": "limit",
		"price": "148", "qty": "3", "network_fee": "0.03", "agent": "alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("limit buy: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var o model.Order
	json.Unmarshal(rec.Body.Bytes(), &o)

	rec = doJSON(t, r, http.MethodDelete, "/orders/"+o.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	// Second cancel reports not-found.
	rec = doJSON(t, r, http.MethodDelete, "/orders/"+o.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second cancel: expected 404, got %d", rec.Code)
	}
}

func TestMarketDataOverHTTP(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/quotes?ticker=BTC%2FUSD", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("quotes: expected 200, got %d", rec.Code)
	}
	var q model.Quote
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if !q.BidPrice.Equal(decimal.NewFromFloat(148.5)) || !q.AskPrice.Equal(decimal.NewFromFloat(151.5)) {
		t.Errorf("expected seeded 148.5/151.5, got %s/%s", q.BidPrice, q.AskPrice)
	}

	rec = doJSON(t, r, http.MethodGet, "/midprice?ticker=BTC%2FUSD", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("midprice: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/book?ticker=BTC%2FUSD&side=sell", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("book: expected 200, got %d", rec.Code)
	}
	var levels []model.BookLevel
	json.Unmarshal(rec.Body.Bytes(), &levels)
	if len(levels) != 1 || !levels[0].Qty.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1 seed ask of 1000, got %+v", levels)
	}

	rec = doJSON(t, r, http.MethodGet, "/book?ticker=BTC%2FUSD&side=sideways", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad side: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/quotes?ticker=DOGE%2FUSD", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown ticker: expected 404, got %d", rec.Code)
	}
}
