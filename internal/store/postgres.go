package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vexsim/exchange-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const tradeColumns = `id, ticker, base, quote,
        qty::TEXT, price::TEXT,
        buyer, seller, taker_side,
        buyer_fee::TEXT, seller_fee::TEXT,
        buyer_network_fee::TEXT, seller_network_fee::TEXT,
        timestamp`

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, ticker, base, quote, qty, price,
		                     buyer, seller, taker_side,
		                     buyer_fee, seller_fee,
		                     buyer_network_fee, seller_network_fee, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC,
		         $7, $8, $9,
		         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14)`,
		t.ID, t.Ticker, t.Base, t.Quote,
		t.Qty.String(), t.Price.String(),
		t.Buyer, t.Seller, t.TakerSide,
		t.BuyerFee.String(), t.SellerFee.String(),
		t.BuyerNetworkFee.String(), t.SellerNetworkFee.String(),
		t.Timestamp,
	)
	return err
}

func (s *PostgresStore) TradesByTicker(ctx context.Context, ticker string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades WHERE ticker = $1 ORDER BY timestamp`, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByAgent(ctx context.Context, agent string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades WHERE buyer = $1 OR seller = $1 ORDER BY timestamp`, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) LatestTrade(ctx context.Context, ticker string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades WHERE ticker = $1 ORDER BY timestamp DESC LIMIT 1`, ticker)

	t, err := scanTrade(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTrades
	}
	if err != nil {
		return nil, fmt.Errorf("latest trade %s: %w", ticker, err)
	}
	return t, nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func scanTrade(scan func(dest ...any) error) (*model.Trade, error) {
	var t model.Trade
	var qty, price, buyerFee, sellerFee, buyerNet, sellerNet string

	if err := scan(&t.ID, &t.Ticker, &t.Base, &t.Quote,
		&qty, &price,
		&t.Buyer, &t.Seller, &t.TakerSide,
		&buyerFee, &sellerFee,
		&buyerNet, &sellerNet,
		&t.Timestamp); err != nil {
		return nil, err
	}

	t.Qty, _ = decimal.NewFromString(qty)
	t.Price, _ = decimal.NewFromString(price)
	t.BuyerFee, _ = decimal.NewFromString(buyerFee)
	t.SellerFee, _ = decimal.NewFromString(sellerFee)
	t.BuyerNetworkFee, _ = decimal.NewFromString(buyerNet)
	t.SellerNetworkFee, _ = decimal.NewFromString(sellerNet)

	return &t, nil
}
