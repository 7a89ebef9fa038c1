package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vexsim/exchange-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the latest-trade key;
// list reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh/invalidate cache) ---

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	// The inserted trade is by definition the newest for its ticker.
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, latestKey(t.Ticker), data, s.ttl)
	}
	s.rdb.Del(ctx, tradesKey(t.Ticker))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestTrade(ctx context.Context, ticker string) (*model.Trade, error) {
	data, err := s.rdb.Get(ctx, latestKey(ticker)).Bytes()
	if err == nil {
		var t model.Trade
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	// Cache miss: read from primary.
	t, err := s.primary.LatestTrade(ctx, ticker)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, latestKey(ticker), data, s.ttl)
	}
	return t, nil
}

func (s *CachedStore) TradesByTicker(ctx context.Context, ticker string) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, tradesKey(ticker)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	// Cache miss.
	trades, err := s.primary.TradesByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, tradesKey(ticker), data, s.ttl)
	}
	return trades, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) TradesByAgent(ctx context.Context, agent string) ([]model.Trade, error) {
	return s.primary.TradesByAgent(ctx, agent)
}

// --- Cache helpers ---

func latestKey(ticker string) string { return fmt.Sprintf("trade:latest:%s", ticker) }
func tradesKey(ticker string) string { return fmt.Sprintf("trade:log:%s", ticker) }
