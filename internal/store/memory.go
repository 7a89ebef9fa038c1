package store

import (
	"context"
	"sync"

	"github.com/vexsim/exchange-engine/internal/model"
)

// MemoryStore implements Store with an in-memory slice. Used for testing
// and single-process deployments (no persistence across restarts).
type MemoryStore struct {
	mu     sync.RWMutex
	trades []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) TradesByTicker(_ context.Context, ticker string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.Ticker == ticker {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) TradesByAgent(_ context.Context, agent string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.Buyer == agent || t.Seller == agent {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestTrade(_ context.Context, ticker string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].Ticker == ticker {
			t := s.trades[i]
			return &t, nil
		}
	}
	return nil, ErrNoTrades
}
