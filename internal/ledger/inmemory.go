package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	transactions map[string][]Transaction
	now          func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit
// tests and local development. It is not durable.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets:      make(map[string]Wallet),
		transactions: make(map[string][]Transaction),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *inMemoryStore) Get(_ context.Context, userID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (s *inMemoryStore) Ensure(_ context.Context, userID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		return w, nil
	}
	now := s.now()
	w := Wallet{UserID: userID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	s.wallets[userID] = w
	return w, nil
}

func (s *inMemoryStore) Append(_ context.Context, userID string, txType TxType, amount decimal.Decimal) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	next, err := nextBalance(w.Balance, txType, amount)
	if err != nil {
		return Transaction{}, err
	}

	now := s.now()
	tx := Transaction{
		ID:               uuid.NewString(),
		UserID:           userID,
		Seq:              w.Version + 1,
		Type:             txType,
		Amount:           amount,
		ResultingBalance: next,
		CreatedAt:        now,
	}

	w.Balance = next
	w.Version = tx.Seq
	w.UpdatedAt = now
	s.wallets[userID] = w
	s.transactions[userID] = append(s.transactions[userID], tx)
	return tx, nil
}

func (s *inMemoryStore) History(_ context.Context, userID string, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.wallets[userID]; !ok {
		return nil, ErrNotFound
	}
	txs := s.transactions[userID]
	if limit > 0 && len(txs) > limit {
		txs = txs[len(txs)-limit:]
	}
	out := make([]Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

func (s *inMemoryStore) UserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.wallets))
	for id := range s.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
