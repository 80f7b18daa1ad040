package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/money"
)

func TestInMemoryStore_AppendMaintainsBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	tx, err := s.Append(ctx, "u1", TxCredit, money.MustParse("100.00"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if tx.Seq != 1 || money.Format(tx.ResultingBalance) != "100.00" {
		t.Fatalf("unexpected credit entry: %+v", tx)
	}

	tx, err = s.Append(ctx, "u1", TxDebit, money.MustParse("40.00"))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if tx.Seq != 2 || money.Format(tx.ResultingBalance) != "60.00" {
		t.Fatalf("unexpected debit entry: %+v", tx)
	}

	w, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if money.Format(w.Balance) != "60.00" || w.Version != 2 {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	if err := Verify(ctx, s, "u1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestInMemoryStore_AppendRejectsNegative(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, "u1", money.MustParse("10.00"))

	if _, err := s.Append(ctx, "u1", TxDebit, money.MustParse("10.01")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	txs, err := s.History(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected only the seed entry, got %d", len(txs))
	}
}

func TestInMemoryStore_UnknownWallet(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on get, got %v", err)
	}
	if _, err := s.Append(ctx, "ghost", TxCredit, decimal.NewFromInt(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on append, got %v", err)
	}
	if _, err := s.History(ctx, "ghost", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on history, got %v", err)
	}
}

func TestInMemoryStore_EnsureIsIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, "u1", money.MustParse("5.00"))

	w, err := s.Ensure(ctx, "u1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if money.Format(w.Balance) != "5.00" {
		t.Fatalf("ensure reset the balance: %+v", w)
	}
}

func TestInMemoryStore_HistoryLimit(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, "u1", decimal.Zero)
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "u1", TxCredit, decimal.NewFromInt(1)); err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
	}

	txs, err := s.History(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 2 || txs[0].Seq != 4 || txs[1].Seq != 5 {
		t.Fatalf("expected seq 4,5 got %+v", txs)
	}
}

func TestInMemoryStore_ConcurrentWalletsAreIndependent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	const wallets = 10
	const credits = 50

	var wg sync.WaitGroup
	for i := 0; i < wallets; i++ {
		id := fmt.Sprintf("u%d", i)
		SeedBalance(s, id, decimal.Zero)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < credits; j++ {
				if _, err := s.Append(ctx, id, TxCredit, money.MustParse("0.10")); err != nil {
					t.Errorf("credit %s: %v", id, err)
				}
			}
		}(id)
	}
	wg.Wait()

	n, err := VerifyAll(ctx, s)
	if err != nil {
		t.Fatalf("verify all: %v", err)
	}
	if n != wallets {
		t.Fatalf("expected %d wallets verified, got %d", wallets, n)
	}
	w, _ := s.Get(ctx, "u3")
	if money.Format(w.Balance) != "5.00" {
		t.Fatalf("expected 5.00, got %s", money.Format(w.Balance))
	}
}

func TestVerifyDetectsDrift(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, "u1", money.MustParse("10.00"))

	mem := s.(*inMemoryStore)
	mem.mu.Lock()
	w := mem.wallets["u1"]
	w.Balance = money.MustParse("11.00")
	mem.wallets["u1"] = w
	mem.mu.Unlock()

	if err := Verify(ctx, s, "u1"); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
}
