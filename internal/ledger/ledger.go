package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/money"
)

var (
	// ErrNotFound is returned when no wallet exists for the user identifier.
	ErrNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds occurs when a debit would take the balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStorageUnavailable wraps failures of the durable medium. No state was
	// changed and the caller may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInconsistent is reported by Verify when a wallet's balance does not
	// match the fold of its transactions.
	ErrInconsistent = errors.New("ledger inconsistent")
)

// TxType is the direction of a ledger entry.
type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	return t == TxCredit || t == TxDebit
}

// Signed returns amount with the sign this type applies to a balance.
func (t TxType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == TxDebit {
		return amount.Neg()
	}
	return amount
}

// Wallet is the current state of a user's balance.
type Wallet struct {
	UserID    string
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID               string
	UserID           string
	Seq              int64
	Type             TxType
	Amount           decimal.Decimal
	ResultingBalance decimal.Decimal
	CreatedAt        time.Time
}

// Store is the contract implemented by ledger backends. Append must only be
// called by a caller that serializes mutations per user identifier.
type Store interface {
	Get(ctx context.Context, userID string) (Wallet, error)
	Ensure(ctx context.Context, userID string) (Wallet, error)
	Append(ctx context.Context, userID string, txType TxType, amount decimal.Decimal) (Transaction, error)
	History(ctx context.Context, userID string, limit int) ([]Transaction, error)
	UserIDs(ctx context.Context) ([]string, error)
}

// nextBalance applies a signed amount and enforces the balance invariant.
func nextBalance(current decimal.Decimal, txType TxType, amount decimal.Decimal) (decimal.Decimal, error) {
	if !txType.Valid() {
		return decimal.Decimal{}, fmt.Errorf("unknown transaction type %q", txType)
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, money.ErrInvalidAmount
	}
	next := current.Add(txType.Signed(amount))
	if next.IsNegative() {
		return decimal.Decimal{}, ErrInsufficientFunds
	}
	if next.GreaterThan(money.MaxBalance) {
		return decimal.Decimal{}, fmt.Errorf("%w: balance would exceed %s", money.ErrInvalidAmount, money.Format(money.MaxBalance))
	}
	return next, nil
}

// Verify folds the transaction history of a wallet and checks it against the
// stored balance, the per-entry resulting balances and the sequence numbers.
func Verify(ctx context.Context, store Store, userID string) error {
	w, err := store.Get(ctx, userID)
	if err != nil {
		return err
	}
	txs, err := store.History(ctx, userID, 0)
	if err != nil {
		return err
	}

	running := decimal.Zero
	for i, tx := range txs {
		if tx.Seq != int64(i+1) {
			return fmt.Errorf("%w: wallet %s entry %s has seq %d, expected %d", ErrInconsistent, userID, tx.ID, tx.Seq, i+1)
		}
		running = running.Add(tx.Type.Signed(tx.Amount))
		if running.IsNegative() {
			return fmt.Errorf("%w: wallet %s negative after seq %d", ErrInconsistent, userID, tx.Seq)
		}
		if !running.Equal(tx.ResultingBalance) {
			return fmt.Errorf("%w: wallet %s seq %d records %s, fold gives %s", ErrInconsistent, userID, tx.Seq, money.Format(tx.ResultingBalance), money.Format(running))
		}
	}

	if !running.Equal(w.Balance) {
		return fmt.Errorf("%w: wallet %s balance %s, fold gives %s", ErrInconsistent, userID, money.Format(w.Balance), money.Format(running))
	}
	if w.Version != int64(len(txs)) {
		return fmt.Errorf("%w: wallet %s version %d with %d entries", ErrInconsistent, userID, w.Version, len(txs))
	}
	return nil
}

// VerifyAll runs Verify for every wallet in the store and returns the first
// inconsistency found.
func VerifyAll(ctx context.Context, store Store) (int, error) {
	ids, err := store.UserIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := Verify(ctx, store, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
