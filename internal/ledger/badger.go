package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	walletKeyPrefix = "w/"
	txKeyPrefix     = "t/"
)

// BadgerStore is an embedded, disk-backed ledger store. Writes are synced
// before Append returns.
type BadgerStore struct {
	db *badger.DB
}

type walletRecord struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type txRecord struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Seq              int64           `json:"seq"`
	Type             TxType          `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
	CreatedAt        time.Time       `json:"created_at"`
}

// OpenBadger opens (or creates) a Badger ledger in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithSyncWrites(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger ledger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close flushes and releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func walletKey(userID string) []byte {
	return []byte(walletKeyPrefix + userID)
}

// User identifiers never contain control characters, so NUL separates the
// identifier from the zero padded seq and lexical order equals seq order.
func txKey(userID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d", txKeyPrefix, userID, seq))
}

func txPrefix(userID string) []byte {
	return []byte(txKeyPrefix + userID + "\x00")
}

func readWallet(txn *badger.Txn, userID string) (walletRecord, error) {
	var rec walletRecord
	item, err := txn.Get(walletKey(userID))
	if err != nil {
		return rec, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

func (r walletRecord) toWallet() Wallet {
	return Wallet{UserID: r.UserID, Balance: r.Balance, Version: r.Version, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func (r txRecord) toTransaction() Transaction {
	return Transaction{
		ID:               r.ID,
		UserID:           r.UserID,
		Seq:              r.Seq,
		Type:             r.Type,
		Amount:           r.Amount,
		ResultingBalance: r.ResultingBalance,
		CreatedAt:        r.CreatedAt,
	}
}

// Get returns the wallet for userID.
func (s *BadgerStore) Get(_ context.Context, userID string) (Wallet, error) {
	var w Wallet
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := readWallet(txn, userID)
		if err != nil {
			return err
		}
		w = rec.toWallet()
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, storageErr("get wallet", err)
	}
	return w, nil
}

// Ensure provisions a zero balance wallet if none exists.
func (s *BadgerStore) Ensure(_ context.Context, userID string) (Wallet, error) {
	var w Wallet
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := readWallet(txn, userID)
		if err == nil {
			w = rec.toWallet()
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		now := time.Now().UTC()
		rec = walletRecord{UserID: userID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		w = rec.toWallet()
		return txn.Set(walletKey(userID), val)
	})
	if err != nil {
		return Wallet{}, storageErr("ensure wallet", err)
	}
	return w, nil
}

// Append writes the entry and the updated wallet in a single Badger
// transaction.
func (s *BadgerStore) Append(ctx context.Context, userID string, txType TxType, amount decimal.Decimal) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}

	var entry Transaction
	var domainErr error
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := readWallet(txn, userID)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				domainErr = ErrNotFound
				return domainErr
			}
			return err
		}

		next, err := nextBalance(rec.Balance, txType, amount)
		if err != nil {
			domainErr = err
			return err
		}

		now := time.Now().UTC()
		tr := txRecord{
			ID:               uuid.NewString(),
			UserID:           userID,
			Seq:              rec.Version + 1,
			Type:             txType,
			Amount:           amount,
			ResultingBalance: next,
			CreatedAt:        now,
		}
		rec.Balance = next
		rec.Version = tr.Seq
		rec.UpdatedAt = now

		txVal, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		walletVal, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(txKey(userID, tr.Seq), txVal); err != nil {
			return err
		}
		if err := txn.Set(walletKey(userID), walletVal); err != nil {
			return err
		}
		entry = tr.toTransaction()
		return nil
	})
	if err != nil {
		if domainErr != nil {
			return Transaction{}, domainErr
		}
		return Transaction{}, storageErr("append transaction", err)
	}
	return entry, nil
}

// History returns the most recent limit entries in ascending seq order; a
// non-positive limit returns them all.
func (s *BadgerStore) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	var out []Transaction
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := txPrefix(userID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec txRecord
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			out = append(out, rec.toTransaction())
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("read history", err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// UserIDs lists every provisioned wallet in key order.
func (s *BadgerStore) UserIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(walletKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), walletKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list wallets", err)
	}
	return ids, nil
}
