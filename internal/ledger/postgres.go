package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Schema creates the tables used by PostgresStore. Balances are NUMERIC so no
// floating point conversion ever happens inside the database.
const Schema = `
CREATE TABLE IF NOT EXISTS wallets (
    user_id     TEXT PRIMARY KEY,
    balance     NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    version     BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS wallet_transactions (
    id                 UUID PRIMARY KEY,
    user_id            TEXT NOT NULL REFERENCES wallets (user_id),
    seq                BIGINT NOT NULL,
    type               TEXT NOT NULL CHECK (type IN ('credit', 'debit')),
    amount             NUMERIC(20,2) NOT NULL CHECK (amount > 0),
    resulting_balance  NUMERIC(20,2) NOT NULL CHECK (resulting_balance >= 0),
    created_at         TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, seq)
);`

// PostgresStore persists wallets and their transactions in PostgreSQL. The
// balance update and the transaction insert share one database transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema. It is safe to run on every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// Get returns the wallet for userID.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT user_id, balance::text, version, created_at, updated_at
        FROM wallets WHERE user_id = $1`, userID)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, storageErr("get wallet", err)
	}
	return w, nil
}

// Ensure provisions a zero balance wallet if none exists.
func (s *PostgresStore) Ensure(ctx context.Context, userID string) (Wallet, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (user_id, balance, version, created_at, updated_at)
        VALUES ($1, 0, 0, $2, $2)
        ON CONFLICT (user_id) DO NOTHING`, userID, now)
	if err != nil {
		return Wallet{}, storageErr("ensure wallet", err)
	}
	return s.Get(ctx, userID)
}

// Append records a ledger entry and the new balance atomically. The wallet
// row is locked for the duration so writers on other instances serialize too.
func (s *PostgresStore) Append(ctx context.Context, userID string, txType TxType, amount decimal.Decimal) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, storageErr("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var (
		balanceText string
		version     int64
	)
	err = tx.QueryRow(ctx, `SELECT balance::text, version FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&balanceText, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, storageErr("lock wallet", err)
	}
	current, err := decimal.NewFromString(balanceText)
	if err != nil {
		return Transaction{}, fmt.Errorf("decode balance for %s: %w", userID, err)
	}

	next, err := nextBalance(current, txType, amount)
	if err != nil {
		return Transaction{}, err
	}

	entry := Transaction{
		ID:               uuid.NewString(),
		UserID:           userID,
		Seq:              version + 1,
		Type:             txType,
		Amount:           amount,
		ResultingBalance: next,
		CreatedAt:        time.Now().UTC(),
	}

	if _, err := tx.Exec(ctx, `INSERT INTO wallet_transactions (id, user_id, seq, type, amount, resulting_balance, created_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)`,
		entry.ID, userID, entry.Seq, string(txType), amount.String(), next.String(), entry.CreatedAt); err != nil {
		return Transaction{}, storageErr("insert transaction", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $2::numeric, version = $3, updated_at = $4 WHERE user_id = $1`,
		userID, next.String(), entry.Seq, entry.CreatedAt); err != nil {
		return Transaction{}, storageErr("update balance", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, storageErr("commit", err)
	}
	return entry, nil
}

// History returns the most recent limit entries in ascending seq order; a
// non-positive limit returns them all.
func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	query := `SELECT id, user_id, seq, type, amount::text, resulting_balance::text, created_at
        FROM wallet_transactions WHERE user_id = $1 ORDER BY seq ASC`
	args := []any{userID}
	if limit > 0 {
		query = `SELECT * FROM (
            SELECT id, user_id, seq, type, amount::text, resulting_balance::text, created_at
            FROM wallet_transactions WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
        ) recent ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query history", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			id                    uuid.UUID
			typ, amount, resulted string
			t                     Transaction
		)
		if err := rows.Scan(&id, &t.UserID, &t.Seq, &typ, &amount, &resulted, &t.CreatedAt); err != nil {
			return nil, storageErr("scan history", err)
		}
		t.ID = id.String()
		t.Type = TxType(typ)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("decode amount of %s: %w", t.ID, err)
		}
		if t.ResultingBalance, err = decimal.NewFromString(resulted); err != nil {
			return nil, fmt.Errorf("decode resulting balance of %s: %w", t.ID, err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate history", err)
	}
	return out, nil
}

// UserIDs lists every provisioned wallet.
func (s *PostgresStore) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM wallets ORDER BY user_id`)
	if err != nil {
		return nil, storageErr("list wallets", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageErr("list wallets", err)
	}
	return ids, nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w           Wallet
		balanceText string
	)
	if err := row.Scan(&w.UserID, &balanceText, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return Wallet{}, fmt.Errorf("decode balance for %s: %w", w.UserID, err)
	}
	w.Balance = balance
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}
