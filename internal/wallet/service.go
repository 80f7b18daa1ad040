package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/events"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/logging"
	"github.com/congo-pay/wallet_ledger/internal/money"
)

const defaultStorageTimeout = 5 * time.Second

// Service is the mutation coordinator. It admits at most one mutation per
// user identifier at a time, checks the balance invariant under that
// admission and applies the change to the ledger store.
type Service struct {
	store          ledger.Store
	locks          *keyedLocks
	publisher      events.Publisher
	logger         *slog.Logger
	storageTimeout time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher sets where committed transactions are announced.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithStorageTimeout bounds a single admitted storage write.
func WithStorageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storageTimeout = d
		}
	}
}

// NewService builds a coordinator over store.
func NewService(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		locks:          newKeyedLocks(),
		logger:         logging.Discard(),
		storageTimeout: defaultStorageTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Balance reads the wallet directly from the store. Reads take no lock.
func (s *Service) Balance(ctx context.Context, userID string) (ledger.Wallet, error) {
	if err := ValidateUserID(userID); err != nil {
		return ledger.Wallet{}, err
	}
	return s.store.Get(ctx, userID)
}

// History returns the most recent limit ledger entries of a wallet.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, userID, limit)
}

// Provision creates a wallet explicitly. A positive opening balance is
// recorded as the wallet's first credit so the balance still equals the fold
// of its history. Provisioning a wallet that already has entries with an
// opening balance is rejected to avoid double funding on retries.
func (s *Service) Provision(ctx context.Context, userID string, opening decimal.Decimal) (ledger.Wallet, error) {
	if err := ValidateUserID(userID); err != nil {
		return ledger.Wallet{}, err
	}
	if !opening.IsZero() {
		if err := money.Validate(opening); err != nil {
			return ledger.Wallet{}, err
		}
	}

	release, err := s.admit(ctx, userID)
	if err != nil {
		return ledger.Wallet{}, err
	}
	defer release()

	wctx, cancel := s.storageContext(ctx)
	defer cancel()

	if opening.IsZero() {
		w, err := s.store.Ensure(wctx, userID)
		return w, storageFailure(wctx, err)
	}

	// A wallet with no entries is left behind when an earlier attempt failed
	// between Ensure and Append, so it may still receive its opening credit.
	existing, err := s.store.Get(wctx, userID)
	switch {
	case err == nil && existing.Version > 0:
		return ledger.Wallet{}, fmt.Errorf("%w: %s", ErrWalletExists, userID)
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return ledger.Wallet{}, storageFailure(wctx, err)
	case err != nil:
		if _, err := s.store.Ensure(wctx, userID); err != nil {
			return ledger.Wallet{}, storageFailure(wctx, err)
		}
	}
	tx, err := s.store.Append(wctx, userID, ledger.TxCredit, opening)
	if err != nil {
		return ledger.Wallet{}, storageFailure(wctx, err)
	}
	s.announce(ctx, tx)
	w, err := s.store.Get(wctx, userID)
	return w, storageFailure(wctx, err)
}

// Credit increases the balance, provisioning the wallet on first use.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal) (Result, error) {
	return s.Apply(ctx, Mutation{UserID: userID, Type: ledger.TxCredit, Amount: amount})
}

// Debit decreases the balance. It never provisions a wallet.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal) (Result, error) {
	return s.Apply(ctx, Mutation{UserID: userID, Type: ledger.TxDebit, Amount: amount})
}

// Apply validates m without taking any lock, then admits it into the
// per-user critical section where the balance check and the append happen.
func (s *Service) Apply(ctx context.Context, m Mutation) (res Result, err error) {
	start := time.Now()
	defer func() {
		observeOutcome(string(m.Type), err)
		mutationDuration.WithLabelValues(string(m.Type)).Observe(time.Since(start).Seconds())
	}()

	if err := ValidateUserID(m.UserID); err != nil {
		return Result{}, err
	}
	if !m.Type.Valid() {
		return Result{}, fmt.Errorf("%w: unknown mutation type %q", ErrInvalidRequest, m.Type)
	}
	if err := money.Validate(m.Amount); err != nil {
		return Result{}, err
	}

	release, err := s.admit(ctx, m.UserID)
	if err != nil {
		return Result{}, err
	}

	tx, err := s.applyLocked(ctx, m)
	release()
	if err != nil {
		if errors.Is(err, ledger.ErrStorageUnavailable) {
			s.logger.Error("wallet mutation failed",
				slog.String("user_id", m.UserID),
				slog.String("type", string(m.Type)),
				slog.Any("error", err))
		}
		return Result{}, err
	}

	s.logger.Debug("wallet mutation applied",
		slog.String("user_id", m.UserID),
		slog.String("transaction_id", tx.ID),
		slog.Int64("seq", tx.Seq),
		slog.String("type", string(tx.Type)),
		slog.String("new_balance", money.Format(tx.ResultingBalance)))
	s.announce(ctx, tx)

	return Result{Transaction: tx, NewBalance: tx.ResultingBalance}, nil
}

// applyLocked runs inside the per-user critical section. Once admitted, the
// write is detached from caller cancellation and bounded by storageTimeout.
func (s *Service) applyLocked(ctx context.Context, m Mutation) (ledger.Transaction, error) {
	wctx, cancel := s.storageContext(ctx)
	defer cancel()

	var (
		current ledger.Wallet
		err     error
	)
	if m.Type == ledger.TxCredit {
		current, err = s.store.Ensure(wctx, m.UserID)
	} else {
		current, err = s.store.Get(wctx, m.UserID)
	}
	if err != nil {
		return ledger.Transaction{}, storageFailure(wctx, err)
	}

	if m.Type == ledger.TxDebit && current.Balance.LessThan(m.Amount) {
		return ledger.Transaction{}, fmt.Errorf("%w: balance %s, requested %s",
			ledger.ErrInsufficientFunds, money.Format(current.Balance), money.Format(m.Amount))
	}
	if m.Type == ledger.TxCredit && current.Balance.Add(m.Amount).GreaterThan(money.MaxBalance) {
		return ledger.Transaction{}, fmt.Errorf("%w: balance would exceed %s", money.ErrInvalidAmount, money.Format(money.MaxBalance))
	}

	tx, err := s.store.Append(wctx, m.UserID, m.Type, m.Amount)
	return tx, storageFailure(wctx, err)
}

// admit waits for the user's serialization slot. A caller that gives up
// while waiting leaves no trace.
func (s *Service) admit(ctx context.Context, userID string) (func(), error) {
	waitStart := time.Now()
	release, err := s.locks.acquire(ctx, userID)
	lockWaitDuration.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// storageFailure classifies an error from an admitted write. The write
// context is detached from the caller, so a context error here means the
// storage timeout fired and the outcome is a storage failure, never a
// cancellation.
func storageFailure(wctx context.Context, err error) error {
	if err == nil || errors.Is(err, ledger.ErrStorageUnavailable) ||
		errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, money.ErrInvalidAmount) {
		return err
	}
	if wctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ledger.ErrStorageUnavailable, err)
	}
	return err
}

func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
}

// announce publishes a committed entry after the user's slot is released.
// The ledger is already the source of truth, so a failure is logged and
// counted but not returned.
func (s *Service) announce(ctx context.Context, tx ledger.Transaction) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()

	err := s.publisher.Publish(pctx, events.TransactionAppended{
		Kind:             events.KindTransactionAppended,
		TransactionID:    tx.ID,
		UserID:           tx.UserID,
		Seq:              tx.Seq,
		Type:             string(tx.Type),
		Amount:           money.Format(tx.Amount),
		ResultingBalance: money.Format(tx.ResultingBalance),
		OccurredAt:       tx.CreatedAt,
	})
	if err != nil {
		eventPublishFailures.Inc()
		s.logger.Warn("publish ledger event failed",
			slog.String("transaction_id", tx.ID),
			slog.String("user_id", tx.UserID),
			slog.Any("error", err))
	}
}
