package events

import (
	"context"
	"log/slog"
	"time"
)

const (
	// KindTransactionAppended is emitted after a ledger entry is committed.
	KindTransactionAppended = "wallet.transaction.appended"
)

// TransactionAppended describes a committed credit or debit. Amounts are
// fixed-precision decimal strings.
type TransactionAppended struct {
	Kind             string    `json:"kind"`
	TransactionID    string    `json:"transaction_id"`
	UserID           string    `json:"user_id"`
	Seq              int64     `json:"seq"`
	Type             string    `json:"type"`
	Amount           string    `json:"amount"`
	ResultingBalance string    `json:"resulting_balance"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Publisher delivers ledger events to downstream systems. Publication runs
// outside the per-user critical section, so consumers order one user's
// events by Seq.
type Publisher interface {
	Publish(ctx context.Context, event TransactionAppended) error
}

// LoggerPublisher writes events to the structured logger. It is used when no
// broker is configured.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, event TransactionAppended) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("ledger event",
		"kind", event.Kind,
		"transaction_id", event.TransactionID,
		"user_id", event.UserID,
		"seq", event.Seq,
		"type", event.Type,
		"amount", event.Amount,
		"resulting_balance", event.ResultingBalance,
	)
	return nil
}
