package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that provisions a wallet and records an opening
// credit so the balance still equals the fold of its history.
func SeedBalance(s Store, userID string, amount decimal.Decimal) {
	ctx := context.Background()
	if _, err := s.Ensure(ctx, userID); err != nil {
		panic(err)
	}
	if amount.IsPositive() {
		if _, err := s.Append(ctx, userID, TxCredit, amount); err != nil {
			panic(err)
		}
	}
}
