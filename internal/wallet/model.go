package wallet

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
)

const maxUserIDLength = 128

var (
	// ErrInvalidRequest covers malformed input other than amounts.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidUserID rejects identifiers the ledger cannot store unambiguously.
	ErrInvalidUserID = fmt.Errorf("%w: invalid user id", ErrInvalidRequest)

	// ErrWalletExists is returned when provisioning with an opening balance
	// targets a wallet that already exists.
	ErrWalletExists = fmt.Errorf("%w: wallet already exists", ErrInvalidRequest)
)

// Mutation is a single credit or debit request.
type Mutation struct {
	UserID string
	Type   ledger.TxType
	Amount decimal.Decimal
}

// Result is the authoritative outcome of an applied mutation. Callers must
// take the balance from here rather than recomputing it.
type Result struct {
	Transaction ledger.Transaction
	NewBalance  decimal.Decimal
}

// ParseTxType maps the wire names of a mutation to a ledger type. "add" is
// what the web client sends for a credit.
func ParseTxType(raw string) (ledger.TxType, error) {
	switch strings.ToLower(raw) {
	case "credit", "add":
		return ledger.TxCredit, nil
	case "deduct", "debit":
		return ledger.TxDebit, nil
	default:
		return "", fmt.Errorf("%w: unknown mutation type %q", ErrInvalidRequest, raw)
	}
}

// ValidateUserID checks that id is non-empty, bounded and free of control
// characters.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidUserID)
	}
	if len(id) > maxUserIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidUserID, maxUserIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("%w: contains control or invalid characters", ErrInvalidUserID)
		}
	}
	return nil
}
