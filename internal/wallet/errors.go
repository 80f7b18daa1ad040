package wallet

import (
	"context"
	"errors"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/money"
)

// Kind is the wire-level classification of a failed wallet operation.
type Kind string

const (
	KindInvalidAmount      Kind = "InvalidAmount"
	KindInsufficientFunds  Kind = "InsufficientFunds"
	KindNotFound           Kind = "NotFound"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindInvalidRequest     Kind = "InvalidRequest"
	KindCancelled          Kind = "Cancelled"
	KindInternal           Kind = "Internal"
)

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, money.ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ledger.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// Message is the human readable text shown for a kind. Storage details are
// never included.
func (k Kind) Message() string {
	switch k {
	case KindInvalidAmount:
		return "please enter a valid amount"
	case KindInsufficientFunds:
		return "insufficient balance"
	case KindNotFound:
		return "wallet not found"
	case KindStorageUnavailable:
		return "wallet service temporarily unavailable, please retry"
	case KindInvalidRequest:
		return "invalid request"
	case KindCancelled:
		return "request cancelled before it was applied"
	default:
		return "internal error"
	}
}
