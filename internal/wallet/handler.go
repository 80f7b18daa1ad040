package wallet

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/logging"
	"github.com/congo-pay/wallet_ledger/internal/money"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{service: service, logger: logger}
}

type updateRequest struct {
	UserID string          `json:"user_id"`
	Type   string          `json:"type"`
	Amount json.RawMessage `json:"amount"`
}

type provisionRequest struct {
	OpeningBalance json.RawMessage `json:"opening_balance"`
}

type walletResponse struct {
	UserID           string    `json:"user_id"`
	AvailableBalance string    `json:"available_balance"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type transactionResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Seq              int64     `json:"seq"`
	Type             string    `json:"type"`
	Amount           string    `json:"amount"`
	ResultingBalance string    `json:"resulting_balance"`
	CreatedAt        time.Time `json:"created_at"`
}

type errorBody struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Get returns the current balance of a wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Balance(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallet": toWalletResponse(w)})
}

// Update applies a credit or a debit and returns the authoritative balance.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req updateRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return h.fail(c, ErrInvalidRequest)
	}
	txType, err := ParseTxType(req.Type)
	if err != nil {
		return h.fail(c, err)
	}
	amount, err := money.ParseJSON(req.Amount)
	if err != nil {
		return h.fail(c, err)
	}

	res, err := h.service.Apply(c.UserContext(), Mutation{UserID: req.UserID, Type: txType, Amount: amount})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"new_balance": money.Format(res.NewBalance),
		"transaction": toTransactionResponse(res.Transaction),
	})
}

// Provision creates the wallet, optionally with an opening balance.
func (h *Handler) Provision(c *fiber.Ctx) error {
	opening := decimal.Zero
	if body := c.Body(); len(body) > 0 {
		var req provisionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return h.fail(c, ErrInvalidRequest)
		}
		if len(req.OpeningBalance) > 0 && string(req.OpeningBalance) != "null" {
			amount, err := money.ParseJSON(req.OpeningBalance)
			if err != nil {
				return h.fail(c, err)
			}
			opening = amount
		}
	}

	w, err := h.service.Provision(c.UserContext(), c.Params("id"), opening)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"wallet": toWalletResponse(w)})
}

// Transactions lists the most recent ledger entries of a wallet in order.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	userID := c.Params("id")
	if _, err := h.service.Balance(c.UserContext(), userID); err != nil {
		return h.fail(c, err)
	}
	txs, err := h.service.History(c.UserContext(), userID, limit)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	kind := KindOf(err)
	status := StatusOf(kind)
	if status >= http.StatusInternalServerError {
		reqID, _ := c.Locals("X-Request-ID").(string)
		h.logger.Error("wallet request failed",
			slog.String("request_id", reqID),
			slog.String("path", c.Path()),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	}
	return c.Status(status).JSON(fiber.Map{"error": errorBody{Kind: kind, Message: kind.Message()}})
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind Kind) int {
	switch kind {
	case KindInvalidAmount, KindInvalidRequest:
		return http.StatusBadRequest
	case KindInsufficientFunds:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		UserID:           w.UserID,
		AvailableBalance: money.Format(w.Balance),
		Version:          w.Version,
		UpdatedAt:        w.UpdatedAt,
	}
}

func toTransactionResponse(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:               tx.ID,
		UserID:           tx.UserID,
		Seq:              tx.Seq,
		Type:             string(tx.Type),
		Amount:           money.Format(tx.Amount),
		ResultingBalance: money.Format(tx.ResultingBalance),
		CreatedAt:        tx.CreatedAt,
	}
}
