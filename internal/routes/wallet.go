package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// RegisterWalletRoutes wires the balance read and the mutation endpoints.
// The update route is registered before the provisioning route so the
// literal segment wins over the parameter.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, limiter fiber.Handler) {
	r.Get("/wallet/:id", h.Get)
	r.Get("/wallet/:id/transactions", h.Transactions)
	r.Post("/wallet/update", limiter, h.Update)
	r.Post("/wallet/:id", limiter, h.Provision)
}
