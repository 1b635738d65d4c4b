package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stakeflow/stakeflow/internal/workflow"
)

// RegisterStakeRoutes wires the staking page. Every mutating route runs guard
// first; write submissions are also rate limited.
func RegisterStakeRoutes(r fiber.Router, h *workflow.Handler, guard, limiter fiber.Handler) {
	r.Get("/stake", h.Page)

	r.Post("/account/connect", guard, h.Connect)
	r.Post("/account/disconnect", guard, h.Disconnect)
	r.Post("/stake/refresh", guard, h.Refresh)
	r.Put("/stake/form", guard, h.UpdateForm)
	r.Post("/stake/max", guard, h.MaxStake)
	r.Post("/unstake/max", guard, h.MaxUnstake)

	r.Post("/approve", guard, limiter, h.Approve)
	r.Post("/stake", guard, limiter, h.Stake)
	r.Post("/unstake", guard, limiter, h.Unstake)
}
