package routes

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/stakeflow/stakeflow/internal/amount"
	"github.com/stakeflow/stakeflow/internal/notification"
	"github.com/stakeflow/stakeflow/internal/workflow"
)

const maxJournalPage = 200

// RegisterActivityRoutes exposes the notification feed and the transaction journal.
func RegisterActivityRoutes(r fiber.Router, feed *notification.Feed, engine *workflow.Engine) {
	r.Get("/notifications", func(c *fiber.Ctx) error {
		if feed == nil {
			return c.JSON(fiber.Map{"notifications": []fiber.Map{}})
		}
		after := c.QueryInt("after", 0)
		if after < 0 {
			return fiber.NewError(http.StatusBadRequest, "after must not be negative")
		}
		entries := feed.Since(uint64(after))
		out := make([]fiber.Map, 0, len(entries))
		for _, e := range entries {
			out = append(out, fiber.Map{
				"seq":      e.Seq,
				"severity": e.Severity,
				"kind":     e.Kind,
				"body":     e.Body,
				"at":       e.At,
			})
		}
		return c.JSON(fiber.Map{"notifications": out})
	})

	r.Get("/transactions", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		if limit <= 0 || limit > maxJournalPage {
			return fiber.NewError(http.StatusBadRequest, "limit must be between 1 and 200")
		}
		entries, err := engine.Journal().Recent(c.UserContext(), limit)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		out := make([]fiber.Map, 0, len(entries))
		for _, e := range entries {
			row := fiber.Map{
				"id":           e.ID.String(),
				"kind":         e.Kind,
				"account":      e.Account.Hex(),
				"amount":       amount.Format(e.Amount),
				"state":        e.State,
				"submitted_at": e.SubmittedAt,
			}
			if e.Hash != (common.Hash{}) {
				row["hash"] = e.Hash.Hex()
			}
			if e.Error != "" {
				row["error"] = e.Error
			}
			if !e.ResolvedAt.IsZero() {
				row["resolved_at"] = e.ResolvedAt
			}
			out = append(out, row)
		}
		return c.JSON(fiber.Map{"transactions": out})
	})
}
