package workflow

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/stakeflow/stakeflow/internal/amount"
	"github.com/stakeflow/stakeflow/internal/chain"
)

// Handler exposes the staking page over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a workflow handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Connect binds the account in the request body.
func (h *Handler) Connect(c *fiber.Ctx) error {
	var req ConnectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if !common.IsHexAddress(req.Address) {
		return fiber.NewError(http.StatusBadRequest, "address must be a 20-byte hex string")
	}
	if err := h.engine.Connect(c.UserContext(), common.HexToAddress(req.Address)); err != nil {
		return toHTTPError(err)
	}
	return h.page(c, http.StatusOK)
}

// Disconnect unbinds the account.
func (h *Handler) Disconnect(c *fiber.Ctx) error {
	if err := h.engine.Disconnect(); err != nil {
		return toHTTPError(err)
	}
	return h.page(c, http.StatusOK)
}

// Page renders the staking page.
func (h *Handler) Page(c *fiber.Ctx) error {
	return h.page(c, http.StatusOK)
}

// Refresh re-reads every balance before rendering.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	h.engine.Refresh(c.UserContext())
	return h.page(c, http.StatusOK)
}

// UpdateForm sets either amount field.
func (h *Handler) UpdateForm(c *fiber.Ctx) error {
	var req FormRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.StakeAmount != nil {
		if err := h.engine.SetStakeAmount(*req.StakeAmount); err != nil {
			return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("stake_amount: %v", err))
		}
	}
	if req.UnstakeAmount != nil {
		if err := h.engine.SetUnstakeAmount(*req.UnstakeAmount); err != nil {
			return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("unstake_amount: %v", err))
		}
	}
	return h.page(c, http.StatusOK)
}

// MaxStake copies the wallet balance into the stake field.
func (h *Handler) MaxStake(c *fiber.Ctx) error {
	h.engine.SetMaxStake()
	return h.page(c, http.StatusOK)
}

// MaxUnstake copies the staked position into the unstake field.
func (h *Handler) MaxUnstake(c *fiber.Ctx) error {
	h.engine.SetMaxUnstake()
	return h.page(c, http.StatusOK)
}

// Approve submits an approve.
func (h *Handler) Approve(c *fiber.Ctx) error {
	return h.act(c, chain.KindApprove)
}

// Stake submits a deposit.
func (h *Handler) Stake(c *fiber.Ctx) error {
	return h.act(c, chain.KindDeposit)
}

// Unstake submits a withdraw.
func (h *Handler) Unstake(c *fiber.Ctx) error {
	return h.act(c, chain.KindWithdraw)
}

func (h *Handler) act(c *fiber.Ctx, kind chain.Kind) error {
	if len(c.Body()) > 0 {
		var req ActionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if req.Amount != nil {
			set := h.engine.SetStakeAmount
			if kind == chain.KindWithdraw {
				set = h.engine.SetUnstakeAmount
			}
			if err := set(*req.Amount); err != nil {
				return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("%s: %v", inputFor(kind), err))
			}
		}
	}

	var (
		tx  *PendingTransaction
		err error
	)
	switch kind {
	case chain.KindApprove:
		tx, err = h.engine.Approve(c.UserContext())
	case chain.KindDeposit:
		tx, err = h.engine.Deposit(c.UserContext())
	default:
		tx, err = h.engine.Withdraw(c.UserContext())
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusAccepted).JSON(toTransactionResponse(tx.Outcome()))
}

func (h *Handler) page(c *fiber.Ctx, status int) error {
	return c.Status(status).JSON(toPageResponse(h.engine.Snapshot()))
}

func toHTTPError(err error) error {
	var rej *Rejection
	switch {
	case errors.As(err, &rej):
		return fiber.NewError(http.StatusUnprocessableEntity, rej.Error())
	case errors.Is(err, ErrBusy), errors.Is(err, ErrAlreadyConnected):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, chain.ErrUnknownSigner):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSubmission):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	case errors.Is(err, amount.ErrInvalid), errors.Is(err, amount.ErrNegative),
		errors.Is(err, amount.ErrPrecision), errors.Is(err, amount.ErrOverflow):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
