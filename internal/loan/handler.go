package loan

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/ledger"
)

// Handler exposes loan HTTP endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler builds a loan HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type applyRequest struct {
	Type       domain.LoanType `json:"type"`
	Principal  decimal.Decimal `json:"principal"`
	TermMonths int             `json:"term_months"`
	Purpose    string          `json:"purpose"`
	Collateral string          `json:"collateral"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Apply files a loan application.
func (h *Handler) Apply(c *fiber.Ctx) error {
	var req applyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	l, err := h.engine.Apply(c.UserContext(), ledger.CallerFrom(c), Application{
		Type:       req.Type,
		Principal:  req.Principal,
		TermMonths: req.TermMonths,
		Purpose:    req.Purpose,
		Collateral: req.Collateral,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(l)
}

// List returns the caller's loans. Administrators may pass ?account_id,
// or omit it to list every loan.
func (h *Handler) List(c *fiber.Ctx) error {
	loans, err := h.engine.List(c.UserContext(), ledger.CallerFrom(c), c.Query("account_id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"loans": loans})
}

// Pay repays the loan named in the path.
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req paymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.MakePayment(c.UserContext(), ledger.CallerFrom(c), c.Params("loanId"), req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Payments lists repayments of a loan.
func (h *Handler) Payments(c *fiber.Ctx) error {
	payments, err := h.engine.Payments(c.UserContext(), ledger.CallerFrom(c), c.Params("loanId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"payments": payments})
}

// Schedule returns the amortization table of a loan.
func (h *Handler) Schedule(c *fiber.Ctx) error {
	rows, err := h.engine.Schedule(c.UserContext(), ledger.CallerFrom(c), c.Params("loanId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"schedule": rows})
}

// Approve accepts a pending application.
func (h *Handler) Approve(c *fiber.Ctx) error {
	return h.transition(c, h.engine.Approve)
}

// Reject declines a pending application.
func (h *Handler) Reject(c *fiber.Ctx) error {
	return h.transition(c, h.engine.Reject)
}

// Disburse credits an approved loan to the borrower.
func (h *Handler) Disburse(c *fiber.Ctx) error {
	return h.transition(c, h.engine.Disburse)
}

type transitionFunc func(ctx context.Context, c ledger.Caller, loanID string) (domain.Loan, error)

func (h *Handler) transition(c *fiber.Ctx, fn transitionFunc) error {
	l, err := fn(c.UserContext(), ledger.CallerFrom(c), c.Params("loanId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(l)
}
