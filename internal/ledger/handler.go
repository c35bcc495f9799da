package ledger

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/middleware"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// CallerFrom builds the Caller of an authenticated request.
func CallerFrom(c *fiber.Ctx) Caller {
	id, fp := middleware.Session(c)
	return Caller{SessionID: id, Fingerprint: fp}
}

// Handler exposes ledger HTTP endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type billRequest struct {
	Payee     string `json:"payee"`
	Reference string `json:"reference"`
}

type pinRequest struct {
	CurrentPIN string `json:"current_pin"`
	NewPIN     string `json:"new_pin"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Withdraw debits the caller's account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	r, err := h.engine.Withdraw(c.UserContext(), CallerFrom(c), req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(r)
}

// Deposit credits the caller's account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	r, err := h.engine.Deposit(c.UserContext(), CallerFrom(c), req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(r)
}

// Transfer moves funds to another account by username or account number.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	r, err := h.engine.Transfer(c.UserContext(), CallerFrom(c), req.To, req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(r)
}

// PayBill pays the bill named in the path.
func (h *Handler) PayBill(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	r, err := h.engine.PayBill(c.UserContext(), CallerFrom(c), c.Params("billId"), req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(r)
}

// Balance returns the caller's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.engine.BalanceInquiry(c.UserContext(), CallerFrom(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"balance": balance})
}

// History lists recent transactions; ?limit bounds the page.
func (h *Handler) History(c *fiber.Ctx) error {
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fiber.NewError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}
	txs, err := h.engine.History(c.UserContext(), CallerFrom(c), limit)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": txs})
}

// ChangePin replaces the caller's PIN.
func (h *Handler) ChangePin(c *fiber.Ctx) error {
	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.engine.ChangePin(c.UserContext(), CallerFrom(c), req.CurrentPIN, req.NewPIN); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ChangePassword replaces the caller's password.
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.engine.ChangePassword(c.UserContext(), CallerFrom(c), req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// AddBill registers a payee.
func (h *Handler) AddBill(c *fiber.Ctx) error {
	var req billRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.engine.AddBill(c.UserContext(), CallerFrom(c), req.Payee, req.Reference)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(bill)
}
