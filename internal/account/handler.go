package account

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/ledger"
)

// Handler exposes onboarding and account administration endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username       string          `json:"username"`
	Password       string          `json:"password"`
	PIN            string          `json:"pin"`
	Role           domain.Role     `json:"role"`
	InitialDeposit decimal.Decimal `json:"initial_deposit"`
}

func (r registerRequest) registration() Registration {
	return Registration{
		Username:       r.Username,
		Password:       r.Password,
		PIN:            r.PIN,
		Role:           r.Role,
		InitialDeposit: r.InitialDeposit,
	}
}

// Register handles self-service onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Register(c.UserContext(), req.registration())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(p)
}

// Create opens an account for someone else. Administrators only.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Create(c.UserContext(), ledger.CallerFrom(c), req.registration())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(p)
}

// Profile returns the caller's account.
func (h *Handler) Profile(c *fiber.Ctx) error {
	p, err := h.service.Profile(c.UserContext(), ledger.CallerFrom(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(p)
}

// Unlock clears a lockout. Administrators only.
func (h *Handler) Unlock(c *fiber.Ctx) error {
	if err := h.service.Unlock(c.UserContext(), ledger.CallerFrom(c), c.Params("accountId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
