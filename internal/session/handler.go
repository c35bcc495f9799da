package session

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/teller/internal/middleware"
)

// Handler exposes login, second-factor and logout endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler builds a session HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Platform   string `json:"platform"`
}

type pinRequest struct {
	PIN string `json:"pin"`
}

type sessionResponse struct {
	SessionID            string    `json:"session_id"`
	AccountID            string    `json:"account_id"`
	SecondFactorRequired bool      `json:"second_factor_required"`
	RiskScore            float64   `json:"risk_score"`
	ExpiresAt            time.Time `json:"expires_at"`
}

// Login authenticates with identifier and password. The device fingerprint
// header binds the session to the terminal.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	device := Device{Fingerprint: c.Get(middleware.FingerprintHeader), Platform: req.Platform}
	s, err := h.manager.Authenticate(c.UserContext(), req.Identifier, req.Password, device)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(sessionResponse{
		SessionID:            s.ID,
		AccountID:            s.AccountID,
		SecondFactorRequired: !s.SecondFactorVerified,
		RiskScore:            s.RiskScore,
		ExpiresAt:            s.CreatedAt.Add(h.manager.Policy().SessionTTL),
	})
}

// VerifyPIN completes the second factor for the bearer session.
func (h *Handler) VerifyPIN(c *fiber.Ctx) error {
	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	sessionID, _ := middleware.Session(c)
	if err := h.manager.VerifySecondFactor(c.UserContext(), sessionID, req.PIN); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Logout ends the bearer session. Repeating it is harmless.
func (h *Handler) Logout(c *fiber.Ctx) error {
	sessionID, _ := middleware.Session(c)
	if err := h.manager.Terminate(c.UserContext(), sessionID); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
