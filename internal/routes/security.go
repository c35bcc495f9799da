package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/fraud"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/middleware"
	"github.com/congo-pay/teller/internal/risk"
	"github.com/congo-pay/teller/internal/session"
)

// securityHandler exposes real-time threat scoring, fraud alert review
// and risk rule administration.
type securityHandler struct {
	sessions *session.Manager
	detector *fraud.Detector
	logger   *slog.Logger
}

type threatRequest struct {
	Action         string          `json:"action"`
	Platform       string          `json:"platform"`
	Amount         decimal.Decimal `json:"amount"`
	BehaviorSample *float64        `json:"behavior_sample"`
	Location       *risk.Location  `json:"location"`
}

type geoRuleRequest struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusKm  float64 `json:"radius_km"`
}

type timeRuleRequest struct {
	Days      []time.Weekday `json:"days"`
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
}

// threats scores the caller's session and stores the score on it.
func (h *securityHandler) threats(c *fiber.Ctx) error {
	var req threatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Action == "" {
		req.Action = fraud.ActionLogin
	}
	ctx := c.UserContext()
	sessionID, fingerprint := middleware.Session(c)
	lease, err := h.sessions.Begin(ctx, sessionID, fingerprint)
	if err != nil {
		return err
	}
	defer lease.Release()

	report, err := h.detector.DetectRealTimeThreats(ctx, lease.Account.ID, req.Action, fraud.ThreatContext{
		Fingerprint:    fingerprint,
		Platform:       req.Platform,
		BehaviorSample: req.BehaviorSample,
		Location:       req.Location,
		Amount:         req.Amount,
	})
	if err != nil {
		return err
	}
	if err := h.sessions.RecordRisk(ctx, sessionID, report.RiskScore); err != nil {
		logging.FromContext(ctx, h.logger).Warn("record session risk failed", "session_id", sessionID, "error", err)
	}
	return c.Status(http.StatusOK).JSON(report)
}

// alerts lists the caller's own fraud alerts. ?unresolved=true hides
// resolved ones.
func (h *securityHandler) alerts(c *fiber.Ctx) error {
	lease, err := h.begin(c)
	if err != nil {
		return err
	}
	defer lease.Release()

	list, err := h.detector.ListAlerts(c.UserContext(), lease.Account, lease.Account.ID, c.QueryBool("unresolved"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"alerts": list})
}

// allAlerts is the review queue. ?account_id narrows it to one account.
func (h *securityHandler) allAlerts(c *fiber.Ctx) error {
	lease, err := h.begin(c)
	if err != nil {
		return err
	}
	defer lease.Release()
	if !lease.Account.IsAdmin() {
		return domain.ErrForbidden
	}

	list, err := h.detector.ListAlerts(c.UserContext(), lease.Account, c.Query("account_id"), c.QueryBool("unresolved"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"alerts": list})
}

func (h *securityHandler) resolveAlert(c *fiber.Ctx) error {
	lease, err := h.begin(c)
	if err != nil {
		return err
	}
	defer lease.Release()

	alert, err := h.detector.ResolveAlert(c.UserContext(), lease.Account, c.Params("alertId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(alert)
}

func (h *securityHandler) addGeoRule(c *fiber.Ctx) error {
	var req geoRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	lease, err := h.begin(c)
	if err != nil {
		return err
	}
	defer lease.Release()

	rule, err := h.detector.AddGeoRule(c.UserContext(), lease.Account, risk.GeoRule{
		AccountID: c.Params("accountId"),
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		RadiusKm:  req.RadiusKm,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(rule)
}

func (h *securityHandler) addTimeRule(c *fiber.Ctx) error {
	var req timeRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	lease, err := h.begin(c)
	if err != nil {
		return err
	}
	defer lease.Release()

	rule, err := h.detector.AddTimeRule(c.UserContext(), lease.Account, risk.TimeRule{
		AccountID: c.Params("accountId"),
		Days:      req.Days,
		StartHour: req.StartHour,
		EndHour:   req.EndHour,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(rule)
}

func (h *securityHandler) begin(c *fiber.Ctx) (*session.Lease, error) {
	sessionID, fingerprint := middleware.Session(c)
	return h.sessions.Begin(c.UserContext(), sessionID, fingerprint)
}
