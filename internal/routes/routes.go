package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/congo-pay/teller/internal/account"
	"github.com/congo-pay/teller/internal/ledger"
	"github.com/congo-pay/teller/internal/loan"
	"github.com/congo-pay/teller/internal/metrics"
	"github.com/congo-pay/teller/internal/middleware"
	"github.com/congo-pay/teller/internal/session"
)

// Setup configures middlewares and all application routes. The app must be
// built with middleware.ErrorHandler so domain errors map onto statuses.
func Setup(app *fiber.App, d Deps, s *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLog(d.Logger))
	if d.Cfg.IsDevelopment() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(metrics.Middleware())

	RegisterHealthRoutes(app, d, s)
	app.Get("/metrics", metrics.Handler())

	sessionHandler := session.NewHandler(s.Sessions)
	ledgerHandler := ledger.NewHandler(s.Ledger)
	loanHandler := loan.NewHandler(s.Loans)
	accountHandler := account.NewHandler(s.Accounts)
	security := &securityHandler{sessions: s.Sessions, detector: s.Detector, logger: d.Logger}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	api.Post("/accounts/register", accountHandler.Register)
	api.Post("/auth/login", middleware.LoginRateLimit(d.Cache, d.Cfg.Security.LoginRateLimitPerMinute, d.Logger), sessionHandler.Login)

	// Session routes
	protected := api.Group("", middleware.SessionAuth())
	protected.Post("/auth/verify-pin", sessionHandler.VerifyPIN)
	protected.Post("/auth/logout", sessionHandler.Logout)

	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)

	acct := protected.Group("/account")
	acct.Get("/profile", accountHandler.Profile)
	acct.Get("/balance", ledgerHandler.Balance)
	acct.Get("/history", ledgerHandler.History)
	acct.Post("/withdraw", idem, ledgerHandler.Withdraw)
	acct.Post("/deposit", idem, ledgerHandler.Deposit)
	acct.Post("/transfer", idem, ledgerHandler.Transfer)
	acct.Post("/pin", ledgerHandler.ChangePin)
	acct.Post("/password", ledgerHandler.ChangePassword)

	protected.Post("/bills/:billId/pay", idem, ledgerHandler.PayBill)

	loans := protected.Group("/loans")
	loans.Get("", loanHandler.List)
	loans.Post("", loanHandler.Apply)
	loans.Post("/:loanId/pay", idem, loanHandler.Pay)
	loans.Get("/:loanId/payments", loanHandler.Payments)
	loans.Get("/:loanId/schedule", loanHandler.Schedule)

	protected.Post("/risk/threats", security.threats)
	protected.Get("/risk/alerts", security.alerts)

	// Administration; role checks happen in the services.
	admin := protected.Group("/admin")
	admin.Post("/accounts", accountHandler.Create)
	admin.Post("/accounts/:accountId/unlock", accountHandler.Unlock)
	admin.Post("/accounts/:accountId/geo-rules", security.addGeoRule)
	admin.Post("/accounts/:accountId/time-rules", security.addTimeRule)
	admin.Post("/bills", ledgerHandler.AddBill)
	admin.Get("/alerts", security.allAlerts)
	admin.Post("/alerts/:alertId/resolve", security.resolveAlert)
	admin.Post("/loans/:loanId/approve", loanHandler.Approve)
	admin.Post("/loans/:loanId/reject", loanHandler.Reject)
	admin.Post("/loans/:loanId/disburse", idem, loanHandler.Disburse)
}
