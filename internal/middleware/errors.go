package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/logging"
)

type errorResponse struct {
	Error       string     `json:"error"`
	Code        string     `json:"code"`
	Field       string     `json:"field,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	RequestID   string     `json:"request_id,omitempty"`
}

// StatusFor maps the domain error taxonomy onto HTTP status codes and a
// stable machine-readable code.
func StatusFor(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, "http_error"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, domain.ErrAccountLocked):
		return http.StatusLocked, "account_locked"
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrInvalidPIN):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, domain.ErrSessionInvalid):
		return http.StatusUnauthorized, "session_invalid"
	case errors.Is(err, domain.ErrFraudBlocked):
		return http.StatusForbidden, "fraud_blocked"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrBillNotFound),
		errors.Is(err, domain.ErrLoanNotFound),
		errors.Is(err, domain.ErrAlertNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// ErrorHandler renders every error returned by a handler as JSON. Internal
// failures are logged and their detail withheld from the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code := StatusFor(err)
		resp := errorResponse{Error: err.Error(), Code: code}
		resp.RequestID, _ = c.Locals(requestIDHeader).(string)

		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
		}
		var le *domain.LockedError
		if errors.As(err, &le) && !le.Until.IsZero() {
			until := le.Until
			resp.LockedUntil = &until
		}
		if status >= http.StatusInternalServerError {
			logging.FromContext(c.UserContext(), logger).Error("request failed", "path", c.Path(), "error", err)
			if status == http.StatusInternalServerError {
				resp.Error = "internal error"
			}
		}
		return c.Status(status).JSON(resp)
	}
}
