// Package audit records security and money events in the append-only audit trail.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/metrics"
	"github.com/congo-pay/teller/internal/store"
)

// Logger appends audit entries. Append never reports failure to its caller.
type Logger struct {
	store  store.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// New constructs an audit Logger.
func New(s store.AuditStore, logger *slog.Logger) *Logger {
	return &Logger{store: s, logger: logger, now: time.Now}
}

// Append writes one entry. An empty accountID records an event with no
// resolvable owner, such as a login attempt for an unknown identifier.
// The write outlives cancellation of ctx so a completed operation is
// never left without its entry.
func (l *Logger) Append(ctx context.Context, accountID, action, detail string) {
	entry := domain.AuditEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Action:    action,
		Detail:    detail,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.AppendAuditEntry(context.WithoutCancel(ctx), entry); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		logging.FromContext(ctx, l.logger).Error("audit append failed",
			"action", action,
			"account_id", accountID,
			"error", err,
		)
	}
}

// List returns the newest entries for accountID, or for every account when empty.
func (l *Logger) List(ctx context.Context, accountID string, limit int) ([]domain.AuditEntry, error) {
	return l.store.ListAuditEntries(ctx, accountID, limit)
}
