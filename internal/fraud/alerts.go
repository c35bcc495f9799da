package fraud

import (
	"context"
	"fmt"

	"github.com/congo-pay/teller/internal/domain"
)

// ListAlerts returns alerts newest first. Administrators may list every
// account by passing an empty accountID; users only see their own.
func (d *Detector) ListAlerts(ctx context.Context, actor domain.Account, accountID string, unresolvedOnly bool) ([]domain.FraudAlert, error) {
	if !actor.IsAdmin() {
		if accountID != "" && accountID != actor.ID {
			return nil, domain.ErrForbidden
		}
		accountID = actor.ID
	}
	return d.records.ListFraudAlerts(ctx, accountID, unresolvedOnly)
}

// ResolveAlert marks an alert resolved. Only administrators may resolve.
func (d *Detector) ResolveAlert(ctx context.Context, actor domain.Account, alertID string) (domain.FraudAlert, error) {
	if !actor.IsAdmin() {
		return domain.FraudAlert{}, domain.ErrForbidden
	}
	alert, err := d.records.GetFraudAlert(ctx, alertID)
	if err != nil {
		return domain.FraudAlert{}, err
	}
	if alert.Resolved {
		return alert, nil
	}
	now := d.now().UTC()
	if err := d.records.ResolveFraudAlert(ctx, alertID, actor.ID, now); err != nil {
		return domain.FraudAlert{}, err
	}
	alert.Resolved = true
	alert.ResolvedBy = actor.ID
	alert.ResolvedAt = &now
	d.audit.Append(ctx, alert.AccountID, domain.ActionFraudAlertResolve,
		fmt.Sprintf("alert=%s resolved_by=%s", alertID, actor.ID))
	return alert, nil
}
