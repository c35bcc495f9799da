package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/risk"
)

// AddGeoRule registers an allowed zone for an account. Administrators only.
func (d *Detector) AddGeoRule(ctx context.Context, actor domain.Account, rule risk.GeoRule) (risk.GeoRule, error) {
	if !actor.IsAdmin() {
		return risk.GeoRule{}, domain.ErrForbidden
	}
	switch {
	case rule.AccountID == "":
		return risk.GeoRule{}, domain.Invalid("account_id", "is required")
	case rule.Latitude < -90 || rule.Latitude > 90:
		return risk.GeoRule{}, domain.Invalid("latitude", "must be within [-90, 90]")
	case rule.Longitude < -180 || rule.Longitude > 180:
		return risk.GeoRule{}, domain.Invalid("longitude", "must be within [-180, 180]")
	case rule.RadiusKm <= 0:
		return risk.GeoRule{}, domain.Invalid("radius_km", "must be positive")
	}
	if _, err := d.records.GetAccount(ctx, rule.AccountID); err != nil {
		return risk.GeoRule{}, err
	}
	rule.ID = uuid.NewString()
	rule.CreatedAt = d.now().UTC()
	if err := d.assessor.Store().AddGeoRule(ctx, rule); err != nil {
		return risk.GeoRule{}, fmt.Errorf("add geo rule: %w", err)
	}
	d.audit.Append(ctx, rule.AccountID, domain.ActionRiskRuleAdded,
		fmt.Sprintf("geo zone=%q radius_km=%.1f by=%s", rule.Name, rule.RadiusKm, actor.ID))
	return rule, nil
}

// AddTimeRule registers an allowed weekly window for an account.
// Administrators only.
func (d *Detector) AddTimeRule(ctx context.Context, actor domain.Account, rule risk.TimeRule) (risk.TimeRule, error) {
	if !actor.IsAdmin() {
		return risk.TimeRule{}, domain.ErrForbidden
	}
	switch {
	case rule.AccountID == "":
		return risk.TimeRule{}, domain.Invalid("account_id", "is required")
	case rule.StartHour < 0 || rule.StartHour > 23:
		return risk.TimeRule{}, domain.Invalid("start_hour", "must be within [0, 23]")
	case rule.EndHour < 0 || rule.EndHour > 24:
		return risk.TimeRule{}, domain.Invalid("end_hour", "must be within [0, 24]")
	case rule.StartHour == rule.EndHour:
		return risk.TimeRule{}, domain.Invalid("end_hour", "must differ from start_hour")
	}
	for _, day := range rule.Days {
		if day < time.Sunday || day > time.Saturday {
			return risk.TimeRule{}, domain.Invalid("days", "must be weekdays 0 (Sunday) to 6")
		}
	}
	if _, err := d.records.GetAccount(ctx, rule.AccountID); err != nil {
		return risk.TimeRule{}, err
	}
	rule.ID = uuid.NewString()
	rule.CreatedAt = d.now().UTC()
	if err := d.assessor.Store().AddTimeRule(ctx, rule); err != nil {
		return risk.TimeRule{}, fmt.Errorf("add time rule: %w", err)
	}
	d.audit.Append(ctx, rule.AccountID, domain.ActionRiskRuleAdded,
		fmt.Sprintf("window %02d-%02d days=%v by=%s", rule.StartHour, rule.EndHour, rule.Days, actor.ID))
	return rule, nil
}
