package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
)

// Faulty wraps a Store and lets tests fail or stall selected write paths.
type Faulty struct {
	Store

	mu       sync.Mutex
	failures map[string]faultPlan
}

type faultPlan struct {
	remaining int
	err       error
	stall     time.Duration
}

// NewFaulty wraps inner with no faults armed.
func NewFaulty(inner Store) *Faulty {
	return &Faulty{Store: inner, failures: make(map[string]faultPlan)}
}

// FailNext makes the next n calls of op return err.
func (f *Faulty) FailNext(op string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = faultPlan{remaining: n, err: err}
}

// StallNext makes the next n calls of op block for d or until the context ends.
func (f *Faulty) StallNext(op string, n int, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = faultPlan{remaining: n, stall: d}
}

func (f *Faulty) fault(ctx context.Context, op string) error {
	f.mu.Lock()
	plan, ok := f.failures[op]
	if !ok || plan.remaining == 0 {
		f.mu.Unlock()
		return nil
	}
	plan.remaining--
	f.failures[op] = plan
	f.mu.Unlock()

	if plan.stall > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(plan.stall):
			return nil
		}
	}
	return plan.err
}

func (f *Faulty) GetAccountByIdentifier(ctx context.Context, identifier string) (domain.Account, error) {
	if err := f.fault(ctx, "GetAccountByIdentifier"); err != nil {
		return domain.Account{}, err
	}
	return f.Store.GetAccountByIdentifier(ctx, identifier)
}

func (f *Faulty) UpdateBalance(ctx context.Context, id string, newBalance decimal.Decimal) error {
	if err := f.fault(ctx, "UpdateBalance"); err != nil {
		return err
	}
	return f.Store.UpdateBalance(ctx, id, newBalance)
}

func (f *Faulty) UpdateBalances(ctx context.Context, updates ...domain.BalanceUpdate) error {
	if err := f.fault(ctx, "UpdateBalances"); err != nil {
		return err
	}
	return f.Store.UpdateBalances(ctx, updates...)
}

func (f *Faulty) Commit(ctx context.Context, b Batch) error {
	if err := f.fault(ctx, "Commit"); err != nil {
		return err
	}
	return f.Store.Commit(ctx, b)
}

func (f *Faulty) AppendTransaction(ctx context.Context, tx domain.Transaction) error {
	if err := f.fault(ctx, "AppendTransaction"); err != nil {
		return err
	}
	return f.Store.AppendTransaction(ctx, tx)
}

func (f *Faulty) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	if err := f.fault(ctx, "AppendAuditEntry"); err != nil {
		return err
	}
	return f.Store.AppendAuditEntry(ctx, entry)
}

func (f *Faulty) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	if err := f.fault(ctx, "GetAccount"); err != nil {
		return domain.Account{}, err
	}
	return f.Store.GetAccount(ctx, id)
}
