package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/metrics"
	"github.com/congo-pay/teller/internal/store"
)

// Withdraw debits the caller's account. Suspicious withdrawals are refused.
func (e *Engine) Withdraw(ctx context.Context, c Caller, amount decimal.Decimal) (Receipt, error) {
	return e.Post(ctx, c, Posting{
		Type:        domain.TxWithdrawal,
		Amount:      amount,
		Screening:   ScreenBlock,
		Description: "cash withdrawal",
	})
}

// Deposit credits the caller's account. Fraud findings are recorded but
// never stop a deposit.
func (e *Engine) Deposit(ctx context.Context, c Caller, amount decimal.Decimal) (Receipt, error) {
	return e.Post(ctx, c, Posting{
		Type:        domain.TxDeposit,
		Amount:      amount,
		Credit:      true,
		Screening:   ScreenFlag,
		Description: "cash deposit",
	})
}

// PayBill debits the caller's account toward an existing payee.
func (e *Engine) PayBill(ctx context.Context, c Caller, billID string, amount decimal.Decimal) (Receipt, error) {
	return e.Post(ctx, c, Posting{
		Type:      domain.TxBillPayment,
		Amount:    amount,
		Screening: ScreenBlock,
		Prepare: func(ctx context.Context, _ domain.Account, _ *Draft) error {
			_, err := e.store.GetBill(ctx, billID)
			return err
		},
		Description: "bill " + billID,
	})
}

// AddBill registers a payee cardholders may pay. Administrators only.
func (e *Engine) AddBill(ctx context.Context, c Caller, payee, reference string) (domain.Bill, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return domain.Bill{}, err
	}
	defer lease.Release()
	if !lease.Account.IsAdmin() {
		return domain.Bill{}, domain.ErrForbidden
	}
	if strings.TrimSpace(payee) == "" {
		return domain.Bill{}, domain.Invalid("payee", "is required")
	}
	bill := domain.Bill{
		ID:        uuid.NewString(),
		Payee:     strings.TrimSpace(payee),
		Reference: reference,
		CreatedAt: e.now().UTC(),
	}
	if err := e.persist(ctx, func(ctx context.Context) error { return e.store.CreateBill(ctx, bill) }); err != nil {
		return domain.Bill{}, err
	}
	e.audit.Append(ctx, lease.Account.ID, domain.ActionBillCreated, fmt.Sprintf("bill %s for %s", bill.ID, bill.Payee))
	return bill, nil
}

// TransferResult describes both legs of a committed transfer.
type TransferResult struct {
	Reference string             `json:"reference"`
	Outgoing  domain.Transaction `json:"outgoing"`
	Incoming  domain.Transaction `json:"incoming"`
	Balance   decimal.Decimal    `json:"balance"`
}

// Transfer moves amount from the caller to the account matching
// toIdentifier. Both balances change in one commit or not at all.
func (e *Engine) Transfer(ctx context.Context, c Caller, toIdentifier string, amount decimal.Decimal) (TransferResult, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return TransferResult{}, err
	}
	defer lease.Release()

	if err := domain.ValidateAmount(amount); err != nil {
		return TransferResult{}, err
	}
	p := Posting{Type: domain.TxTransfer, Amount: amount}
	senderID := lease.Account.ID

	var recipient domain.Account
	err = e.persist(ctx, func(ctx context.Context) error {
		var err error
		recipient, err = e.store.GetAccountByIdentifier(ctx, toIdentifier)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			e.recordFailed(ctx, senderID, p, amount, "recipient not found")
		}
		return TransferResult{}, err
	}
	if recipient.ID == senderID {
		return TransferResult{}, domain.Invalid("recipient", "must differ from the sender")
	}

	unlock, err := e.locks.LockPair(ctx, senderID, recipient.ID)
	if err != nil {
		return TransferResult{}, err
	}
	defer unlock()

	sender, err := e.loadAccount(ctx, senderID)
	if err != nil {
		return TransferResult{}, err
	}
	if sender.Locked {
		return TransferResult{}, &domain.LockedError{Reason: sender.LockReason}
	}
	if recipient, err = e.loadAccount(ctx, recipient.ID); err != nil {
		return TransferResult{}, err
	}
	if recipient.Locked {
		e.recordFailed(ctx, sender.ID, p, amount, "recipient account is locked")
		return TransferResult{}, fmt.Errorf("recipient: %w", domain.ErrAccountLocked)
	}

	verdict, err := e.detector.Evaluate(ctx, sender.ID, domain.TxTransfer, amount)
	if err != nil {
		e.recordFailed(ctx, sender.ID, p, amount, "fraud screening unavailable")
		return TransferResult{}, fmt.Errorf("fraud screening: %w", err)
	}
	if verdict.Suspicious {
		metrics.FraudBlocksTotal.WithLabelValues(string(domain.TxTransfer)).Inc()
		logging.FromContext(ctx, e.logger).Warn("transfer blocked by fraud detection", "account_id", sender.ID, "reason", verdict.Reason)
		e.recordFailed(ctx, sender.ID, p, amount, verdict.Reason)
		return TransferResult{}, verdict.Err()
	}
	if sender.Balance.LessThan(amount) {
		e.recordFailed(ctx, sender.ID, p, amount, domain.ErrInsufficientFunds.Error())
		return TransferResult{}, domain.ErrInsufficientFunds
	}

	now := e.now().UTC()
	ref := uuid.NewString()
	out := domain.Transaction{
		ID:                 uuid.NewString(),
		AccountID:          sender.ID,
		Type:               domain.TxTransfer,
		Amount:             amount,
		CounterpartAccount: recipient.AccountNumber,
		Direction:          domain.DirectionOut,
		Reference:          ref,
		Status:             domain.StatusSuccess,
		Description:        "transfer to " + recipient.AccountNumber,
		CreatedAt:          now,
	}
	in := out
	in.ID = uuid.NewString()
	in.AccountID = recipient.ID
	in.CounterpartAccount = sender.AccountNumber
	in.Direction = domain.DirectionIn
	in.Description = "transfer from " + sender.AccountNumber

	senderBalance := sender.Balance.Sub(amount)
	batch := store.Batch{
		Balances: []domain.BalanceUpdate{
			{AccountID: sender.ID, NewBalance: senderBalance, Prior: &sender.Balance},
			{AccountID: recipient.ID, NewBalance: recipient.Balance.Add(amount), Prior: &recipient.Balance},
		},
		Transactions: []domain.Transaction{out, in},
	}
	if err := e.persist(ctx, func(ctx context.Context) error { return e.store.Commit(ctx, batch) }); err != nil {
		e.recordFailed(ctx, sender.ID, p, amount, err.Error())
		return TransferResult{}, err
	}

	metrics.TransactionsTotal.WithLabelValues(string(domain.TxTransfer), string(domain.StatusSuccess)).Inc()
	e.audit.Append(ctx, sender.ID, domain.ActionTransfer, fmt.Sprintf("transfer %s to %s, reference %s",
		amount.StringFixed(2), recipient.AccountNumber, ref))

	return TransferResult{Reference: ref, Outgoing: out, Incoming: in, Balance: senderBalance}, nil
}

// BalanceInquiry returns the caller's balance and journals the inquiry.
func (e *Engine) BalanceInquiry(ctx context.Context, c Caller) (decimal.Decimal, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return decimal.Zero, err
	}
	defer lease.Release()

	acct := lease.Account
	e.journal(ctx, acct.ID, domain.TxBalanceInquiry, "balance inquiry")
	e.audit.Append(ctx, acct.ID, domain.ActionBalanceInquiry, "balance "+acct.Balance.StringFixed(2))
	return acct.Balance, nil
}

// History lists the caller's most recent transactions, newest first.
func (e *Engine) History(ctx context.Context, c Caller, limit int) ([]domain.Transaction, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return e.store.LastTransactions(ctx, lease.Account.ID, limit)
}

// ChangePin replaces the caller's PIN. A wrong current PIN counts toward
// the PIN lockout.
func (e *Engine) ChangePin(ctx context.Context, c Caller, currentPIN, newPIN string) error {
	if err := domain.ValidatePIN(newPIN); err != nil {
		return err
	}
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return err
	}
	defer lease.Release()

	acct := lease.Account
	if err := e.sessions.CheckPIN(ctx, acct, currentPIN); err != nil {
		e.audit.Append(ctx, acct.ID, domain.ActionPINChange, "FAILED: current PIN mismatch")
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPIN), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := e.persist(ctx, func(ctx context.Context) error { return e.store.UpdatePIN(ctx, acct.ID, hash) }); err != nil {
		return err
	}
	e.journal(ctx, acct.ID, domain.TxPINChange, "PIN changed")
	e.audit.Append(ctx, acct.ID, domain.ActionPINChange, "PIN changed")
	return nil
}

// ChangePassword replaces the caller's password and clears must-change.
// A wrong current password counts toward the password lockout.
func (e *Engine) ChangePassword(ctx context.Context, c Caller, currentPassword, newPassword string) error {
	if err := domain.ValidatePassword(newPassword); err != nil {
		return err
	}
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return err
	}
	defer lease.Release()

	acct := lease.Account
	if err := e.sessions.CheckPassword(ctx, acct, currentPassword); err != nil {
		e.audit.Append(ctx, acct.ID, domain.ActionPasswordChange, "FAILED: current password mismatch")
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	changedAt := e.now().UTC()
	if err := e.persist(ctx, func(ctx context.Context) error {
		return e.store.UpdatePassword(ctx, acct.ID, hash, changedAt)
	}); err != nil {
		return err
	}
	e.audit.Append(ctx, acct.ID, domain.ActionPasswordChange, "password changed")
	return nil
}

// journal appends a zero-amount record for an operation that never moves money.
func (e *Engine) journal(ctx context.Context, accountID string, t domain.TransactionType, description string) {
	tx := domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Type:        t,
		Amount:      decimal.Zero,
		Status:      domain.StatusSuccess,
		Description: description,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.persist(ctx, func(ctx context.Context) error { return e.store.AppendTransaction(ctx, tx) }); err != nil {
		logging.FromContext(ctx, e.logger).Error("journal transaction", "account_id", accountID, "type", t, "error", err)
		return
	}
	metrics.TransactionsTotal.WithLabelValues(string(t), string(domain.StatusSuccess)).Inc()
}
