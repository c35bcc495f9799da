package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates ledger record kinds. Direction is implied by type.
type TransactionType string

const (
	TxWithdrawal       TransactionType = "WITHDRAWAL"
	TxDeposit          TransactionType = "DEPOSIT"
	TxTransfer         TransactionType = "TRANSFER"
	TxBillPayment      TransactionType = "BILL_PAYMENT"
	TxBalanceInquiry   TransactionType = "BALANCE_INQUIRY"
	TxPINChange        TransactionType = "PIN_CHANGE"
	TxLoanPayment      TransactionType = "LOAN_PAYMENT"
	TxLoanDisbursement TransactionType = "LOAN_DISBURSEMENT"
)

// TransactionStatus is the outcome of an attempted operation.
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusFailed  TransactionStatus = "FAILED"
	StatusPending TransactionStatus = "PENDING"
)

// Direction of a transfer leg.
const (
	DirectionOut = "OUT"
	DirectionIn  = "IN"
)

// Transaction is an immutable, append-only ledger record.
type Transaction struct {
	ID                 string            `json:"id"`
	AccountID          string            `json:"account_id"`
	Type               TransactionType   `json:"type"`
	Amount             decimal.Decimal   `json:"amount"`
	CounterpartAccount string            `json:"counterpart_account"`
	Direction          string            `json:"direction"`
	Reference          string            `json:"reference"`
	Status             TransactionStatus `json:"status"`
	Description        string            `json:"description"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Bill is a payee a cardholder may pay from their balance.
type Bill struct {
	ID        string    `json:"id"`
	Payee     string    `json:"payee"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}
