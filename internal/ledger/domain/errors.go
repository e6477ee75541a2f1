package domain

import "errors"

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrLedgerImbalance = errors.New("ledger_imbalance")
)
