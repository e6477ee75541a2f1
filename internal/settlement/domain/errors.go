package domain

import "errors"

var (
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrRunNotFound       = errors.New("settlement_run_not_found")
	ErrRunAlreadyExists  = errors.New("settlement_run_already_exists")
	ErrInvestorNotFound  = errors.New("investor_not_found")
	ErrSettlementLocked  = errors.New("settlement_period_locked")
	ErrNoActiveAgreement = errors.New("no_active_agreements")
	ErrPayoutEnqueue     = errors.New("payout_enqueue_failed")
)
