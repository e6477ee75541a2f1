package domain

import "errors"

var (
	ErrNotFound          = errors.New("payout_not_found")
	ErrAlreadySettled    = errors.New("payout_already_settled")
	ErrInvalidTransition = errors.New("payout_invalid_transition")
	ErrInvalidStatus     = errors.New("payout_invalid_status")
)
