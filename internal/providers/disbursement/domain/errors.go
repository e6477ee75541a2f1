package domain

import "errors"

var (
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrMalformedWebhook    = errors.New("malformed_webhook")
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrUnknownProvider     = errors.New("unknown_provider")
)
