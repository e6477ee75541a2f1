package domain

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindThunes     Kind = "THUNES"
	KindRapyd      Kind = "RAPYD"
	KindSimulation Kind = "SIMULATION"
)

// Outcome is the canonical webhook result. Provider vocabularies map onto it.
type Outcome string

const (
	OutcomeSettled Outcome = "SETTLED"
	OutcomeFailed  Outcome = "FAILED"
)

type Beneficiary struct {
	Name        string
	PhoneOrIBAN string
	WalletType  string
	Country     string
}

type SubmitRequest struct {
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Beneficiary    Beneficiary
}

type SubmitResult struct {
	ExternalID string
	Fee        decimal.Decimal
	FXRate     *decimal.Decimal
}

type WebhookEvent struct {
	ExternalID      string
	Status          Outcome
	ProviderMessage string
}

// Provider is the disbursement capability set shared by live and simulated
// providers.
type Provider interface {
	// Name is the identifier stored on payout instructions and used in webhook routes.
	Name() string
	Kind() Kind
	SubmitPayout(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	VerifySignature(headers http.Header, payload []byte) bool
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// SubmissionObserver is implemented by providers that act once a submission
// has been recorded against its instruction.
type SubmissionObserver interface {
	Submitted(externalID string)
}

type Config struct {
	Name           string
	BaseURL        string
	APIKey         string
	APISecret      string
	WalletCurrency string
}
