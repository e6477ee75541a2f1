package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	disbursementdomain "github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
)

// Service is the payout instruction state machine. Submit and ApplyEvent are
// independent triggers: the first reacts to queue jobs, the second to provider
// confirmations.
type Service interface {
	Submit(ctx context.Context, job Job) error
	ApplyEvent(ctx context.Context, provider string, event disbursementdomain.WebhookEvent) (*PayoutInstruction, error)
	Retry(ctx context.Context, id snowflake.ID) (*RetryResponse, error)
	Get(ctx context.Context, id snowflake.ID) (*PayoutInstruction, error)
	List(ctx context.Context, filter ListFilter) (*ListResponse, error)
	ProviderStats(ctx context.Context, provider string) (*ProviderStats, error)
}

// WebhookService verifies, parses and reconciles inbound provider callbacks.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*PayoutInstruction, error)
}
