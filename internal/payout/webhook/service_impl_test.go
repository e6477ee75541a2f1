package webhook

import (
	"context"
	"net/http"
	"testing"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement"
	disbursementdomain "github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement/thunes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPayouts struct {
	mock.Mock
	payoutdomain.Service
}

func (m *mockPayouts) ApplyEvent(ctx context.Context, provider string, event disbursementdomain.WebhookEvent) (*payoutdomain.PayoutInstruction, error) {
	args := m.Called(ctx, provider, event)
	p, _ := args.Get(0).(*payoutdomain.PayoutInstruction)
	return p, args.Error(1)
}

const secret = "whsec_test"

func newService(payouts payoutdomain.Service) payoutdomain.WebhookService {
	provider := thunes.New(disbursementdomain.Config{
		Name: "THUNES", BaseURL: "https://api.thunes.test", APIKey: "key", APISecret: secret,
	}, zap.NewNop())
	return NewService(Params{
		Log:      zap.NewNop(),
		Registry: disbursement.NewStaticRegistry(provider),
		Payouts:  payouts,
	})
}

func signedHeaders(body []byte) http.Header {
	h := http.Header{}
	h.Set("X-Thunes-Timestamp", "1767225600")
	h.Set("X-Thunes-Signature", thunes.Sign("1767225600", body, secret))
	return h
}

func TestIngestWebhookAppliesVerifiedEvent(t *testing.T) {
	payouts := &mockPayouts{}
	svc := newService(payouts)
	body := []byte(`{"transaction_id":"TX-1","status":"completed","amount":100.00,"currency":"EUR","message":"paid"}`)

	want := disbursementdomain.WebhookEvent{ExternalID: "TX-1", Status: disbursementdomain.OutcomeSettled, ProviderMessage: "paid"}
	payouts.On("ApplyEvent", mock.Anything, "THUNES", want).
		Return(&payoutdomain.PayoutInstruction{ID: snowflake.ID(7), Status: payoutdomain.StatusSettled}, nil)

	p, err := svc.IngestWebhook(context.Background(), "thunes", body, signedHeaders(body))
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.StatusSettled, p.Status)
	payouts.AssertExpectations(t)
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	payouts := &mockPayouts{}
	svc := newService(payouts)
	body := []byte(`{"transaction_id":"TX-1","status":"completed","amount":100.00,"currency":"EUR"}`)

	headers := signedHeaders(body)
	headers.Set("X-Thunes-Signature", "deadbeef")

	_, err := svc.IngestWebhook(context.Background(), "THUNES", body, headers)
	assert.ErrorIs(t, err, disbursementdomain.ErrInvalidSignature)
	payouts.AssertNotCalled(t, "ApplyEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestWebhookRejectsSchemaViolation(t *testing.T) {
	payouts := &mockPayouts{}
	svc := newService(payouts)
	body := []byte(`{"transaction_id":"TX-1","status":"pending"}`)

	_, err := svc.IngestWebhook(context.Background(), "THUNES", body, signedHeaders(body))
	assert.ErrorIs(t, err, disbursementdomain.ErrMalformedWebhook)
}

func TestIngestWebhookRejectsUnknownProviderAndInvalidJSON(t *testing.T) {
	svc := newService(&mockPayouts{})

	_, err := svc.IngestWebhook(context.Background(), "rapyd", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, disbursementdomain.ErrUnknownProvider)

	_, err = svc.IngestWebhook(context.Background(), "THUNES", []byte(`not-json`), http.Header{})
	assert.ErrorIs(t, err, disbursementdomain.ErrMalformedWebhook)
}

func TestIngestWebhookPropagatesNotFound(t *testing.T) {
	payouts := &mockPayouts{}
	svc := newService(payouts)
	body := []byte(`{"transaction_id":"TX-404","status":"failed","amount":1,"currency":"EUR"}`)
	payouts.On("ApplyEvent", mock.Anything, "THUNES", mock.Anything).Return(nil, payoutdomain.ErrNotFound)

	_, err := svc.IngestWebhook(context.Background(), "THUNES", body, signedHeaders(body))
	assert.ErrorIs(t, err, payoutdomain.ErrNotFound)
}

func TestMaskPayload(t *testing.T) {
	raw := []byte(`{"id":"evt","data":{"ewallet":"+243810000001","beneficiary":{"name":"x"},"amount":"10"}}`)
	masked := string(maskPayload(raw))

	assert.Contains(t, masked, `"ewallet":"+24***001"`)
	assert.Contains(t, masked, `"beneficiary":"***"`)
	assert.Contains(t, masked, `"amount":"10"`)
	assert.Equal(t, "plain", string(maskPayload([]byte("plain"))))
}
