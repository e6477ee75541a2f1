package simulation

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubmitPayoutDeduplicatesByKey(t *testing.T) {
	p := New("rapyd", Options{}, zap.NewNop())
	req := domain.SubmitRequest{IdempotencyKey: "abcdef0123456789ffff", Amount: decimal.NewFromInt(1000), Currency: "EUR"}

	first, err := p.SubmitPayout(context.Background(), req)
	require.NoError(t, err)
	second, err := p.SubmitPayout(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "RAPYD-SIM-abcdef0123456789", first.ExternalID)
	assert.Equal(t, first.ExternalID, second.ExternalID)
	assert.True(t, first.Fee.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, "RAPYD", p.Name())
	assert.Equal(t, domain.KindSimulation, p.Kind())
}

func TestAutoSettleInvokesSettler(t *testing.T) {
	p := New("THUNES", Options{AutoSettle: true, Delay: 10 * time.Millisecond}, zap.NewNop())
	got := make(chan domain.WebhookEvent, 1)
	p.SetSettler(func(ctx context.Context, provider string, event domain.WebhookEvent) error {
		assert.Equal(t, "THUNES", provider)
		got <- event
		return nil
	})

	res, err := p.SubmitPayout(context.Background(), domain.SubmitRequest{IdempotencyKey: "k1", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	// Nothing fires until the submission has been recorded.
	p.mu.Lock()
	assert.Empty(t, p.timers)
	p.mu.Unlock()

	var observer domain.SubmissionObserver = p
	observer.Submitted(res.ExternalID)

	select {
	case event := <-got:
		assert.Equal(t, res.ExternalID, event.ExternalID)
		assert.Equal(t, domain.OutcomeSettled, event.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("auto-settle did not fire")
	}
}

func TestStopCancelsPendingSettles(t *testing.T) {
	p := New("THUNES", Options{AutoSettle: true, Delay: time.Hour}, zap.NewNop())
	p.SetSettler(func(context.Context, string, domain.WebhookEvent) error {
		t.Error("settler must not run after Stop")
		return nil
	})
	res, err := p.SubmitPayout(context.Background(), domain.SubmitRequest{IdempotencyKey: "k1", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	p.Submitted(res.ExternalID)
	p.Stop()
	p.Submitted(res.ExternalID)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.timers)
}

func TestParseWebhookAndVerify(t *testing.T) {
	p := New("THUNES", Options{}, zap.NewNop())
	assert.True(t, p.VerifySignature(http.Header{}, nil))

	event, err := p.ParseWebhook([]byte(`{"externalId":"THUNES-SIM-1","status":"FAILED","message":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, event.Status)
	assert.Equal(t, "boom", event.ProviderMessage)

	event, err = p.ParseWebhook([]byte(`{"id":"THUNES-SIM-2"}`))
	require.NoError(t, err)
	assert.Equal(t, "THUNES-SIM-2", event.ExternalID)
	assert.Equal(t, domain.OutcomeSettled, event.Status)

	_, err = p.ParseWebhook([]byte(`{"status":"SETTLED"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedWebhook)
}
