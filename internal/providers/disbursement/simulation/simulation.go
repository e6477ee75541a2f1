// Package simulation is a deterministic stand-in for live disbursement
// providers. It never moves money. Auto-settle mode exists only for local and
// dry-run execution.
package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/railzwaylabs/revshare/internal/money"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var feePct = decimal.RequireFromString("1.2")

// Settler receives synthetic confirmations produced in auto-settle mode.
type Settler func(ctx context.Context, provider string, event domain.WebhookEvent) error

type Options struct {
	AutoSettle bool
	Delay      time.Duration
}

type Provider struct {
	name string
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	submitted map[string]domain.SubmitResult
	timers    map[string]*time.Timer
	settler   Settler
	closed    bool
}

// New returns a simulation provider reporting itself as name, usually the
// live provider it stands in for.
func New(name string, opts Options, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		name = "THUNES"
	}
	return &Provider{
		name:      name,
		opts:      opts,
		log:       log.Named("provider.simulation"),
		submitted: make(map[string]domain.SubmitResult),
		timers:    make(map[string]*time.Timer),
	}
}

func (p *Provider) Name() string      { return p.name }
func (p *Provider) Kind() domain.Kind { return domain.KindSimulation }

// SetSettler installs the callback used by auto-settle mode.
func (p *Provider) SetSettler(fn Settler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settler = fn
}

// SubmitPayout returns the same result for the same idempotency key, so a
// repeated submission never yields a second disbursement.
func (p *Provider) SubmitPayout(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, fmt.Errorf("%w: idempotency key required", domain.ErrProviderUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.submitted[req.IdempotencyKey]; ok {
		out := existing
		return &out, nil
	}

	key := req.IdempotencyKey
	if len(key) > 16 {
		key = key[:16]
	}
	fxRate := decimal.NewFromInt(1)
	result := domain.SubmitResult{
		ExternalID: fmt.Sprintf("%s-SIM-%s", p.name, key),
		Fee:        money.Percent(req.Amount, feePct),
		FXRate:     &fxRate,
	}
	p.submitted[req.IdempotencyKey] = result

	p.log.Info("simulated payout submission",
		zap.String("provider", p.name),
		zap.String("amount", req.Amount.String()),
		zap.String("external_id", result.ExternalID),
	)

	out := result
	return &out, nil
}

// Submitted arms the auto-settle timer. It runs only after the instruction
// carries externalID, so the synthetic confirmation always finds it.
func (p *Provider) Submitted(externalID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opts.AutoSettle || p.settler == nil || p.closed {
		return
	}
	if _, ok := p.timers[externalID]; ok {
		return
	}
	settler := p.settler
	p.timers[externalID] = time.AfterFunc(p.opts.Delay, func() {
		p.mu.Lock()
		delete(p.timers, externalID)
		p.mu.Unlock()

		p.log.Info("simulation auto-settling payout", zap.String("external_id", externalID))
		event := domain.WebhookEvent{
			ExternalID:      externalID,
			Status:          domain.OutcomeSettled,
			ProviderMessage: "Simulated settlement " + uuid.NewString(),
		}
		if err := settler(context.Background(), p.name, event); err != nil {
			p.log.Warn("simulation auto-settle failed", zap.String("external_id", externalID), zap.Error(err))
		}
	})
}

// Stop cancels pending auto-settle timers.
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

func (p *Provider) VerifySignature(http.Header, []byte) bool {
	return true
}

type webhookPayload struct {
	ExternalID string `json:"externalId"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (p *Provider) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var parsed webhookPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedWebhook, err)
	}
	externalID := parsed.ExternalID
	if externalID == "" {
		externalID = parsed.ID
	}
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing external id", domain.ErrMalformedWebhook)
	}

	event := &domain.WebhookEvent{
		ExternalID:      externalID,
		Status:          domain.OutcomeSettled,
		ProviderMessage: parsed.Message,
	}
	if strings.EqualFold(parsed.Status, string(domain.OutcomeFailed)) {
		event.Status = domain.OutcomeFailed
	}
	if event.ProviderMessage == "" {
		event.ProviderMessage = "Simulated settlement"
	}
	return event, nil
}
