package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement"
	disbursementdomain "github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/railzwaylabs/revshare/internal/security/signing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Registry *disbursement.Registry
	Payouts  payoutdomain.Service
}

type Service struct {
	log      *zap.Logger
	registry *disbursement.Registry
	payouts  payoutdomain.Service
}

func NewService(p Params) payoutdomain.WebhookService {
	return &Service{
		log:      p.Log.Named("payout.webhook"),
		registry: p.Registry,
		payouts:  p.Payouts,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*payoutdomain.PayoutInstruction, error) {
	provider = strings.ToUpper(strings.TrimSpace(provider))
	adapter, err := s.registry.Lookup(provider)
	if err != nil {
		s.log.Warn("webhook for inactive provider", zap.String("provider", provider))
		return nil, err
	}
	if !json.Valid(payload) {
		return nil, disbursementdomain.ErrMalformedWebhook
	}

	s.log.Info("processing webhook",
		zap.String("provider", provider),
		zap.Int("payload_size", len(payload)),
	)

	if !adapter.VerifySignature(headers, payload) {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return nil, disbursementdomain.ErrInvalidSignature
	}

	event, err := adapter.ParseWebhook(payload)
	if err != nil {
		s.log.Warn("webhook payload rejected",
			zap.String("provider", provider),
			zap.ByteString("payload", maskPayload(payload)),
			zap.Error(err),
		)
		return nil, err
	}

	p, err := s.payouts.ApplyEvent(ctx, provider, *event)
	if err != nil {
		level := s.log.Error
		if errors.Is(err, payoutdomain.ErrNotFound) || errors.Is(err, payoutdomain.ErrInvalidTransition) {
			level = s.log.Warn
		}
		level("webhook processing failed",
			zap.String("provider", provider),
			zap.String("external_id", event.ExternalID),
			zap.ByteString("payload", maskPayload(payload)),
			zap.Error(err),
		)
		return nil, err
	}
	return p, nil
}

func maskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	maskMap(obj)
	masked, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return masked
}

func maskMap(m map[string]any) {
	for k, v := range m {
		switch strings.ToLower(k) {
		case "beneficiary", "bank_account", "ewallet", "phone_number", "phone_or_iban", "iban", "account_number":
			if s, ok := v.(string); ok {
				m[k] = signing.MaskSensitive(s)
			} else {
				m[k] = "***"
			}
		default:
			if nested, ok := v.(map[string]any); ok {
				maskMap(nested)
			} else if arr, ok := v.([]any); ok {
				for _, item := range arr {
					if itemMap, ok := item.(map[string]any); ok {
						maskMap(itemMap)
					}
				}
			}
		}
	}
}
