package rapyd

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSignatureMatchesScheme(t *testing.T) {
	body := []byte(`{"a":1}`)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("POST/v1/payoutssalt1700000000keysecret" + string(body)))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, Signature("POST", "/v1/payouts", "salt", "1700000000", "key", "secret", body))
}

func TestSubmitPayout(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payouts", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("access_key"))
		assert.Equal(t, "abc", r.Header.Get("salt"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, Signature("POST", "/v1/payouts", "abc", "1700000000", "key", "secret", body), r.Header.Get("signature"))
		require.NoError(t, json.Unmarshal(body, &got))

		_, _ = w.Write([]byte(`{"data":{"id":"payout_1"}}`))
	}))
	defer srv.Close()

	p := New(domain.Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret"}, zap.NewNop(),
		WithNow(func() time.Time { return time.Unix(1700000000, 0) }),
		WithSalt(func() (string, error) { return "abc", nil }),
	)
	res, err := p.SubmitPayout(context.Background(), domain.SubmitRequest{
		IdempotencyKey: "key-1",
		Amount:         decimal.NewFromInt(1000),
		Currency:       "EUR",
		Beneficiary:    domain.Beneficiary{Name: "Jane", PhoneOrIBAN: "CD0012345678", WalletType: "BANK"},
	})
	require.NoError(t, err)

	assert.Equal(t, "payout_1", res.ExternalID)
	assert.True(t, res.Fee.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, "CD0012345678", got["bank_account"])
	assert.Nil(t, got["ewallet"])
	assert.Equal(t, "cd_bank_transfer", got["payout_method_type"])
}

func TestVerifySignature(t *testing.T) {
	p := New(domain.Config{APIKey: "key", APISecret: "secret"}, zap.NewNop())
	body := []byte(`{"id":"wh_1"}`)

	headers := http.Header{}
	headers.Set("salt", "s1")
	headers.Set("timestamp", "1700000000")
	headers.Set("signature", Signature("POST", "/webhooks", "s1", "1700000000", "key", "secret", body))
	assert.True(t, p.VerifySignature(headers, body))

	headers.Set("salt", "s2")
	assert.False(t, p.VerifySignature(headers, body))

	headers.Del("signature")
	assert.False(t, p.VerifySignature(headers, body))
}

func TestParseWebhook(t *testing.T) {
	p := New(domain.Config{}, zap.NewNop())

	event, err := p.ParseWebhook([]byte(`{"id":"wh_1","type":"PAYOUT_COMPLETED","data":{"id":"payout_1","status":"CLO","amount":10,"currency":"EUR"}}`))
	require.NoError(t, err)
	assert.Equal(t, "payout_1", event.ExternalID)
	assert.Equal(t, domain.OutcomeSettled, event.Status)

	event, err = p.ParseWebhook([]byte(`{"id":"wh_2","type":"PAYOUT_FAILED","data":{"id":"payout_1","status":"ERR","amount":10,"currency":"EUR","failure_reason":"invalid account"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, event.Status)
	assert.Equal(t, "invalid account", event.ProviderMessage)

	_, err = p.ParseWebhook([]byte(`{"id":"wh_3","type":"PAYOUT_FAILED","data":{"id":"payout_1","status":"NEW","amount":10,"currency":"EUR"}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedWebhook)

	_, err = p.ParseWebhook([]byte(`{"id":"wh_4","type":"PAYOUT_FAILED"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedWebhook)
}
