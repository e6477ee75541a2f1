package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/metrics"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	disbursementdomain "github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/railzwaylabs/revshare/internal/security/signing"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "internal-secret"

type mockSettlements struct{ mock.Mock }

func (m *mockSettlements) RequestCloseDay(ctx context.Context, req settlementdomain.CloseDayRequest) (*settlementdomain.CloseDayResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*settlementdomain.CloseDayResponse)
	return resp, args.Error(1)
}

func (m *mockSettlements) CloseDay(ctx context.Context, job settlementdomain.Job) (*settlementdomain.CloseDayResult, error) {
	args := m.Called(ctx, job)
	resp, _ := args.Get(0).(*settlementdomain.CloseDayResult)
	return resp, args.Error(1)
}

func (m *mockSettlements) GetRun(ctx context.Context, id snowflake.ID) (*settlementdomain.RunDetail, error) {
	args := m.Called(ctx, id)
	resp, _ := args.Get(0).(*settlementdomain.RunDetail)
	return resp, args.Error(1)
}

func (m *mockSettlements) ListRuns(ctx context.Context, req settlementdomain.ListRunsRequest) (*settlementdomain.ListRunsResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*settlementdomain.ListRunsResponse)
	return resp, args.Error(1)
}

type mockPayouts struct{ mock.Mock }

func (m *mockPayouts) Submit(ctx context.Context, job payoutdomain.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockPayouts) ApplyEvent(ctx context.Context, provider string, event disbursementdomain.WebhookEvent) (*payoutdomain.PayoutInstruction, error) {
	args := m.Called(ctx, provider, event)
	resp, _ := args.Get(0).(*payoutdomain.PayoutInstruction)
	return resp, args.Error(1)
}

func (m *mockPayouts) Retry(ctx context.Context, id snowflake.ID) (*payoutdomain.RetryResponse, error) {
	args := m.Called(ctx, id)
	resp, _ := args.Get(0).(*payoutdomain.RetryResponse)
	return resp, args.Error(1)
}

func (m *mockPayouts) Get(ctx context.Context, id snowflake.ID) (*payoutdomain.PayoutInstruction, error) {
	args := m.Called(ctx, id)
	resp, _ := args.Get(0).(*payoutdomain.PayoutInstruction)
	return resp, args.Error(1)
}

func (m *mockPayouts) List(ctx context.Context, filter payoutdomain.ListFilter) (*payoutdomain.ListResponse, error) {
	args := m.Called(ctx, filter)
	resp, _ := args.Get(0).(*payoutdomain.ListResponse)
	return resp, args.Error(1)
}

func (m *mockPayouts) ProviderStats(ctx context.Context, provider string) (*payoutdomain.ProviderStats, error) {
	args := m.Called(ctx, provider)
	resp, _ := args.Get(0).(*payoutdomain.ProviderStats)
	return resp, args.Error(1)
}

type mockWebhooks struct{ mock.Mock }

func (m *mockWebhooks) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*payoutdomain.PayoutInstruction, error) {
	args := m.Called(ctx, provider, payload, headers)
	resp, _ := args.Get(0).(*payoutdomain.PayoutInstruction)
	return resp, args.Error(1)
}

type fixture struct {
	server      *Server
	settlements *mockSettlements
	payouts     *mockPayouts
	webhooks    *mockWebhooks
	redis       *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		settlements: &mockSettlements{},
		payouts:     &mockPayouts{},
		webhooks:    &mockWebhooks{},
		redis:       mr,
	}
	f.server = NewServer(Params{
		Cfg:           config.Config{AppEnv: "development", Server: config.ServerConfig{InternalSecret: testSecret}},
		Log:           zap.NewNop(),
		DB:            db,
		Redis:         rdb,
		Metrics:       metrics.New(),
		SettlementSvc: f.settlements,
		PayoutSvc:     f.payouts,
		WebhookSvc:    f.webhooks,
	})
	return f
}

func (f *fixture) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Error
}

func TestCloseDayRequiresSignature(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"dry_run":true}`)

	rec := f.do(http.MethodPost, "/v1/settlements/close-day", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/settlements/close-day", body, map[string]string{
		headerInternalSignature: signing.SignHex(body, "wrong"),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.settlements.AssertNotCalled(t, "RequestCloseDay", mock.Anything, mock.Anything)
}

func TestCloseDayEnqueues(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	body := []byte(`{"period_start":"2026-03-01T00:00:00Z","period_end":"2026-03-02T00:00:00Z","dry_run":true}`)

	f.settlements.On("RequestCloseDay", mock.Anything, mock.MatchedBy(func(req settlementdomain.CloseDayRequest) bool {
		return req.DryRun && req.PeriodStart.Equal(start) && req.PeriodEnd.Equal(end)
	})).Return(&settlementdomain.CloseDayResponse{JobID: "job-1", PeriodStart: start, PeriodEnd: end, DryRun: true}, nil)

	rec := f.do(http.MethodPost, "/v1/settlements/close-day", body, map[string]string{
		headerInternalSignature: signing.SignHex(body, testSecret),
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"job_id":"job-1"`)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestCloseDayEmptyBodyUsesDefaults(t *testing.T) {
	f := newFixture(t)
	f.settlements.On("RequestCloseDay", mock.Anything, settlementdomain.CloseDayRequest{}).
		Return(&settlementdomain.CloseDayResponse{JobID: "job-2"}, nil)

	rec := f.do(http.MethodPost, "/v1/settlements/close-day", nil, map[string]string{
		headerInternalSignature: signing.SignHex(nil, testSecret),
	})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestCloseDayRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"period":"yesterday"}`)

	rec := f.do(http.MethodPost, "/v1/settlements/close-day", body, map[string]string{
		headerInternalSignature: signing.SignHex(body, testSecret),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", decodeError(t, rec).Field)
}

func TestCloseDayConflictCarriesExistingRun(t *testing.T) {
	f := newFixture(t)
	existing := snowflake.ID(77)
	f.settlements.On("RequestCloseDay", mock.Anything, mock.Anything).
		Return(&settlementdomain.CloseDayResponse{ExistingRunID: &existing}, settlementdomain.ErrRunAlreadyExists)

	body := []byte(`{}`)
	rec := f.do(http.MethodPost, "/v1/settlements/close-day", body, map[string]string{
		headerInternalSignature: signing.SignHex(body, testSecret),
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"existing_run_id":"77"`)
	assert.Equal(t, "settlement_run_already_exists", decodeError(t, rec).Type)
}

func TestGetRunNotFound(t *testing.T) {
	f := newFixture(t)
	f.settlements.On("GetRun", mock.Anything, snowflake.ID(9)).Return(nil, settlementdomain.ErrRunNotFound)

	rec := f.do(http.MethodGet, "/v1/settlements/runs/9", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/v1/settlements/runs/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRunsPassesFilters(t *testing.T) {
	f := newFixture(t)
	f.settlements.On("ListRuns", mock.Anything, settlementdomain.ListRunsRequest{
		Status: settlementdomain.RunStatusPaid, Limit: 5, Offset: 10,
	}).Return(&settlementdomain.ListRunsResponse{Runs: []settlementdomain.RunSummary{}, Total: 12, Limit: 5, Offset: 10}, nil)

	rec := f.do(http.MethodGet, "/v1/settlements/runs?status=paid&limit=5&offset=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total":12`)

	rec = f.do(http.MethodGet, "/v1/settlements/runs?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/v1/settlements/runs?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryPayoutStatuses(t *testing.T) {
	f := newFixture(t)
	f.payouts.On("Retry", mock.Anything, snowflake.ID(1)).
		Return(&payoutdomain.RetryResponse{PayoutID: 1, JobID: "j", RetryAttempt: 2, Status: "queued"}, nil)
	f.payouts.On("Retry", mock.Anything, snowflake.ID(2)).Return(nil, payoutdomain.ErrAlreadySettled)
	f.payouts.On("Retry", mock.Anything, snowflake.ID(3)).Return(nil, payoutdomain.ErrNotFound)

	rec := f.do(http.MethodPost, "/v1/payouts/1/retry", nil, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retry_attempt":2`)

	rec = f.do(http.MethodPost, "/v1/payouts/2/retry", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "payout_already_settled", decodeError(t, rec).Type)

	rec = f.do(http.MethodPost, "/v1/payouts/3/retry", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPayoutsParsesQuery(t *testing.T) {
	f := newFixture(t)
	investor := snowflake.ID(11)
	f.payouts.On("List", mock.Anything, payoutdomain.ListFilter{
		InvestorID: &investor,
		Status:     payoutdomain.StatusFailed,
		Limit:      20,
	}).Return(&payoutdomain.ListResponse{Payouts: []payoutdomain.PayoutInstruction{}, Limit: 20}, nil)

	rec := f.do(http.MethodGet, "/v1/payouts?investor_id=11&status=failed&limit=20", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/v1/payouts?run_id=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderWebhookStatuses(t *testing.T) {
	f := newFixture(t)
	ok := []byte(`{"transaction_id":"T-1"}`)
	bad := []byte(`{"transaction_id":"T-2"}`)
	missing := []byte(`{"transaction_id":"T-3"}`)
	broken := []byte(`{"transaction_id":"T-4"}`)

	f.webhooks.On("IngestWebhook", mock.Anything, "thunes", ok, mock.Anything).
		Return(&payoutdomain.PayoutInstruction{ID: 5, Status: payoutdomain.StatusSettled}, nil)
	f.webhooks.On("IngestWebhook", mock.Anything, "thunes", bad, mock.Anything).
		Return(nil, disbursementdomain.ErrInvalidSignature)
	f.webhooks.On("IngestWebhook", mock.Anything, "thunes", missing, mock.Anything).
		Return(nil, payoutdomain.ErrNotFound)
	f.webhooks.On("IngestWebhook", mock.Anything, "thunes", broken, mock.Anything).
		Return(nil, errors.New("connection reset"))

	rec := f.do(http.MethodPost, "/v1/providers/thunes/webhook", ok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"payout_id":"5"`)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/v1/providers/thunes/webhook", bad, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/providers/thunes/webhook", missing, nil).Code)

	rec = f.do(http.MethodPost, "/v1/providers/thunes/webhook", broken, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestProviderStatusUnknown(t *testing.T) {
	f := newFixture(t)
	f.payouts.On("ProviderStats", mock.Anything, "paypal").Return(nil, disbursementdomain.ErrUnknownProvider)

	rec := f.do(http.MethodGet, "/v1/providers/paypal/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthDegradesWithoutFailing(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"healthy"`)

	f.redis.Close()
	rec = f.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"unavailable"`)

	rec = f.do(http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointRecordsRoutes(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/healthz", nil, nil)

	rec := f.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "revshare_http_request_duration_seconds")
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)
}
