package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/cryptoKingdom88/chainwatch/internal/alertengine"
	"github.com/cryptoKingdom88/chainwatch/internal/domain"
	"github.com/cryptoKingdom88/chainwatch/internal/provider"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

type fakeEvaluator struct {
	evaluated []domain.TransferEvent
	err       error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, event domain.TransferEvent) error {
	f.evaluated = append(f.evaluated, event)
	return f.err
}

type fakeStore struct{ pingErr error }

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type fakeRegistry struct{}

func (f *fakeRegistry) WalletCount() (int64, error) { return 3, nil }
func (f *fakeRegistry) SubscribersGeneral() ([]domain.PushSubscription, error) {
	return []domain.PushSubscription{{UserID: "u1"}}, nil
}
func (f *fakeRegistry) SubscribersSequentialSells() ([]domain.PushSubscription, error) {
	return nil, nil
}
func (f *fakeRegistry) ChatSubscribers() ([]string, error) { return []string{"c1"}, nil }

type fakeOracle struct{ usd *float64 }

func (f *fakeOracle) USDValue(ctx context.Context, mint string, rawAmount uint64, decimals int) (*float64, error) {
	return f.usd, nil
}

type fakeDispatcher struct{}

func (f *fakeDispatcher) AnnounceChat(ctx context.Context, event domain.TransferEvent) error {
	return nil
}
func (f *fakeDispatcher) PushLargeSingle(ctx context.Context, event domain.TransferEvent) error {
	return nil
}

type fakePushHub struct {
	lastKey string
	count   int
}

func (f *fakePushHub) ServeWS(w http.ResponseWriter, r *http.Request, pushKey string) error {
	f.lastKey = pushKey
	return nil
}

func (f *fakePushHub) ConnectedCount() int { return f.count }

type fakeAdminProvider struct {
	webhooks  []provider.Webhook
	deleteErr error
}

func (f *fakeAdminProvider) List(ctx context.Context) ([]provider.Webhook, error) {
	return f.webhooks, nil
}
func (f *fakeAdminProvider) Get(ctx context.Context, id string) (*provider.Webhook, error) {
	return &provider.Webhook{ID: id}, nil
}
func (f *fakeAdminProvider) Create(ctx context.Context, req provider.CreateWebhookRequest) (*provider.Webhook, error) {
	return &provider.Webhook{ID: "new", WebhookURL: req.WebhookURL}, nil
}
func (f *fakeAdminProvider) AddWallets(ctx context.Context, id string, addresses []string) (*provider.Webhook, error) {
	return &provider.Webhook{ID: id, AccountAddresses: addresses}, nil
}
func (f *fakeAdminProvider) RemoveWallets(ctx context.Context, id string, addresses []string) (*provider.Webhook, error) {
	return &provider.Webhook{ID: id}, nil
}
func (f *fakeAdminProvider) Delete(ctx context.Context, id string) error { return f.deleteErr }

func newTestHandler(t *testing.T) (*Handler, *fakeEvaluator, *WorkerPool) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	evaluator := &fakeEvaluator{}
	pool := NewWorkerPool(4, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	usd := 1.0
	handler := NewHandler(Config{
		Pool:       pool,
		Evaluator:  evaluator,
		Store:      &fakeStore{},
		Registry:   &fakeRegistry{},
		Oracle:     &fakeOracle{usd: &usd},
		Dispatcher: &fakeDispatcher{},
		PushHub:    &fakePushHub{},
		TargetMint: "M",
		Thresholds: alertengine.Thresholds{ChatThresholdUSD: 500},
		Logger:     testLogger(),
	})
	return handler, evaluator, pool
}

func newRouter(h *Handler) *gin.Engine {
	router := gin.New()
	h.Register(router)
	return router
}

// TestHandleWebhook_SingleObjectBatchAck implements S5 from the spec's
// scenario table: a single-object webhook batch is acked immediately.
func TestHandleWebhook_SingleObjectBatchAck(t *testing.T) {
	handler, evaluator, _ := newTestHandler(t)
	router := newRouter(handler)

	payload := map[string]interface{}{
		"signature": "s1",
		"timestamp": 1_700_000_000,
		"feePayer":  "W1",
		"tokenTransfers": []map[string]interface{}{
			{"fromUserAccount": "X", "toUserAccount": "W1", "mint": "M", "tokenAmount": 1000},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["processed"])
	require.Equal(t, float64(0), resp["skipped"])
	require.Equal(t, float64(1), resp["total"])

	require.Eventually(t, func() bool { return len(evaluator.evaluated) == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandleWebhook_ArrayBatchWithMalformedElement(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	router := newRouter(handler)

	validElement := map[string]interface{}{
		"signature": "s1",
		"timestamp": 1_700_000_000,
		"feePayer":  "W1",
		"tokenTransfers": []map[string]interface{}{
			{"fromUserAccount": "X", "toUserAccount": "W1", "mint": "M", "tokenAmount": 1000},
		},
	}
	malformedElement := map[string]interface{}{"feePayer": "W2"} // missing signature/timestamp

	body, err := json.Marshal([]map[string]interface{}{validElement, malformedElement})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["processed"])
	require.Equal(t, float64(1), resp["skipped"])
	require.Equal(t, float64(2), resp["total"])
}

func TestHandleWebhook_MalformedTopLevelBodyReturns500(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

// TestHandleHealth_Degraded implements S6: the health endpoint reports
// 503 with body detail when the window store is unreachable.
func TestHandleHealth_Degraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	evaluator := &fakeEvaluator{}
	pool := NewWorkerPool(2, testLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	}()

	handler := NewHandler(Config{
		Pool:       pool,
		Evaluator:  evaluator,
		Store:      &fakeStore{pingErr: context.DeadlineExceeded},
		Registry:   &fakeRegistry{},
		Oracle:     &fakeOracle{},
		Dispatcher: &fakeDispatcher{},
		PushHub:    &fakePushHub{},
		TargetMint: "M",
		Logger:     testLogger(),
	})
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, false, resp["window_store_healthy"])
	require.Equal(t, float64(3), resp["wallet_count"])
}

func TestHandleHealth_Healthy(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

// TestHandlePriceStats_CacheHit implements S4's HTTP-facing half: a
// resolvable price returns 200 with the price_usd field.
func TestHandlePriceStats_CacheHit(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/stats/price", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["price_usd"])
}

func TestHandlePriceStats_Unresolvable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pool := NewWorkerPool(2, testLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	}()

	handler := NewHandler(Config{
		Pool:       pool,
		Evaluator:  &fakeEvaluator{},
		Store:      &fakeStore{},
		Registry:   &fakeRegistry{},
		Oracle:     &fakeOracle{usd: nil},
		Dispatcher: &fakeDispatcher{},
		PushHub:    &fakePushHub{},
		TargetMint: "M",
		Logger:     testLogger(),
	})
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/stats/price", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleTestNotifications(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/test/notifications", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, true, resp["chat_sent"])
	require.Equal(t, true, resp["push_sent"])
}

func TestHandlePushConnect_MissingKeyRejected(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/ws/push", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePushConnect_WrongAppTokenRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pool := NewWorkerPool(2, testLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	}()

	handler := NewHandler(Config{
		Pool:         pool,
		Evaluator:    &fakeEvaluator{},
		Store:        &fakeStore{},
		Registry:     &fakeRegistry{},
		Oracle:       &fakeOracle{},
		Dispatcher:   &fakeDispatcher{},
		PushHub:      &fakePushHub{},
		PushAppToken: "secret",
		TargetMint:   "M",
		Logger:       testLogger(),
	})
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/ws/push?push_key=k1&app_token=wrong", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestHandleHealth_ReportsConnectedPushClients verifies the health body
// surfaces the Hub's live connection count, not just subscriber counts
// from the registry.
func TestHandleHealth_ReportsConnectedPushClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pool := NewWorkerPool(2, testLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	}()

	handler := NewHandler(Config{
		Pool:       pool,
		Evaluator:  &fakeEvaluator{},
		Store:      &fakeStore{},
		Registry:   &fakeRegistry{},
		Oracle:     &fakeOracle{},
		Dispatcher: &fakeDispatcher{},
		PushHub:    &fakePushHub{count: 5},
		TargetMint: "M",
		Logger:     testLogger(),
	})
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(5), resp["connected_push_clients"])
}

func newAdminTestHandler(t *testing.T) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pool := NewWorkerPool(2, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	return NewHandler(Config{
		Pool:         pool,
		Evaluator:    &fakeEvaluator{},
		Store:        &fakeStore{},
		Registry:     &fakeRegistry{},
		Oracle:       &fakeOracle{},
		Dispatcher:   &fakeDispatcher{},
		PushHub:      &fakePushHub{},
		AdminClient:  &fakeAdminProvider{webhooks: []provider.Webhook{{ID: "w1"}}},
		AdminUserIDs: []string{"admin1"},
		TargetMint:   "M",
		Logger:       testLogger(),
	})
}

func TestAdminRouter_NoAuthHeaderRejected(t *testing.T) {
	router := newRouter(newAdminTestHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRouter_UnconfiguredAllowlistFailsClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pool := NewWorkerPool(2, testLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	}()

	handler := NewHandler(Config{
		Pool:        pool,
		Evaluator:   &fakeEvaluator{},
		Store:       &fakeStore{},
		Registry:    &fakeRegistry{},
		Oracle:      &fakeOracle{},
		Dispatcher:  &fakeDispatcher{},
		PushHub:     &fakePushHub{},
		AdminClient: &fakeAdminProvider{},
		TargetMint:  "M",
		Logger:      testLogger(),
	})
	router := newRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks", nil)
	req.Header.Set("X-Admin-User-Id", "admin1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminRouter_ListWebhooks(t *testing.T) {
	router := newRouter(newAdminTestHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks", nil)
	req.Header.Set("X-Admin-User-Id", "admin1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp []provider.Webhook
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.Equal(t, "w1", resp[0].ID)
}

func TestAdminRouter_AddWallets(t *testing.T) {
	router := newRouter(newAdminTestHandler(t))

	body, err := json.Marshal(walletsRequest{Addresses: []string{"A", "B"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/webhooks/w1/wallets", bytes.NewReader(body))
	req.Header.Set("X-Admin-User-Id", "admin1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp provider.Webhook
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, []string{"A", "B"}, resp.AccountAddresses)
}

func TestAdminRouter_DeleteWebhook(t *testing.T) {
	router := newRouter(newAdminTestHandler(t))

	req := httptest.NewRequest(http.MethodDelete, "/admin/webhooks/w1", nil)
	req.Header.Set("X-Admin-User-Id", "admin1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
}
