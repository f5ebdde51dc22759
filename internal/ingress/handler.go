package ingress

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/alertengine"
	"github.com/cryptoKingdom88/chainwatch/internal/domain"
	"github.com/cryptoKingdom88/chainwatch/internal/metrics"
	"github.com/cryptoKingdom88/chainwatch/internal/parser"
	"github.com/cryptoKingdom88/chainwatch/internal/provider"
)

// windowStoreHealth is the subset of C1 the health endpoint reports on.
type windowStoreHealth interface {
	Ping(ctx context.Context) error
}

// registryHealth is the subset of C3 the health and stats endpoints need.
type registryHealth interface {
	WalletCount() (int64, error)
	SubscribersGeneral() ([]domain.PushSubscription, error)
	SubscribersSequentialSells() ([]domain.PushSubscription, error)
	ChatSubscribers() ([]string, error)
}

// priceStats is the subset of C2 the stats endpoint reads from.
type priceStats interface {
	USDValue(ctx context.Context, mint string, rawAmount uint64, decimals int) (*float64, error)
}

// testDispatcher is the subset of C6 the test-notifications endpoint uses.
type testDispatcher interface {
	AnnounceChat(ctx context.Context, event domain.TransferEvent) error
	PushLargeSingle(ctx context.Context, event domain.TransferEvent) error
}

// pushUpgrader is the subset of C6's Hub the push-connection endpoint uses
// to promote an HTTP request to a live, push-key-routed connection, and to
// report connection count for the health surface.
type pushUpgrader interface {
	ServeWS(w http.ResponseWriter, r *http.Request, pushKey string) error
	ConnectedCount() int
}

// adminProvider is the subset of the upstream provider admin client the
// admin sub-router exposes over HTTP, per spec.md §6's admin surface.
type adminProvider interface {
	List(ctx context.Context) ([]provider.Webhook, error)
	Get(ctx context.Context, id string) (*provider.Webhook, error)
	Create(ctx context.Context, req provider.CreateWebhookRequest) (*provider.Webhook, error)
	AddWallets(ctx context.Context, id string, addresses []string) (*provider.Webhook, error)
	RemoveWallets(ctx context.Context, id string, addresses []string) (*provider.Webhook, error)
	Delete(ctx context.Context, id string) error
}

// Evaluator runs the alert engine against one parsed TransferEvent.
type Evaluator interface {
	Evaluate(ctx context.Context, event domain.TransferEvent) error
}

// Handler wires the gin routes for the webhook ingress, health, stats,
// and test-notification endpoints.
type Handler struct {
	pool         *WorkerPool
	evaluator    Evaluator
	store        windowStoreHealth
	registry     registryHealth
	oracle       priceStats
	dispatcher   testDispatcher
	pushHub      pushUpgrader
	pushAppToken string
	adminClient  adminProvider
	adminUserIDs map[string]bool
	targetMint   string
	thresholds   alertengine.Thresholds
	logger       *logrus.Entry
}

// Config bundles the dependencies and static fields Handler needs.
type Config struct {
	Pool         *WorkerPool
	Evaluator    Evaluator
	Store        windowStoreHealth
	Registry     registryHealth
	Oracle       priceStats
	Dispatcher   testDispatcher
	PushHub      pushUpgrader
	PushAppToken string
	AdminClient  adminProvider
	AdminUserIDs []string
	TargetMint   string
	Thresholds   alertengine.Thresholds
	Logger       *logrus.Entry
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	adminUserIDs := make(map[string]bool, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		adminUserIDs[id] = true
	}
	return &Handler{
		pool:         cfg.Pool,
		evaluator:    cfg.Evaluator,
		store:        cfg.Store,
		registry:     cfg.Registry,
		oracle:       cfg.Oracle,
		dispatcher:   cfg.Dispatcher,
		pushHub:      cfg.PushHub,
		pushAppToken: cfg.PushAppToken,
		adminClient:  cfg.AdminClient,
		adminUserIDs: adminUserIDs,
		targetMint:   cfg.TargetMint,
		thresholds:   cfg.Thresholds,
		logger:       cfg.Logger,
	}
}

// Register mounts every route onto router.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/webhook", h.handleWebhook)
	router.GET("/health", h.handleHealth)
	router.GET("/stats/price", h.handlePriceStats)
	router.POST("/test/notifications", h.handleTestNotifications)
	router.GET("/ws/push", h.handlePushConnect)

	admin := router.Group("/admin", h.requireAdmin)
	admin.GET("/webhooks", h.handleAdminListWebhooks)
	admin.GET("/webhooks/:id", h.handleAdminGetWebhook)
	admin.POST("/webhooks", h.handleAdminCreateWebhook)
	admin.POST("/webhooks/:id/wallets", h.handleAdminAddWallets)
	admin.DELETE("/webhooks/:id/wallets", h.handleAdminRemoveWallets)
	admin.DELETE("/webhooks/:id", h.handleAdminDeleteWebhook)
}

// requireAdmin gates the admin sub-router behind the configured admin user
// id allowlist (spec.md §6's admin surface). An unconfigured allowlist
// fails closed rather than leaving the surface open.
func (h *Handler) requireAdmin(c *gin.Context) {
	if len(h.adminUserIDs) == 0 {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin surface not configured"})
		return
	}
	userID := c.GetHeader("X-Admin-User-Id")
	if userID == "" || !h.adminUserIDs[userID] {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin authorization required"})
		return
	}
	c.Next()
}

// handleAdminListWebhooks lists every webhook registered with the upstream
// provider.
func (h *Handler) handleAdminListWebhooks(c *gin.Context) {
	webhooks, err := h.adminClient.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, webhooks)
}

// handleAdminGetWebhook fetches a single webhook by provider id.
func (h *Handler) handleAdminGetWebhook(c *gin.Context) {
	webhook, err := h.adminClient.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, webhook)
}

// handleAdminCreateWebhook provisions a new webhook with the provider.
func (h *Handler) handleAdminCreateWebhook(c *gin.Context) {
	var req provider.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	webhook, err := h.adminClient.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, webhook)
}

// walletsRequest is the body for the add/remove wallet admin endpoints.
type walletsRequest struct {
	Addresses []string `json:"addresses"`
}

// handleAdminAddWallets appends addresses to a webhook's tracked accounts.
func (h *Handler) handleAdminAddWallets(c *gin.Context) {
	var req walletsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	webhook, err := h.adminClient.AddWallets(c.Request.Context(), c.Param("id"), req.Addresses)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, webhook)
}

// handleAdminRemoveWallets removes addresses from a webhook's tracked accounts.
func (h *Handler) handleAdminRemoveWallets(c *gin.Context) {
	var req walletsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	webhook, err := h.adminClient.RemoveWallets(c.Request.Context(), c.Param("id"), req.Addresses)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, webhook)
}

// handleAdminDeleteWebhook removes a webhook from the provider entirely.
func (h *Handler) handleAdminDeleteWebhook(c *gin.Context) {
	if err := h.adminClient.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePushConnect upgrades the request to a websocket connection and
// registers it under the caller's push_key, so later PushLargeSingle,
// PushCumulative, and PushSequentialSells dispatches can reach it by key.
// When a push app token is configured, the caller must present it.
func (h *Handler) handlePushConnect(c *gin.Context) {
	pushKey := c.Query("push_key")
	if pushKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "push_key is required"})
		return
	}
	if h.pushAppToken != "" && c.Query("app_token") != h.pushAppToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid push app token"})
		return
	}
	if err := h.pushHub.ServeWS(c.Writer, c.Request, pushKey); err != nil {
		h.logger.WithError(err).WithField("push_key", pushKey).Warn("push connection failed")
	}
}

// handleWebhook accepts a single payload or an array of payloads. Each
// valid element is handed off to the worker pool as a detached task so
// the response returns immediately; invalid elements are tallied as
// skipped and never turn the response non-2xx.
func (h *Handler) handleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
		return
	}

	elements, err := splitPayloadBatch(body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "malformed request body"})
		return
	}

	processed, skipped := 0, 0
	for _, raw := range elements {
		events, parseErr := parser.ParseRaw(raw, h.targetMint)
		if parseErr != nil {
			skipped++
			metrics.PayloadsSkippedTotal.WithLabelValues("malformed").Inc()
			h.logger.WithError(parseErr).Warn("skipping malformed webhook element")
			continue
		}
		if len(events) == 0 {
			skipped++
			metrics.PayloadsSkippedTotal.WithLabelValues("no_match").Inc()
			continue
		}

		for _, event := range events {
			event := event
			submitErr := h.pool.Submit(func() {
				ctx := context.Background()
				metrics.EventsProcessedTotal.WithLabelValues(event.Direction.String()).Inc()
				if err := h.evaluator.Evaluate(ctx, event); err != nil {
					h.logger.WithError(err).WithField("signature", event.Signature).
						Warn("alert engine evaluation failed")
				}
			})
			if submitErr != nil {
				skipped++
				metrics.PayloadsSkippedTotal.WithLabelValues("queue_full").Inc()
				h.logger.WithError(submitErr).Warn("failed to submit event to worker pool")
				continue
			}
			processed++
		}
	}

	metrics.WebhookRequestsTotal.WithLabelValues("accepted").Inc()
	c.JSON(http.StatusOK, gin.H{
		"processed": processed,
		"skipped":   skipped,
		"total":     len(elements),
	})
}

// splitPayloadBatch accepts either a single JSON object or a JSON array
// and returns the individual raw element bytes.
func splitPayloadBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := skipLeadingWhitespace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var elements []json.RawMessage
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, err
		}
		return elements, nil
	}

	var single json.RawMessage
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []json.RawMessage{single}, nil
}

func skipLeadingWhitespace(body []byte) []byte {
	i := 0
	for i < len(body) {
		switch body[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return body[i:]
		}
	}
	return body[i:]
}

// handleHealth reports liveness of the window-store backend, the
// configured thresholds, and subscriber counts.
func (h *Handler) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	storeErr := h.store.Ping(ctx)

	walletCount, _ := h.registry.WalletCount()
	general, _ := h.registry.SubscribersGeneral()
	sequential, _ := h.registry.SubscribersSequentialSells()
	chatSubs, _ := h.registry.ChatSubscribers()

	connectedPushClients := h.pushHub.ConnectedCount()
	metrics.ConnectedPushClients.Set(float64(connectedPushClients))

	body := gin.H{
		"window_store_healthy":   storeErr == nil,
		"wallet_count":           walletCount,
		"general_subscribers":    len(general),
		"sequential_subscribers": len(sequential),
		"chat_subscribers":       len(chatSubs),
		"connected_push_clients": connectedPushClients,
		"thresholds": gin.H{
			"chat_threshold_usd":       h.thresholds.ChatThresholdUSD,
			"single_threshold_usd":     h.thresholds.SingleThresholdUSD,
			"cumulative_threshold_usd": h.thresholds.CumulativeThresholdUSD,
			"window_seconds":           h.thresholds.WindowSeconds,
			"five_sells_threshold_usd": h.thresholds.FiveSellsThresholdUSD,
		},
	}

	if storeErr != nil {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// handlePriceStats returns the current resolved USD price of the
// configured target token, or 404 if it cannot be resolved.
func (h *Handler) handlePriceStats(c *gin.Context) {
	ctx := c.Request.Context()
	usd, err := h.oracle.USDValue(ctx, h.targetMint, 1, 0)
	if err != nil || usd == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "price unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_mint": h.targetMint, "price_usd": *usd})
}

// handleTestNotifications sends a canned message to the chat channel and
// to one push subscriber (if any), returning per-channel success flags.
func (h *Handler) handleTestNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	canned := domain.TransferEvent{
		Wallet:    "test-wallet",
		TokenMint: h.targetMint,
		RawAmount: 1,
		Signature: "test-notification",
		Timestamp: 0,
		Direction: domain.DirectionBuy,
	}

	chatErr := h.dispatcher.AnnounceChat(ctx, canned)
	pushErr := h.dispatcher.PushLargeSingle(ctx, canned)

	c.JSON(http.StatusOK, gin.H{
		"chat_sent": chatErr == nil,
		"push_sent": pushErr == nil,
	})
}
