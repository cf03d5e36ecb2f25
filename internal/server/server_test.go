package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditflow/internal/clock"
	"github.com/smallbiznis/creditflow/internal/config"
	consumptionservice "github.com/smallbiznis/creditflow/internal/consumption/service"
	costdomain "github.com/smallbiznis/creditflow/internal/cost/domain"
	costservice "github.com/smallbiznis/creditflow/internal/cost/service"
	"github.com/smallbiznis/creditflow/internal/events"
	eventsdomain "github.com/smallbiznis/creditflow/internal/events/domain"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
	limitservice "github.com/smallbiznis/creditflow/internal/limit/service"
	ownershipdomain "github.com/smallbiznis/creditflow/internal/ownership/domain"
	ownershipservice "github.com/smallbiznis/creditflow/internal/ownership/service"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/creditflow/internal/subscription/service"
	trackingdomain "github.com/smallbiznis/creditflow/internal/tracking/domain"
	trackingservice "github.com/smallbiznis/creditflow/internal/tracking/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestServer(t *testing.T, policy config.PolicyConfig) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&costdomain.ActionCost{},
		&limitdomain.LimitWindow{},
		&trackingdomain.ConsumptionRecord{},
		&ownershipdomain.Ownership{},
		&eventsdomain.OutboxEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	cfg := config.Config{
		DefaultOrgID: 1001,
		Consume:      config.ConsumeConfig{MaxAttempts: 3},
	}

	outbox := events.NewOutbox(db, log, node)
	subs := subscriptionservice.NewService(subscriptionservice.Params{DB: db, Log: log, GenID: node, Outbox: outbox})
	costSvc := costservice.NewService(costservice.Params{DB: db, Log: log, GenID: node})
	tracking := trackingservice.NewService(trackingservice.Params{DB: db, Log: log, GenID: node, SubSvc: subs})
	limits := limitservice.NewService(limitservice.Params{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  clock.NewSystemClock(),
		Policy: config.NewStaticPolicyHolder(policy),
	})
	ownership := ownershipservice.NewService(ownershipservice.Params{DB: db, Log: log, GenID: node})
	consumption := consumptionservice.NewService(consumptionservice.Params{
		Cfg:       cfg,
		Log:       log,
		Cost:      costSvc,
		Tracking:  tracking,
		Limits:    limits,
		Subs:      subs,
		Ownership: ownership,
	})

	return NewServer(ServerParams{
		Gin:             NewEngine(log),
		Cfg:             cfg,
		Log:             log,
		GenID:           node,
		SubscriptionSvc: subs,
		CostSvc:         costSvc,
		TrackingSvc:     tracking,
		LimitSvc:        limits,
		OwnershipSvc:    ownership,
		ConsumptionSvc:  consumption,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func dataField(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var parsed struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	return parsed.Data
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var parsed errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	return parsed.Error.Type
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProvisionAndGetSubscription(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	w := doJSON(t, s, http.MethodPost, "/api/subscriptions", gin.H{
		"user_id": "42",
		"credits": 100,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := dataField(t, w)
	assert.Equal(t, float64(100), data["Credits"])

	w = doJSON(t, s, http.MethodGet, "/api/subscriptions/42", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/subscriptions/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorType(t, w))
}

func TestAddCreditsEndpoint(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	w := doJSON(t, s, http.MethodPost, "/api/subscriptions", gin.H{"user_id": "42"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/subscriptions/42/credits", gin.H{"amount": 25})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(25), dataField(t, w)["Credits"])

	w = doJSON(t, s, http.MethodPost, "/api/subscriptions/42/credits", gin.H{"amount": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", errorType(t, w))
}

func TestSetAutoRenewEndpoint(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	w := doJSON(t, s, http.MethodPost, "/api/subscriptions", gin.H{"user_id": "42"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPatch, "/api/subscriptions/42/auto-renew", gin.H{"auto_renew": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataField(t, w)["AutoRenew"])
}

func TestPurchaseFlow(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	w := doJSON(t, s, http.MethodPost, "/api/subscriptions", gin.H{"user_id": "42", "credits": 100})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPut, "/api/costs", gin.H{
		"action_type":  costdomain.ActionPluginPurchase,
		"credits":      50,
		"payment_unit": costdomain.UnitOneTime,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodPost, "/api/consume/plugins/555/purchase", gin.H{
		"user_id":     "42",
		"plugin_name": "formatter",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := dataField(t, w)
	assert.Equal(t, float64(50), data["credits_charged"])
	assert.Equal(t, float64(50), data["balance_after"])

	// Second purchase of the same plugin conflicts.
	w = doJSON(t, s, http.MethodPost, "/api/consume/plugins/555/purchase", gin.H{"user_id": "42"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", errorType(t, w))

	// Ownership and history are visible through the read endpoints.
	w = doJSON(t, s, http.MethodGet, "/api/ownerships?user_id=42", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/history?user_id=42", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestInsufficientCreditsMapsTo402(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	w := doJSON(t, s, http.MethodPost, "/api/subscriptions", gin.H{"user_id": "42", "credits": 10})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, s, http.MethodPut, "/api/costs", gin.H{
		"action_type": costdomain.ActionWorkflowRun,
		"credits":     50,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/consume/workflows/700/run", gin.H{"user_id": "42"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "insufficient_credits", errorType(t, w))
}

func TestLimitExceededMapsTo429(t *testing.T) {
	policy := config.PolicyConfig{
		LimitWindowHours:   24,
		LimitCaps:          map[string]int64{"run": 5},
		LowCreditThreshold: 100,
	}
	s := newTestServer(t, policy)

	w := doJSON(t, s, http.MethodPost, "/api/subscriptions", gin.H{"user_id": "42", "credits": 100})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, s, http.MethodPut, "/api/costs", gin.H{
		"action_type": costdomain.ActionWorkflowRun,
		"credits":     5,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/consume/workflows/700/run", gin.H{"user_id": "42"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodPost, "/api/consume/workflows/700/run", gin.H{"user_id": "42"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "limit_exceeded", errorType(t, w))
}

func TestUsageWithoutOwnershipMapsTo403(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	w := doJSON(t, s, http.MethodPost, "/api/subscriptions", gin.H{"user_id": "42", "credits": 100})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, s, http.MethodPut, "/api/costs", gin.H{
		"action_type": costdomain.ActionPluginUsage,
		"credits":     1,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/consume/plugins/555/usage", gin.H{"user_id": "42"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_owned", errorType(t, w))
}

func TestLimitWindowEndpoint(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	w := doJSON(t, s, http.MethodGet, "/api/limits/42/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, w)
	assert.Equal(t, float64(0), data["AmountConsumed"])
	assert.Equal(t, float64(1000), data["Cap"])

	w = doJSON(t, s, http.MethodGet, "/api/limits/42/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrgHeaderScopesTenant(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	w := doJSON(t, s, http.MethodPost, "/api/subscriptions", gin.H{"user_id": "42", "credits": 100})
	require.Equal(t, http.StatusOK, w.Code)

	// The same user under another org has no subscription.
	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/42", nil)
	req.Header.Set(HeaderOrg, "2002")
	w2 := httptest.NewRecorder()
	s.Engine().ServeHTTP(w2, req)
	assert.Equal(t, http.StatusNotFound, w2.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/subscriptions/42", nil)
	req.Header.Set(HeaderOrg, "bogus")
	w3 := httptest.NewRecorder()
	s.Engine().ServeHTTP(w3, req)
	assert.Equal(t, http.StatusBadRequest, w3.Code)
}

func TestInvalidJSONBodyRejected(t *testing.T) {
	s := newTestServer(t, config.DefaultPolicyConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", bytes.NewBufferString("{nope"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", errorType(t, w))
}
