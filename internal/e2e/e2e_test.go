package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/migration"
	"github.com/smallbiznis/paycore/internal/observability"
	"github.com/smallbiznis/paycore/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/scheduler"
	"github.com/smallbiznis/paycore/internal/server"
	"github.com/smallbiznis/paycore/internal/testutil"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_e2e"

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	baseURL   string
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resetDatabase(t, env.db)

	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_OrderPaidByWebhook(t *testing.T) {
	resetDatabase(t, env.db)

	order := createOrder(t, "pi_e2e_paid")
	if order.Total != 11547 {
		t.Fatalf("expected total 11547, got %d", order.Total)
	}
	if status := getOrderStatus(t, order.ID); status != "pending" {
		t.Fatalf("expected pending order, got %s", status)
	}

	payload := intentEvent("evt_e2e_paid", paymentdomain.EventTypePaymentSucceeded, "pi_e2e_paid", order.Total)
	for i := 0; i < 2; i++ {
		resp, body := deliverWebhook(t, payload, webhookSecret)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d: expected status 200, got %d: %s", i+1, resp.StatusCode, string(body))
		}
	}

	if status := getOrderStatus(t, order.ID); status != "completed" {
		t.Fatalf("expected completed order, got %s", status)
	}
	if n := countRows(t, env.db, "webhook_events", "event_id = ?", "evt_e2e_paid"); n != 1 {
		t.Fatalf("expected one ledger row, got %d", n)
	}
	if n := countRows(t, env.db, "audit_events", "action = ?", "webhook.applied"); n != 1 {
		t.Fatalf("expected one webhook.applied audit row, got %d", n)
	}
}

func TestE2E_ForgedWebhookIsRejected(t *testing.T) {
	resetDatabase(t, env.db)

	order := createOrder(t, "pi_e2e_forged")
	payload := intentEvent("evt_e2e_forged", paymentdomain.EventTypePaymentSucceeded, "pi_e2e_forged", order.Total)
	resp, body := deliverWebhook(t, payload, "whsec_attacker")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", resp.StatusCode, string(body))
	}

	if n := countRows(t, env.db, "webhook_events", "1 = 1"); n != 0 {
		t.Fatalf("expected no ledger rows, got %d", n)
	}
	if status := getOrderStatus(t, order.ID); status != "pending" {
		t.Fatalf("expected pending order, got %s", status)
	}
}

func TestE2E_UnknownIntentIsRedelivered(t *testing.T) {
	resetDatabase(t, env.db)

	payload := intentEvent("evt_e2e_orphan", paymentdomain.EventTypePaymentSucceeded, "pi_e2e_orphan", 1000)
	for i := 0; i < 2; i++ {
		resp, body := deliverWebhook(t, payload, webhookSecret)
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("delivery %d: expected status 500, got %d: %s", i+1, resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"type":"webhook_error"`) {
			t.Fatalf("delivery %d: expected webhook_error body, got %s", i+1, string(body))
		}
	}

	if n := countRows(t, env.db, "webhook_events", "event_id = ? AND processed_at IS NULL AND last_error IS NOT NULL", "evt_e2e_orphan"); n != 1 {
		t.Fatalf("expected one unprocessed ledger row, got %d", n)
	}
}

// No gateway key is configured here, so the refund fails as retryable and
// stays reserved behind a refund.retry job that the scheduler keeps
// rescheduling.
func TestE2E_RefundQueuedWhileGatewayUnavailable(t *testing.T) {
	resetDatabase(t, env.db)

	order := createOrder(t, "pi_e2e_refund")
	resp, body := deliverWebhook(t, intentEvent("evt_e2e_refund", paymentdomain.EventTypePaymentSucceeded, "pi_e2e_refund", order.Total), webhookSecret)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for webhook, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/api/orders/"+order.ID+"/refund-eligibility", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"eligible":true`) {
		t.Fatalf("expected eligible order, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/refunds", map[string]any{
		"orderId": order.ID,
		"amount":  2000,
		"reason":  "requested_by_customer",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 for refund, got %d: %s", resp.StatusCode, string(body))
	}
	if !strings.Contains(string(body), `"retryable":true`) {
		t.Fatalf("expected retryable error, got %s", string(body))
	}

	if status := getOrderStatus(t, order.ID); status != "partially_refunded" {
		t.Fatalf("expected reservation to hold, got %s", status)
	}
	if n := countRows(t, env.db, "retry_jobs", "job_type = ? AND status = ?", "refund.retry", "pending"); n != 1 {
		t.Fatalf("expected one pending refund.retry job, got %d", n)
	}

	// not due yet, nothing is claimed
	if err := env.scheduler.RetryDispatchJob(context.Background()); err != nil {
		t.Fatalf("dispatch retry jobs: %v", err)
	}
	if n := countRows(t, env.db, "retry_jobs", "attempt = ?", 2); n != 1 {
		t.Fatalf("expected job untouched at attempt 2, got %d", n)
	}
}

func TestE2E_ValidationErrors(t *testing.T) {
	resetDatabase(t, env.db)

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/orders", map[string]any{
		"items":        []map[string]any{{"unitPrice": 100, "quantity": 0}},
		"jurisdiction": "CA-ON",
		"currency":     "CAD",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", resp.StatusCode, string(body))
	}
	for _, field := range []string{`"paymentIntentId"`, `"items[0].quantity"`} {
		if !strings.Contains(string(body), field) {
			t.Fatalf("expected %s in errors, got %s", field, string(body))
		}
	}
}

func startEnv() (*testEnv, error) {
	var (
		engine      *gin.Engine
		dbConn      *gorm.DB
		schedulerSv *scheduler.Scheduler
	)

	app := fx.New(
		observability.Module,
		config.Module,
		fx.Provide(openDatabase),
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		fx.Populate(&engine, &dbConn, &schedulerSv),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(engine)
	return &testEnv{
		app:       app,
		db:        dbConn,
		baseURL:   httpSrv.URL,
		scheduler: schedulerSv,
		httpSrv:   httpSrv,
	}, nil
}

func openDatabase(lc fx.Lifecycle) (*gorm.DB, error) {
	conn, err := testutil.Open()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return conn, nil
}

func (e *testEnv) shutdown() {
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.app.Stop(ctx)
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
	_ = os.Setenv("STRIPE_WEBHOOK_SECRET", webhookSecret)
	_ = os.Setenv("STRIPE_SECRET_KEY", "")
	_ = os.Setenv("REDIS_ADDR", "")
	_ = os.Setenv("KAFKA_BROKERS", "")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	for _, table := range []string{"refunds", "payments", "orders", "subscriptions", "webhook_events", "retry_jobs", "audit_events", "download_access", "promo_codes"} {
		if err := dbConn.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

type orderFixture struct {
	ID    string
	Total int64
}

func createOrder(t *testing.T, intentID string) orderFixture {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/orders", map[string]any{
		"items":           []map[string]any{{"unitPrice": 10000, "quantity": 1}},
		"jurisdiction":    "CA-QC",
		"currency":        "CAD",
		"customerEmail":   "e2e@example.com",
		"paymentIntentId": intentID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for order, got %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Order struct {
			ID          string `json:"id"`
			TotalAmount int64  `json:"total_amount"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	return orderFixture{ID: out.Order.ID, Total: out.Order.TotalAmount}
}

func getOrderStatus(t *testing.T, orderID string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/api/orders/"+orderID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for order, got %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	return out.Status
}

func intentEvent(eventID, eventType, intentID string, amount int64) string {
	return fmt.Sprintf(
		`{"id":%q,"type":%q,"created":%d,"data":{"object":{"id":%q,"amount":%d,"amount_received":%d,"currency":"cad"}}}`,
		eventID, eventType, time.Now().Unix(), intentID, amount, amount,
	)
}

func deliverWebhook(t *testing.T, payload, secret string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/webhooks/stripe", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("build webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(stripe.SignatureHeader, stripe.SignatureHeaderValue(secret, []byte(payload), time.Now()))
	return send(t, req)
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func doJSON(t *testing.T, method, reqURL string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := newHTTPClient().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
