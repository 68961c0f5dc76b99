package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	applicationrepo "github.com/isabella232/smartstart-sub000/internal/application/repository"
	auditdomain "github.com/isabella232/smartstart-sub000/internal/audit/domain"
	auditrepo "github.com/isabella232/smartstart-sub000/internal/audit/repository"
	"github.com/isabella232/smartstart-sub000/internal/clock"
	"github.com/isabella232/smartstart-sub000/internal/config"
	leaderdomain "github.com/isabella232/smartstart-sub000/internal/leader/domain"
	leaderservice "github.com/isabella232/smartstart-sub000/internal/leader/service"
	"github.com/isabella232/smartstart-sub000/internal/paygate"
	"github.com/isabella232/smartstart-sub000/internal/providers/email"
	reconcileservice "github.com/isabella232/smartstart-sub000/internal/reconcile/service"
	"github.com/isabella232/smartstart-sub000/internal/registry"
	"github.com/isabella232/smartstart-sub000/internal/server"
	submissionservice "github.com/isabella232/smartstart-sub000/internal/submission/service"
	"github.com/isabella232/smartstart-sub000/internal/sweeper"
)

// registryStub records every activity the service sends and answers the
// way the real registry does: "valid" for a validation pass, "complete"
// for a full submission.
type registryStub struct {
	mu       sync.Mutex
	requests []registryRequest
}

type registryRequest struct {
	Activity               string                           `json:"activity"`
	PaymentResult          *applicationdomain.PaymentResult `json:"paymentResult"`
	ConfirmationEmail      string                           `json:"confirmationEmail"`
	ConfirmationURLSuccess string                           `json:"confirmationUrlSuccess"`
}

func (r *registryStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body registryRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.requests = append(r.requests, body)
		r.mu.Unlock()

		status := registry.StatusValid
		if body.Activity == applicationdomain.ActivityFullSubmission {
			status = registry.StatusComplete
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":%q}`, status)
	}
}

func (r *registryStub) activities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req.Activity)
	}
	return out
}

// gatewayStub answers the hosted-payment XML protocol.
type gatewayStub struct {
	mu           sync.Mutex
	generateReqs []string
	processReqs  []string
	paymentURL   string
}

func (g *gatewayStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body := string(raw)
		w.Header().Set("Content-Type", "application/xml")

		g.mu.Lock()
		defer g.mu.Unlock()
		if strings.Contains(body, "<GenerateRequest>") {
			g.generateReqs = append(g.generateReqs, body)
			fmt.Fprintf(w, `<Request valid="1"><URI>%s</URI></Request>`, g.paymentURL)
			return
		}
		g.processReqs = append(g.processReqs, body)
		io.WriteString(w, `<Response valid="1"><Success>1</Success><TxnId>000000060017500</TxnId><AuthCode>015921</AuthCode><AmountSettlement>60.00</AmountSettlement><DateSettlement>2026030914</DateSettlement><ResponseText>APPROVED</ResponseText></Response>`)
	}
}

type testEnv struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	registry *registryStub
	gateway  *gatewayStub
	sweeper  *sweeper.Sweeper
	baseURL  string
	client   *http.Client
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(
		&applicationdomain.Application{},
		&auditdomain.Record{},
		&leaderdomain.LeaderRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := conn.Create(&leaderdomain.LeaderRecord{ID: 1, InstanceID: "instance-1"}).Error; err != nil {
		t.Fatalf("seed leader record: %v", err)
	}

	regStub := &registryStub{}
	registrySrv := httptest.NewServer(regStub.handler())
	t.Cleanup(registrySrv.Close)

	gwStub := &gatewayStub{paymentURL: "https://pay.example/hpp?txn=abc"}
	gatewaySrv := httptest.NewServer(gwStub.handler())
	t.Cleanup(gatewaySrv.Close)

	cfg := config.Config{
		TxTimeout: 5 * time.Second,
		EServer: config.EServerConfig{
			BaseURL:    registrySrv.URL,
			Timeout:    5 * time.Second,
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		},
		Gateway: config.GatewayConfig{
			Endpoint:        gatewaySrv.URL,
			UserID:          "SmartStart_Dev",
			Key:             "test-key",
			Currency:        "NZD",
			MerchantPrefix:  "T",
			CallbackBaseURL: "https://smartstart.example",
			Expiry:          20 * time.Minute,
			Timeout:         5 * time.Second,
			MaxRetries:      1,
			RetryDelay:      time.Millisecond,
		},
		Sweep: config.SweepConfig{
			InstanceID:    "instance-1",
			Threshold:     30 * time.Minute,
			RetryWindow:   30 * time.Minute,
			MaxConcurrent: 1,
		},
	}

	node, err := snowflake.NewNode(23)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC))
	logger := zap.NewNop()

	apps := applicationrepo.Provide(node)
	audits := auditrepo.Provide(node)
	registryClient := registry.Provide(registry.Params{Cfg: cfg, Logger: logger})
	gatewayClient := paygate.Provide(paygate.Params{Cfg: cfg, Logger: logger})

	submissionSvc := submissionservice.Provide(submissionservice.Params{
		DB:           conn,
		Cfg:          cfg,
		Logger:       logger,
		GenID:        node,
		Clock:        fakeClock,
		Pricing:      config.NewStaticPricingConfigHolder(config.DefaultPricingConfig()),
		Applications: apps,
		Audits:       audits,
		Registry:     registryClient,
		Gateway:      gatewayClient,
		Email:        &email.NoOpProvider{},
	})
	reconcileSvc := reconcileservice.Provide(reconcileservice.Params{
		DB:           conn,
		Cfg:          cfg,
		Logger:       logger,
		Applications: apps,
		Audits:       audits,
		Registry:     registryClient,
		Gateway:      gatewayClient,
		Submissions:  submissionSvc,
	})
	sweep := sweeper.New(sweeper.Params{
		DB:           conn,
		Log:          logger,
		Cfg:          cfg,
		Clock:        fakeClock,
		Applications: apps,
		Audits:       audits,
		Registry:     registryClient,
		Leader: leaderservice.Provide(leaderservice.Params{
			DB:     conn,
			Cfg:    cfg,
			Logger: logger,
		}),
	})

	engine := gin.New()
	engine.Use(server.ErrorHandlingMiddleware())
	server.NewServer(server.ServerParams{
		Gin:           engine,
		Cfg:           cfg,
		DB:            conn,
		SubmissionSvc: submissionSvc,
		ReconcileSvc:  reconcileSvc,
	})

	httpSrv := httptest.NewServer(engine)
	t.Cleanup(httpSrv.Close)

	return &testEnv{
		db:       conn,
		clock:    fakeClock,
		registry: regStub,
		gateway:  gwStub,
		sweeper:  sweep,
		baseURL:  httpSrv.URL,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (env *testEnv) count(t *testing.T, query string) int64 {
	t.Helper()

	var count int64
	if err := env.db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return count
}

func TestCertificateOrderLifecycle(t *testing.T) {
	env := startEnv(t)

	// Intake. The certificate order defers the actual registration
	// behind the payment, so only a validation pass hits the registry.
	body := `{
		"child": {"firstNames": "Aroha", "surname": "Ngata", "birthDate": "2026-02-14"},
		"certificateOrder": {
			"productCode": "ZBFP",
			"quantity": 1,
			"courierDelivery": true,
			"deliveryName": "Mere Ngata",
			"emailAddress": "mere@example.com"
		},
		"confirmationUrlSuccess": "https://smartstart.example/done",
		"confirmationUrlFailure": "https://smartstart.example/failed"
	}`
	resp, err := env.client.Post(env.baseURL+"/birth-registrations", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post registration: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, raw)
	}

	var result struct {
		Status        string `json:"status"`
		ReferenceCode string `json:"applicationReferenceNumber"`
		PaymentURL    string `json:"paymentURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ReferenceCode == "" || result.PaymentURL != "https://pay.example/hpp?txn=abc" {
		t.Fatalf("unexpected intake result: %+v", result)
	}

	if got := env.registry.activities(); len(got) != 1 || got[0] != applicationdomain.ActivityValidateOnly {
		t.Fatalf("expected a single validateOnly call, got %v", got)
	}
	if req := env.registry.requests[0]; req.ConfirmationURLSuccess != "" || req.ConfirmationEmail != "" {
		t.Fatalf("intake-only fields leaked to the registry: %+v", req)
	}
	if env.count(t, "SELECT COUNT(1) FROM applications WHERE processed = false") != 1 {
		t.Fatal("expected one pending application")
	}
	if len(env.gateway.generateReqs) != 1 {
		t.Fatalf("expected one gateway transaction, got %d", len(env.gateway.generateReqs))
	}
	if !strings.Contains(env.gateway.generateReqs[0], "<AmountInput>60.00</AmountInput>") {
		t.Fatalf("unexpected gateway amount: %s", env.gateway.generateReqs[0])
	}

	// Payment webhook. The gateway result is reconciled, the registration
	// finalized, and the browser redirected to the confirmation page.
	webhookURL := fmt.Sprintf("%s/birth-registrations/%s/payments/success?result=tok-1", env.baseURL, result.ReferenceCode)
	resp2, err := env.client.Get(webhookURL)
	if err != nil {
		t.Fatalf("webhook call: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("expected status 301, got %d", resp2.StatusCode)
	}
	if loc := resp2.Header.Get("Location"); loc != "https://smartstart.example/done" {
		t.Fatalf("unexpected redirect %q", loc)
	}

	activities := env.registry.activities()
	if len(activities) != 2 || activities[1] != applicationdomain.ActivityFullSubmission {
		t.Fatalf("expected a fullSubmission after payment, got %v", activities)
	}
	if env.registry.requests[1].PaymentResult == nil || !env.registry.requests[1].PaymentResult.Success {
		t.Fatal("full submission must carry the settlement detail")
	}
	if env.count(t, "SELECT COUNT(1) FROM applications WHERE processed = true") != 1 {
		t.Fatal("expected the application to be claimed")
	}
	if env.count(t, "SELECT COUNT(1) FROM audit_records WHERE txn_success = true") != 1 {
		t.Fatal("expected one successful-payment audit row")
	}

	// A duplicate webhook resolves to the same redirect without another
	// registry or gateway call.
	resp3, err := env.client.Get(webhookURL)
	if err != nil {
		t.Fatalf("duplicate webhook call: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("expected status 301 on duplicate, got %d", resp3.StatusCode)
	}
	if got := env.registry.activities(); len(got) != 2 {
		t.Fatalf("duplicate webhook leaked to the registry: %v", got)
	}
	if len(env.gateway.processReqs) != 1 {
		t.Fatalf("duplicate webhook leaked to the gateway: %d", len(env.gateway.processReqs))
	}

	// The sweep removes the finalized row once it falls out of the
	// payment window, without resubmitting anything.
	env.clock.Advance(time.Hour)
	if err := env.sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if env.count(t, "SELECT COUNT(1) FROM applications") != 0 {
		t.Fatal("expected the finalized application to be swept away")
	}
	if got := env.registry.activities(); len(got) != 2 {
		t.Fatalf("sweep resubmitted a finalized application: %v", got)
	}
}

func TestAbandonedOrderIsSweptToCompletion(t *testing.T) {
	env := startEnv(t)

	body := `{
		"child": {"firstNames": "Tane", "surname": "Ngata", "birthDate": "2026-02-20"},
		"certificateOrder": {"productCode": "ZBBC", "quantity": 2},
		"confirmationUrlSuccess": "https://smartstart.example/done",
		"confirmationUrlFailure": "https://smartstart.example/failed"
	}`
	resp, err := env.client.Post(env.baseURL+"/birth-registrations", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post registration: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	// Nobody pays. Past the window the sweep finalizes the registration
	// itself so the birth record is not lost.
	env.clock.Advance(time.Hour)
	if err := env.sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	activities := env.registry.activities()
	if len(activities) != 2 || activities[1] != applicationdomain.ActivityFullSubmission {
		t.Fatalf("expected the sweep to finish the registration, got %v", activities)
	}
	if env.count(t, "SELECT COUNT(1) FROM applications") != 0 {
		t.Fatal("expected the swept application to be deleted")
	}
	if env.count(t, "SELECT COUNT(1) FROM audit_records WHERE tag = 'timeout'") != 1 {
		t.Fatal("expected a timeout audit row")
	}
}
