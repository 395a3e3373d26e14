package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"wallet_ledger/internal/api"
	"wallet_ledger/internal/domain"
	"wallet_ledger/internal/gateway"
	"wallet_ledger/internal/processor"
	"wallet_ledger/internal/repository/memory"
	"wallet_ledger/internal/service"
	"wallet_ledger/pkg/crypto"
	"wallet_ledger/pkg/metrics"
)

const jwtSecret = "integration-secret"

type captureSink struct {
	mu     sync.Mutex
	events []domain.OperationEvent
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(ctx context.Context, event domain.OperationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

type testEnv struct {
	records *memory.RecordRepository
	notary  *gateway.Notary
	breaker *gateway.Breaker
	events  *service.EventService
	sink    *captureSink
	router  *gin.Engine
	token   string
	outage  atomic.Bool
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.Default()

	env := &testEnv{
		records: memory.NewRecordRepository(),
		sink:    &captureSink{},
	}

	metricsCollector := metrics.NewMetricsCollector(logger)
	env.notary = gateway.NewNotary(crypto.NewSigner("test-secret", nil), func(ctx context.Context, p gateway.Proposal) error {
		if env.outage.Load() {
			return errors.New("connection refused")
		}
		return nil
	}, logger)
	env.breaker = gateway.NewBreaker(env.notary, gateway.BreakerConfig{
		Name:          "integration",
		MaxFailures:   3,
		OpenTimeout:   time.Minute,
		OnStateChange: metricsCollector.SetBreakerState,
	}, logger)
	env.events = service.NewEventService([]service.Sink{env.sink, service.NewLogSink(logger)}, 2, 100, metricsCollector, logger)

	engine := processor.NewTransferEngine(
		env.records,
		memory.NewRoleRepository(),
		memory.NewOperationRepository(),
		env.breaker,
		logger,
		processor.WithMetrics(metricsCollector),
		processor.WithPublisher(env.events),
	)
	env.router = api.NewRouter(api.NewAPIHandler(engine, 5*time.Second, logger), jwtSecret, logger)

	token, err := api.IssueToken(jwtSecret, "integration", time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	env.token = token
	return env
}

func (env *testEnv) call(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request failed: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+env.token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	return w
}

func (env *testEnv) onboard(t *testing.T, id int64, label string, value int64) string {
	t.Helper()
	w := env.call(t, http.MethodPost, "/api/v1/wallets/onboard", api.OnboardRequest{EntityID: id, EntityMetadata: label, Value: value})
	if w.Code != http.StatusCreated {
		t.Fatalf("onboard %d failed: %d %s", id, w.Code, w.Body.String())
	}
	var resp api.CommitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode onboard response failed: %v", err)
	}
	return resp.TxHash
}

func (env *testEnv) balance(t *testing.T, id int64) int64 {
	t.Helper()
	w := env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/wallets/%d", id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get wallet %d failed: %d", id, w.Code)
	}
	var rec domain.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode wallet failed: %v", err)
	}
	return rec.Value
}

func TestIntegration_OnboardTransferAndEvents(t *testing.T) {
	env := setup(t)

	env.onboard(t, 1, "alice", 100)
	env.onboard(t, 2, "bob", 20)

	w := env.call(t, http.MethodPost, "/api/v1/wallets/transfer", api.TransferRequest{From: 1, To: 2, Value: 45})
	if w.Code != http.StatusCreated {
		t.Fatalf("transfer failed: %d %s", w.Code, w.Body.String())
	}

	if got := env.balance(t, 1); got != 55 {
		t.Errorf("expected alice 55, got %d", got)
	}
	if got := env.balance(t, 2); got != 65 {
		t.Errorf("expected bob 65, got %d", got)
	}

	if err := env.events.Shutdown(context.Background()); err != nil {
		t.Fatalf("event shutdown failed: %v", err)
	}
	if len(env.sink.events) != 3 {
		t.Fatalf("expected 3 committed events, got %d", len(env.sink.events))
	}
	var transfers int
	for _, ev := range env.sink.events {
		if ev.Kind == domain.KindTransfer {
			transfers++
			if len(ev.Records) != 2 || domain.Total(ev.Records...) != 120 {
				t.Errorf("unexpected transfer event %+v", ev)
			}
		}
	}
	if transfers != 1 {
		t.Errorf("expected one transfer event, got %d", transfers)
	}
	if env.notary.Height() != 3 {
		t.Errorf("expected notary height 3, got %d", env.notary.Height())
	}
}

func TestIntegration_LedgerOutageOpensBreaker(t *testing.T) {
	env := setup(t)
	env.onboard(t, 1, "alice", 100)
	env.onboard(t, 2, "bob", 100)
	env.outage.Store(true)

	for i := 0; i < 5; i++ {
		w := env.call(t, http.MethodPost, "/trade/transfer", api.TransferRequest{From: 1, To: 2, Value: 10})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("attempt %d: expected 400, got %d", i, w.Code)
		}
	}

	if env.breaker.State() != "open" {
		t.Errorf("expected breaker open, got %s", env.breaker.State())
	}
	if env.notary.Height() != 2 {
		t.Errorf("expected no commits during outage, height %d", env.notary.Height())
	}
	if env.records.Len() != 2 {
		t.Errorf("expected store untouched, got %d records", env.records.Len())
	}
	if env.balance(t, 1) != 100 || env.balance(t, 2) != 100 {
		t.Errorf("balances changed during outage")
	}
}

func TestIntegration_ConcurrentTransfersConserveValue(t *testing.T) {
	env := setup(t)
	for id := int64(1); id <= 3; id++ {
		env.onboard(t, id, fmt.Sprintf("acct-%d", id), 500)
	}

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 60; i++ {
		from := int64(i%3 + 1)
		to := int64((i+1)%3 + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := env.call(t, http.MethodPost, "/api/v1/wallets/transfer", api.TransferRequest{From: from, To: to, Value: 7})
			if w.Code != http.StatusCreated {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("%d transfers failed", failures.Load())
	}
	total := env.balance(t, 1) + env.balance(t, 2) + env.balance(t, 3)
	if total != 1500 {
		t.Errorf("expected total 1500, got %d", total)
	}
	// every account sends and receives 20 transfers of 7
	for id := int64(1); id <= 3; id++ {
		if got := env.balance(t, id); got != 500 {
			t.Errorf("account %d: expected 500, got %d", id, got)
		}
	}
	if env.records.Len() != 3+120 {
		t.Errorf("expected %d records, got %d", 3+120, env.records.Len())
	}
}
