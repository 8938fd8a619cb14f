package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dealerledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/dealerledger/internal/jobs"
	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/dealerledger/internal/posting"
)

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type stubEnqueuer struct {
	err   error
	tasks []enqueued
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.tasks = append(s.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{ID: uuid.NewString(), Type: task.Type(), Queue: QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

type ledgerFixture struct {
	store   *ledgertest.Store
	outlet  uuid.UUID
	chart   map[ledger.SubType]ledger.Account
	ledger  *ledger.Service
	posting *posting.Service
	user    uuid.UUID
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	store := ledgertest.NewStore()
	outlet := uuid.New()
	chart := store.SeedChart(outlet)
	ledgerSvc := ledger.NewService(store, nil, nil, ledger.Config{}, nil)
	ledgerSvc.WithNow(func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) })
	return &ledgerFixture{
		store:   store,
		outlet:  outlet,
		chart:   chart,
		ledger:  ledgerSvc,
		posting: posting.NewService(ledgerSvc, nil, nil),
		user:    uuid.New(),
	}
}

func (f *ledgerFixture) stocked(t *testing.T, sku string, qty, cost int64) ledger.Product {
	t.Helper()
	p := f.store.SeedProduct(ledger.Product{OutletID: f.outlet, Name: sku, SKU: sku})
	_, err := f.posting.PostInventoryAdjustment(context.Background(), posting.InventoryAdjustment{
		OutletID:     f.outlet,
		ProductID:    p.ID,
		Quantity:     decimal.NewFromInt(qty),
		UnitCost:     decimal.NewFromInt(cost),
		OpeningStock: true,
	}, f.user)
	require.NoError(t, err)
	return p
}

func TestGLIntegrityJobReportsDrift(t *testing.T) {
	f := newLedgerFixture(t)
	f.stocked(t, "TYRE", 10, 50)
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewGLIntegrityJob(f.ledger, nil, metrics)

	drifts, err := job.Run(context.Background(), f.outlet)
	require.NoError(t, err)
	require.Empty(t, drifts)

	inventoryAcc := f.chart[ledger.SubTypeInventory]
	f.store.SetAccountBalance(inventoryAcc.ID, decimal.NewFromInt(1))

	task, err := NewGLIntegrityTask(GLIntegrityPayload{OutletID: f.outlet})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	drifts, err = job.Run(context.Background(), uuid.Nil)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, inventoryAcc.ID, drifts[0].AccountID)
	require.True(t, drifts[0].Replayed.Equal(decimal.NewFromInt(500)))

	expected := `
# HELP dealerledger_jobs_total Total job executions partitioned by job name and status.
# TYPE dealerledger_jobs_total counter
dealerledger_jobs_total{job="ledger:integrity",status="success"} 3
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "dealerledger_jobs_total"))
}

func TestInventoryRevaluationJobRebuildsCaches(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.stocked(t, "A", 4, 10)
	b := f.stocked(t, "B", 6, 20)
	f.store.SetProductStock(a.ID, decimal.NewFromInt(99))
	f.store.SetProductStock(b.ID, decimal.NewFromInt(1))

	recomputer := inventory.NewService(f.posting, nil, nil, nil, inventory.ServiceConfig{}, nil)
	job := NewInventoryRevaluationJob(f.ledger, recomputer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	summary, err := job.Run(context.Background(), InventoryRevaluationPayload{OutletID: f.outlet, ProductIDs: []uuid.UUID{a.ID}})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Products)
	require.Equal(t, 1, summary.Changed)
	require.True(t, f.store.Product(a.ID).CurrentStock.Equal(decimal.NewFromInt(4)))
	require.True(t, f.store.Product(b.ID).CurrentStock.Equal(decimal.NewFromInt(1)))

	body, err := json.Marshal(InventoryRevaluationPayload{OutletID: f.outlet})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskInventoryRevaluation, body)))
	require.True(t, f.store.Product(b.ID).CurrentStock.Equal(decimal.NewFromInt(6)))

	err = job.Handle(context.Background(), asynq.NewTask(TaskInventoryRevaluation, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type failingRecomputer struct{}

func (failingRecomputer) RecomputeProduct(context.Context, uuid.UUID, uuid.UUID) (ledger.StockReplay, error) {
	return ledger.StockReplay{}, errors.New("db gone")
}

func TestInventoryRevaluationJobPropagatesFailure(t *testing.T) {
	f := newLedgerFixture(t)
	f.stocked(t, "A", 1, 1)
	job := NewInventoryRevaluationJob(f.ledger, failingRecomputer{}, nil, nil)

	_, err := job.Run(context.Background(), InventoryRevaluationPayload{})
	require.ErrorContains(t, err, "recompute A")
}

func TestClientSchedulesIntegrityAfterStockEdit(t *testing.T) {
	enq := &stubEnqueuer{}
	client := NewClientWith(enq, nil)
	outlet := uuid.New()

	err := client.HandleStockEdited(context.Background(), inventory.StockEditedEvent{
		OutletID:  outlet,
		ProductID: uuid.New(),
		Method:    inventory.MethodDelta,
	})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskGLIntegrity, enq.tasks[0].task.Type())
	require.Len(t, enq.tasks[0].opts, 1)

	var payload GLIntegrityPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].task.Payload(), &payload))
	require.Equal(t, outlet, payload.OutletID)

	enq.err = asynq.ErrDuplicateTask
	require.NoError(t, client.HandleStockEdited(context.Background(), inventory.StockEditedEvent{OutletID: outlet}))

	enq.err = errors.New("redis down")
	require.Error(t, client.HandleStockEdited(context.Background(), inventory.StockEditedEvent{OutletID: outlet}))

	enq.err = nil
	info, err := client.EnqueueInventoryRevaluation(context.Background(), InventoryRevaluationPayload{OutletID: outlet})
	require.NoError(t, err)
	require.Equal(t, TaskInventoryRevaluation, info.Type)
	require.NoError(t, client.Close())
}

func TestHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rec
	}

	rec := serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0}`, rec.Body.String())

	rec = serve(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Active: 1}}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":3,"active":1,"retry":0}`, rec.Body.String())

	rec = serve(NewHandler(stubInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
