package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/dealerledger/internal/posting"
	"github.com/odyssey-erp/dealerledger/jobs"
)

type memSeedStore struct {
	store *ledgertest.Store
	seen  map[uuid.UUID]bool
}

func (m *memSeedStore) UpsertAccount(_ context.Context, a ledger.Account) (bool, error) {
	if m.seen[a.ID] {
		return false, nil
	}
	m.seen[a.ID] = true
	m.store.SeedAccount(a)
	return true, nil
}

func (m *memSeedStore) UpsertProduct(_ context.Context, p ledger.Product) (bool, error) {
	if m.seen[p.ID] {
		return false, nil
	}
	m.seen[p.ID] = true
	m.store.SeedProduct(p)
	return true, nil
}

func TestSeedDemoOutletIsRepeatable(t *testing.T) {
	store := ledgertest.NewStore()
	ledgerSvc := ledger.NewService(store, nil, nil, ledger.Config{}, nil)
	postingSvc := posting.NewService(ledgerSvc, nil, nil)
	seeds := &memSeedStore{store: store, seen: map[uuid.UUID]bool{}}
	outlet := uuid.New()
	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	report, err := SeedDemoOutlet(context.Background(), seeds, postingSvc, outlet, asOf)
	require.NoError(t, err)
	require.Equal(t, SeedReport{Accounts: len(demoChart), Products: len(demoProducts), OpeningStocks: 4}, report)

	inventory := store.Account(demoID(outlet, "account", "1200"))
	require.True(t, inventory.CurrentBalance.Equal(decimal.RequireFromString("21750")), inventory.CurrentBalance.String())
	equity := store.Account(demoID(outlet, "account", "3000"))
	require.True(t, equity.CurrentBalance.Equal(decimal.RequireFromString("21750")), equity.CurrentBalance.String())
	require.Len(t, store.Vouchers(), 4)

	again, err := SeedDemoOutlet(context.Background(), seeds, postingSvc, outlet, asOf)
	require.NoError(t, err)
	require.Equal(t, SeedReport{}, again)
	require.Len(t, store.Vouchers(), 4)
}

type stubVerifier struct {
	drifts []ledger.BalanceDrift
}

func (s stubVerifier) VerifyAccountBalances(context.Context, uuid.UUID) ([]ledger.BalanceDrift, error) {
	return s.drifts, nil
}

func TestRunVerify(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runVerify(context.Background(), stubVerifier{}, uuid.Nil, &out))
	require.Contains(t, out.String(), "all balances consistent")

	out.Reset()
	err := runVerify(context.Background(), stubVerifier{drifts: []ledger.BalanceDrift{{
		AccountID: uuid.New(),
		Code:      "1200",
		Cached:    decimal.RequireFromString("100"),
		Replayed:  decimal.RequireFromString("90.5"),
	}}}, uuid.Nil, &out)
	require.ErrorIs(t, err, ErrDriftFound)
	require.Contains(t, out.String(), "1200")
	require.Contains(t, out.String(), "90.50")
}

type stubRevaluer struct {
	got jobs.InventoryRevaluationPayload
}

func (s *stubRevaluer) Run(_ context.Context, p jobs.InventoryRevaluationPayload) (jobs.RevaluationSummary, error) {
	s.got = p
	return jobs.RevaluationSummary{Products: 3, Changed: 1, Rebalanced: 2}, nil
}

func TestRunRecompute(t *testing.T) {
	job := &stubRevaluer{}
	outlet := uuid.New()
	var out bytes.Buffer
	require.NoError(t, runRecompute(context.Background(), job, jobs.InventoryRevaluationPayload{OutletID: outlet}, &out))
	require.Equal(t, outlet, job.got.OutletID)
	require.Equal(t, "products=3 changed=1 rebalanced=2\n", out.String())
}

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	err error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.QueueInfo{Queue: queue, Pending: 4, Active: 1, Scheduled: 2, Retry: 1}, nil
}

func (s stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskGLIntegrity, NextProcessAt: time.Date(2026, 3, 1, 2, 15, 0, 0, time.UTC)}}, nil
}

func (stubInspector) Close() error { return nil }

func TestJobsCLITriggerAndInspect(t *testing.T) {
	enq := &stubEnqueuer{}
	c := &JobsCLI{client: jobs.NewClientWith(enq, nil), inspector: stubInspector{}}
	outlet := uuid.New()

	info, err := c.Trigger(context.Background(), jobs.TaskGLIntegrity, outlet)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskGLIntegrity, info.Type)

	info, err = c.Trigger(context.Background(), jobs.TaskInventoryRevaluation, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskInventoryRevaluation, info.Type)
	_, err = c.Trigger(context.Background(), "unknown", outlet)
	require.Error(t, err)
	require.Len(t, enq.tasks, 2)

	var out bytes.Buffer
	require.NoError(t, printStats(c, &out))
	require.Equal(t, "queue=default pending=4 active=1 scheduled=2 retry=1\n", out.String())

	out.Reset()
	require.NoError(t, printScheduled(c, 0, &out))
	require.Contains(t, out.String(), "2026-03-01 02:15")

	broken := &JobsCLI{inspector: stubInspector{err: errors.New("redis down")}}
	_, err = broken.InspectQueue()
	require.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "verify-balances", "recompute-stock", "seed", "prune-idempotency", "jobs"} {
		require.True(t, names[want], want)
	}
}

type stubPruner struct {
	olderThan time.Duration
}

func (s *stubPruner) Cleanup(_ context.Context, olderThan time.Duration) error {
	s.olderThan = olderThan
	return nil
}

func TestRunPrune(t *testing.T) {
	pruner := &stubPruner{}
	var out bytes.Buffer
	require.NoError(t, runPrune(context.Background(), pruner, 48*time.Hour, &out))
	require.Equal(t, 48*time.Hour, pruner.olderThan)
	require.Equal(t, "pruned idempotency keys older than 48h0m0s\n", out.String())
	require.Error(t, runPrune(context.Background(), pruner, 0, &out))
}
