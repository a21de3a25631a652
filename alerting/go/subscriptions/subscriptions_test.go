package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.argus-mon.org/infra/alerting/go/entitysub"
	"go.argus-mon.org/infra/alerting/go/metricsindex"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/subscription"
	"go.argus-mon.org/infra/alerting/go/subscription/memsubscriptionstore"
	"go.argus-mon.org/infra/alerting/go/taskqueue"
	"go.argus-mon.org/infra/alerting/go/taskqueue/memtaskqueue"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/now"
)

// fixture wires a Manager against in-memory collaborators. Tasks dispatched
// by the manager sit in the queue until drain is called, which mirrors the
// asynchronous worker.
type fixture struct {
	store   *memsubscriptionstore.SubscriptionStore
	queue   *memtaskqueue.MemQueue
	client  *snuba.FakeClient
	manager *Manager
	project *subscription.Project
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		store:   memsubscriptionstore.New(),
		client:  snuba.NewFakeClient(),
		project: &subscription.Project{ID: 7, OrganizationID: 42},
	}
	f.queue = memtaskqueue.New(func(ctx context.Context, task *taskqueue.Task) error {
		return f.manager.HandleTask(ctx, task)
	})
	f.manager = NewManager(f.store, f.queue, f.client, entitysub.NewRegistry(metricsindex.NewMemIndexer()))
	return f
}

func (f *fixture) drain(t *testing.T) {
	require.NoError(t, f.queue.Drain(context.Background()))
}

func errorQuery() QueryParams {
	return QueryParams{
		Type:       types.ErrorQuery,
		Dataset:    types.EventsDataset,
		Query:      "level:error",
		Aggregate:  "count()",
		TimeWindow: 10 * time.Minute,
		Resolution: time.Minute,
	}
}

func TestCreateSnubaQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	require.NotZero(t, q.ID)
	assert.Equal(t, types.ErrorQuery, q.Type)
	assert.Equal(t, types.EventsDataset, q.Dataset)
	assert.Equal(t, "level:error", q.Query)
	assert.Equal(t, "count()", q.Aggregate)
	assert.Equal(t, 10*time.Minute, q.TimeWindow)
	assert.Equal(t, time.Minute, q.Resolution)
	assert.Nil(t, q.Environment)
	assert.Equal(t, []types.EventType{types.ErrorEvent}, q.EventTypes)

	// No backend contact for a bare query definition.
	assert.Equal(t, 0, f.client.CreateCount)
	assert.Equal(t, 0, f.queue.Len())
}

func TestCreateSnubaQuery_CreatedAtFromContext(t *testing.T) {
	f := newFixture(t)
	ts := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	ctx := context.WithValue(context.Background(), now.ContextKey, ts)

	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	assert.Equal(t, ts, q.CreatedAt)

	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)
	assert.Equal(t, ts, sub.CreatedAt)
}

func TestCreateSnubaQuery_Environment(t *testing.T) {
	f := newFixture(t)
	env := "production"
	p := errorQuery()
	p.Environment = &env

	q, err := f.manager.CreateSnubaQuery(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, q.Environment)
	assert.Equal(t, "production", *q.Environment)
}

func TestCreateSnubaQuery_ExplicitEventTypes(t *testing.T) {
	f := newFixture(t)
	p := errorQuery()
	p.EventTypes = []types.EventType{types.DefaultEvent}

	q, err := f.manager.CreateSnubaQuery(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []types.EventType{types.DefaultEvent}, q.EventTypes)
}

func TestCreateSnubaQuery_PerformanceDefaultsToTransactions(t *testing.T) {
	f := newFixture(t)
	q, err := f.manager.CreateSnubaQuery(context.Background(), QueryParams{
		Type:       types.PerformanceQuery,
		Dataset:    types.TransactionsDataset,
		Aggregate:  "count()",
		TimeWindow: 10 * time.Minute,
		Resolution: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, []types.EventType{types.TransactionEvent}, q.EventTypes)
}

func TestCreateSnubaQuery_CrashRateNeverHasEventTypes(t *testing.T) {
	f := newFixture(t)
	q, err := f.manager.CreateSnubaQuery(context.Background(), QueryParams{
		Type:       types.CrashRateQuery,
		Dataset:    types.MetricsDataset,
		Aggregate:  "percentage(sessions_crashed, sessions) AS _crash_rate_alert_aggregate",
		TimeWindow: 10 * time.Minute,
		Resolution: time.Minute,
		EventTypes: []types.EventType{types.ErrorEvent},
	})
	require.NoError(t, err)
	assert.Empty(t, q.EventTypes)
}

func TestCreateSnubaSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)

	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreating, sub.Status)
	assert.Equal(t, f.project.ID, sub.ProjectID)
	assert.Equal(t, "something", sub.Type)
	assert.Nil(t, sub.SubscriptionID)
	assert.Equal(t, 0, f.client.CreateCount)

	f.drain(t)

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
	require.NotNil(t, got.SubscriptionID)
	assert.Contains(t, f.client.Subscriptions, *got.SubscriptionID)
	assert.Equal(t, 1, f.client.CreateCount)
}

func TestCreateSnubaSubscription_UnsupportedQueryFailsEagerly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, QueryParams{
		Type:       types.ErrorQuery,
		Dataset:    types.SessionsDataset,
		Aggregate:  "count()",
		TimeWindow: 10 * time.Minute,
		Resolution: time.Minute,
	})
	require.NoError(t, err)

	_, err = f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.True(t, errors.Is(err, entitysub.ErrUnsupportedQuerySubscription))
	assert.Equal(t, 0, f.queue.Len())
}

func TestCreateTask_Replay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)

	task := &taskqueue.Task{Kind: taskqueue.CreateTask, SubscriptionID: sub.ID, Version: sub.Version}
	f.drain(t)

	// The redelivered task sees an ACTIVE row and drops out without touching
	// the backend again.
	require.NoError(t, f.manager.HandleTask(ctx, task))
	assert.Equal(t, 1, f.client.CreateCount)
	assert.Len(t, f.client.Subscriptions, 1)
}

func TestUpdateSnubaQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	env := "production"
	q, err := f.manager.CreateSnubaQuery(ctx, QueryParams{
		Type:        types.ErrorQuery,
		Dataset:     types.EventsDataset,
		Query:       "hello",
		Aggregate:   "count_unique(user)",
		TimeWindow:  100 * time.Minute,
		Resolution:  2 * time.Minute,
		Environment: &env,
	})
	require.NoError(t, err)

	err = f.manager.UpdateSnubaQuery(ctx, q, QueryParams{
		Type:       types.PerformanceQuery,
		Dataset:    types.TransactionsDataset,
		Query:      "level:error",
		Aggregate:  "count()",
		TimeWindow: 10 * time.Minute,
		Resolution: time.Minute,
		EventTypes: []types.EventType{types.ErrorEvent, types.DefaultEvent},
	})
	require.NoError(t, err)
	assert.Equal(t, types.PerformanceQuery, q.Type)
	assert.Equal(t, types.TransactionsDataset, q.Dataset)
	assert.Equal(t, "level:error", q.Query)
	assert.Equal(t, "count()", q.Aggregate)
	assert.Equal(t, 10*time.Minute, q.TimeWindow)
	assert.Equal(t, time.Minute, q.Resolution)
	assert.Nil(t, q.Environment)
	assert.Equal(t, []types.EventType{types.ErrorEvent, types.DefaultEvent}, q.EventTypes)

	stored, err := f.store.GetSnubaQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q, stored)
}

func TestUpdateSnubaQuery_MarksSubscriptionsUpdating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "hi", q)
	require.NoError(t, err)
	f.drain(t)

	p := errorQuery()
	p.Query = "level:warning"
	require.NoError(t, f.manager.UpdateSnubaQuery(ctx, q, p))

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUpdating, got.Status)
	require.NotNil(t, got.SubscriptionID)
}

func TestUpdateSnubaSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)
	f.drain(t)

	sub, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.SubscriptionID)
	oldID := *sub.SubscriptionID

	env := "production"
	require.NoError(t, f.manager.UpdateSnubaQuery(ctx, q, QueryParams{
		Type:        types.PerformanceQuery,
		Dataset:     types.TransactionsDataset,
		Query:       "level:warning",
		Aggregate:   "count_unique(user)",
		TimeWindow:  20 * time.Minute,
		Resolution:  2 * time.Minute,
		Environment: &env,
	}))

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUpdating, got.Status)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, oldID, *got.SubscriptionID)

	f.drain(t)

	got, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
	require.NotNil(t, got.SubscriptionID)
	// The backend hands out a fresh identifier on update.
	assert.NotEqual(t, oldID, *got.SubscriptionID)
	assert.NotContains(t, f.client.Subscriptions, oldID)
	assert.Contains(t, f.client.Subscriptions, *got.SubscriptionID)

	// The teardown half of the update must target the entity the old
	// subscription was registered under, not the one the new query maps to.
	require.Len(t, f.client.Deletes, 1)
	assert.Equal(t, snuba.FakeDelete{Entity: types.EventsEntity, SubscriptionID: oldID}, f.client.Deletes[0])
}

func TestUpdateSnubaQuery_SkipsDisabledSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)
	f.drain(t)

	sub, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.DisableSnubaSubscription(ctx, sub))
	f.drain(t)

	// Editing the shared query must not resurrect a disabled subscription;
	// only an explicit enable brings it back.
	p := errorQuery()
	p.Query = "level:warning"
	require.NoError(t, f.manager.UpdateSnubaQuery(ctx, q, p))
	f.drain(t)

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDisabled, got.Status)
	assert.Nil(t, got.SubscriptionID)
	assert.Empty(t, f.client.Subscriptions)
}

func TestUpdateSnubaQuery_UnsupportedCombinationFailsEagerly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)
	f.drain(t)

	p := errorQuery()
	p.Dataset = types.SessionsDataset
	err = f.manager.UpdateSnubaQuery(ctx, q, p)
	require.True(t, errors.Is(err, entitysub.ErrUnsupportedQuerySubscription))
	assert.Equal(t, 0, f.queue.Len())

	// Nothing was persisted and no subscription was marked for re-dispatch.
	stored, err := f.store.GetSnubaQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EventsDataset, stored.Dataset)
	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
}

func TestDeleteSnubaSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)
	f.drain(t)

	sub, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.SubscriptionID)
	oldID := *sub.SubscriptionID

	require.NoError(t, f.manager.DeleteSnubaSubscription(ctx, sub))
	assert.Equal(t, types.StatusDeleting, sub.Status)
	require.NotNil(t, sub.SubscriptionID)
	assert.Equal(t, oldID, *sub.SubscriptionID)

	f.drain(t)

	_, err = f.store.GetSubscription(ctx, sub.ID)
	require.True(t, errors.Is(err, subscription.ErrNotFound))
	assert.NotContains(t, f.client.Subscriptions, oldID)

	// The shared query row goes with its last subscription.
	_, err = f.store.GetSnubaQuery(ctx, q.ID)
	require.True(t, errors.Is(err, subscription.ErrNotFound))
}

func TestDeleteSnubaSubscription_QuerySurvivesWhileShared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	first, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)
	other := &subscription.Project{ID: 8, OrganizationID: f.project.OrganizationID}
	_, err = f.manager.CreateSnubaSubscription(ctx, other, "something", q)
	require.NoError(t, err)
	f.drain(t)

	first, err = f.store.GetSubscription(ctx, first.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.DeleteSnubaSubscription(ctx, first))
	f.drain(t)

	_, err = f.store.GetSnubaQuery(ctx, q.ID)
	require.NoError(t, err)
}

func TestBulkDeleteSnubaSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q1, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub1, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q1)
	require.NoError(t, err)
	q2, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	other := &subscription.Project{ID: 8, OrganizationID: f.project.OrganizationID}
	sub2, err := f.manager.CreateSnubaSubscription(ctx, other, "something", q2)
	require.NoError(t, err)
	f.drain(t)

	sub1, err = f.store.GetSubscription(ctx, sub1.ID)
	require.NoError(t, err)
	sub2, err = f.store.GetSubscription(ctx, sub2.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.BulkDeleteSnubaSubscriptions(ctx, []*subscription.QuerySubscription{sub1, sub2}))

	// Both rows are DELETING and still hold their backend identifiers until
	// the tasks run.
	for _, id := range []int64{sub1.ID, sub2.ID} {
		got, err := f.store.GetSubscription(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDeleting, got.Status)
		assert.NotNil(t, got.SubscriptionID)
	}
}

func TestDisableEnableSnubaSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)
	f.drain(t)

	sub, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.DisableSnubaSubscription(ctx, sub))
	f.drain(t)

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDisabled, got.Status)
	assert.Nil(t, got.SubscriptionID)
	assert.Empty(t, f.client.Subscriptions)

	require.NoError(t, f.manager.EnableSnubaSubscription(ctx, got))
	f.drain(t)

	got, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
	require.NotNil(t, got.SubscriptionID)
	assert.Contains(t, f.client.Subscriptions, *got.SubscriptionID)
}

func TestStaleTaskIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.manager.CreateSnubaQuery(ctx, errorQuery())
	require.NoError(t, err)
	sub, err := f.manager.CreateSnubaSubscription(ctx, f.project, "something", q)
	require.NoError(t, err)

	// A delete dispatched before the create task ran bumps the version; the
	// now stale create task must not resurrect the backend subscription.
	require.NoError(t, f.manager.DeleteSnubaSubscription(ctx, sub))
	f.drain(t)

	assert.Equal(t, 0, f.client.CreateCount)
	assert.Empty(t, f.client.Subscriptions)
	_, err = f.store.GetSubscription(ctx, sub.ID)
	require.True(t, errors.Is(err, subscription.ErrNotFound))
}

func TestDeleteTask_MissingRowIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.manager.HandleTask(ctx, &taskqueue.Task{
		Kind:           taskqueue.DeleteTask,
		SubscriptionID: 12345,
		Version:        1,
	}))
}
