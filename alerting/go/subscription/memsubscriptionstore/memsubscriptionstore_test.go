package memsubscriptionstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.argus-mon.org/infra/alerting/go/subscription"
	"go.argus-mon.org/infra/alerting/go/types"
)

func TestSnubaQuery_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()

	env := "production"
	q := &subscription.SnubaQuery{
		Type:        types.ErrorQuery,
		Dataset:     types.EventsDataset,
		Query:       "level:error",
		Aggregate:   "count()",
		TimeWindow:  10 * time.Minute,
		Resolution:  time.Minute,
		Environment: &env,
		EventTypes:  []types.EventType{types.ErrorEvent},
	}
	require.NoError(t, store.CreateSnubaQuery(ctx, q))
	require.NotZero(t, q.ID)

	got, err := store.GetSnubaQuery(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, q, got)
}

func TestSnubaQuery_UpdateReplacesAllFields(t *testing.T) {
	ctx := context.Background()
	store := New()

	q := &subscription.SnubaQuery{
		Type:       types.ErrorQuery,
		Dataset:    types.EventsDataset,
		Query:      "level:error",
		Aggregate:  "count()",
		TimeWindow: 10 * time.Minute,
		Resolution: time.Minute,
		EventTypes: []types.EventType{types.ErrorEvent},
	}
	require.NoError(t, store.CreateSnubaQuery(ctx, q))

	q.Type = types.PerformanceQuery
	q.Dataset = types.TransactionsDataset
	q.Query = ""
	q.Aggregate = "p95(transaction.duration)"
	q.TimeWindow = 20 * time.Minute
	q.Resolution = 2 * time.Minute
	q.EventTypes = []types.EventType{types.TransactionEvent}
	require.NoError(t, store.UpdateSnubaQuery(ctx, q))

	got, err := store.GetSnubaQuery(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, q, got)
}

func TestSnubaQuery_Missing(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, err := store.GetSnubaQuery(ctx, 99)
	require.True(t, errors.Is(err, subscription.ErrNotFound))
}

func TestSubscriptions_ListAndCountByQuery(t *testing.T) {
	ctx := context.Background()
	store := New()

	q := &subscription.SnubaQuery{Type: types.ErrorQuery, Dataset: types.EventsDataset, Aggregate: "count()"}
	require.NoError(t, store.CreateSnubaQuery(ctx, q))

	first := &subscription.QuerySubscription{ProjectID: 1, SnubaQueryID: q.ID, Status: types.StatusCreating}
	second := &subscription.QuerySubscription{ProjectID: 2, SnubaQueryID: q.ID, Status: types.StatusCreating}
	require.NoError(t, store.CreateSubscription(ctx, first))
	require.NoError(t, store.CreateSubscription(ctx, second))

	subs, err := store.ListSubscriptionsForQuery(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	count, err := store.CountSubscriptionsForQuery(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, store.DeleteSubscription(ctx, first.ID))
	count, err = store.CountSubscriptionsForQuery(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSubscriptions_CopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := New()

	sub := &subscription.QuerySubscription{ProjectID: 1, SnubaQueryID: 1, Status: types.StatusCreating}
	require.NoError(t, store.CreateSubscription(ctx, sub))

	// Mutating the caller's struct must not change the stored row.
	sub.Status = types.StatusActive
	got, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCreating, got.Status)
}
