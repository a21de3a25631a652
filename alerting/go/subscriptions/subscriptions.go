// Package subscriptions is the lifecycle manager for standing query
// subscriptions. It owns the persisted rows, moves them through the
// CREATING, ACTIVE, UPDATING, DELETING and DISABLED states and dispatches
// the asynchronous tasks that reconcile each transition against the
// streaming backend.
package subscriptions

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"go.argus-mon.org/infra/alerting/go/entitysub"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/subscription"
	"go.argus-mon.org/infra/alerting/go/taskqueue"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/now"
	"go.argus-mon.org/infra/go/skerr"
)

// QueryParams carries the caller supplied fields of a query definition for
// create and update operations.
type QueryParams struct {
	Type       types.QueryType
	Dataset    types.Dataset
	Query      string
	Aggregate  string
	TimeWindow time.Duration
	Resolution time.Duration

	// Environment restricts the query to one environment when non-nil.
	Environment *string

	// EventTypes defaults per query type when empty. Crash rate queries
	// never carry event types regardless of what is supplied.
	EventTypes []types.EventType
}

// Manager implements the subscription lifecycle. All mutating operations
// write the new state synchronously and dispatch the backend reconciliation
// to the task queue.
type Manager struct {
	store    subscription.Store
	queue    taskqueue.Queue
	client   snuba.Client
	registry *entitysub.Registry
}

// NewManager returns a Manager on the given collaborators.
func NewManager(store subscription.Store, queue taskqueue.Queue, client snuba.Client, registry *entitysub.Registry) *Manager {
	return &Manager{
		store:    store,
		queue:    queue,
		client:   client,
		registry: registry,
	}
}

// eventTypesFor applies the per-query-type defaulting rules.
func eventTypesFor(queryType types.QueryType, supplied []types.EventType) []types.EventType {
	if queryType == types.CrashRateQuery {
		return nil
	}
	if len(supplied) > 0 {
		return supplied
	}
	switch queryType {
	case types.PerformanceQuery:
		return []types.EventType{types.TransactionEvent}
	default:
		return []types.EventType{types.ErrorEvent}
	}
}

// CreateSnubaQuery stores a new query definition. No backend contact happens
// until a subscription of the query is created.
func (m *Manager) CreateSnubaQuery(ctx context.Context, p QueryParams) (*subscription.SnubaQuery, error) {
	q := &subscription.SnubaQuery{
		Type:        p.Type,
		Dataset:     p.Dataset,
		Query:       p.Query,
		Aggregate:   p.Aggregate,
		TimeWindow:  p.TimeWindow,
		Resolution:  p.Resolution,
		Environment: p.Environment,
		EventTypes:  eventTypesFor(p.Type, p.EventTypes),
		CreatedAt:   now.Now(ctx),
	}
	if err := m.store.CreateSnubaQuery(ctx, q); err != nil {
		return nil, skerr.Wrap(err)
	}
	return q, nil
}

// CreateSnubaSubscription subscribes the given project to q. The row starts
// in CREATING with no backend identifier; the dispatched task performs the
// backend registration and activates the row. The query is validated
// eagerly so unsupported combinations fail here rather than in the worker.
func (m *Manager) CreateSnubaSubscription(ctx context.Context, project *subscription.Project, subType string, q *subscription.SnubaQuery) (*subscription.QuerySubscription, error) {
	if _, err := m.registry.FromSnubaQuery(q, project.OrganizationID); err != nil {
		return nil, skerr.Wrap(err)
	}
	sub := &subscription.QuerySubscription{
		ProjectID:      project.ID,
		OrganizationID: project.OrganizationID,
		Type:           subType,
		SnubaQueryID:   q.ID,
		Status:         types.StatusCreating,
		Version:        1,
		CreatedAt:      now.Now(ctx),
	}
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := m.queue.Enqueue(ctx, &taskqueue.Task{
		Kind:           taskqueue.CreateTask,
		SubscriptionID: sub.ID,
		Version:        sub.Version,
	}); err != nil {
		return nil, skerr.Wrap(err)
	}
	return sub, nil
}

// UpdateSnubaQuery replaces all fields of q with p and re-dispatches every
// dependent subscription so the backend picks up the new definition.
// Subscriptions already being deleted are left alone, as are disabled ones;
// a disabled subscription only re-registers through EnableSnubaSubscription,
// which builds against whatever the query says at that point.
func (m *Manager) UpdateSnubaQuery(ctx context.Context, q *subscription.SnubaQuery, p QueryParams) error {
	oldType, oldDataset, oldAggregate := q.Type, q.Dataset, q.Aggregate

	subs, err := m.store.ListSubscriptionsForQuery(ctx, q.ID)
	if err != nil {
		return skerr.Wrap(err)
	}

	updated := *q
	updated.Type = p.Type
	updated.Dataset = p.Dataset
	updated.Query = p.Query
	updated.Aggregate = p.Aggregate
	updated.TimeWindow = p.TimeWindow
	updated.Resolution = p.Resolution
	updated.Environment = p.Environment
	updated.EventTypes = eventTypesFor(p.Type, p.EventTypes)

	// An unsupported combination fails here, before anything is persisted,
	// rather than wedging every dependent subscription behind a task that
	// fails on each redelivery.
	for _, sub := range subs {
		if sub.Status == types.StatusDeleting || sub.Status == types.StatusDisabled {
			continue
		}
		if _, err := m.registry.FromSnubaQuery(&updated, sub.OrganizationID); err != nil {
			return skerr.Wrap(err)
		}
	}

	*q = updated
	if err := m.store.UpdateSnubaQuery(ctx, q); err != nil {
		return skerr.Wrap(err)
	}

	var errs *multierror.Error
	for _, sub := range subs {
		if sub.Status == types.StatusDeleting || sub.Status == types.StatusDisabled {
			continue
		}
		if err := m.updateSnubaSubscription(ctx, sub, oldType, oldDataset, oldAggregate); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// UpdateSnubaSubscription re-dispatches one subscription after its query
// definition changed out of band. The pre-change type and dataset identify
// the backend entity the old subscription lives under.
func (m *Manager) UpdateSnubaSubscription(ctx context.Context, sub *subscription.QuerySubscription, oldType types.QueryType, oldDataset types.Dataset, oldAggregate string) error {
	return m.updateSnubaSubscription(ctx, sub, oldType, oldDataset, oldAggregate)
}

func (m *Manager) updateSnubaSubscription(ctx context.Context, sub *subscription.QuerySubscription, oldType types.QueryType, oldDataset types.Dataset, oldAggregate string) error {
	sub.Status = types.StatusUpdating
	sub.Version++
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return skerr.Wrap(err)
	}
	return skerr.Wrap(m.queue.Enqueue(ctx, &taskqueue.Task{
		Kind:           taskqueue.UpdateTask,
		SubscriptionID: sub.ID,
		Version:        sub.Version,
		OldType:        oldType,
		OldDataset:     oldDataset,
		OldAggregate:   oldAggregate,
	}))
}

// DeleteSnubaSubscription marks the row DELETING and dispatches the backend
// teardown. The backend identifier stays on the row so a retried task can
// still target it; the row itself is removed by the task.
func (m *Manager) DeleteSnubaSubscription(ctx context.Context, sub *subscription.QuerySubscription) error {
	sub.Status = types.StatusDeleting
	sub.Version++
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return skerr.Wrap(err)
	}
	return skerr.Wrap(m.queue.Enqueue(ctx, &taskqueue.Task{
		Kind:           taskqueue.DeleteTask,
		SubscriptionID: sub.ID,
		Version:        sub.Version,
	}))
}

// BulkDeleteSnubaSubscriptions deletes all the given subscriptions,
// collecting per-subscription failures rather than stopping at the first.
func (m *Manager) BulkDeleteSnubaSubscriptions(ctx context.Context, subs []*subscription.QuerySubscription) error {
	var errs *multierror.Error
	for _, sub := range subs {
		if err := m.DeleteSnubaSubscription(ctx, sub); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// DisableSnubaSubscription tears the backend subscription down but keeps
// the row so it can be re-enabled later.
func (m *Manager) DisableSnubaSubscription(ctx context.Context, sub *subscription.QuerySubscription) error {
	sub.Status = types.StatusDisabled
	sub.Version++
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return skerr.Wrap(err)
	}
	return skerr.Wrap(m.queue.Enqueue(ctx, &taskqueue.Task{
		Kind:           taskqueue.DeleteTask,
		SubscriptionID: sub.ID,
		Version:        sub.Version,
	}))
}

// EnableSnubaSubscription re-registers a disabled subscription with the
// backend, moving the row back through CREATING.
func (m *Manager) EnableSnubaSubscription(ctx context.Context, sub *subscription.QuerySubscription) error {
	sub.Status = types.StatusCreating
	sub.Version++
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return skerr.Wrap(err)
	}
	return skerr.Wrap(m.queue.Enqueue(ctx, &taskqueue.Task{
		Kind:           taskqueue.CreateTask,
		SubscriptionID: sub.ID,
		Version:        sub.Version,
	}))
}
