package subscriptions

import (
	"context"
	"errors"

	"go.argus-mon.org/infra/alerting/go/entitysub"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/subscription"
	"go.argus-mon.org/infra/alerting/go/taskqueue"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
	"go.argus-mon.org/infra/go/sklog"
)

// HandleTask is the worker entry point. Delivery is at least once, so every
// handler is idempotent: a replayed or stale task is dropped rather than
// re-applied.
func (m *Manager) HandleTask(ctx context.Context, task *taskqueue.Task) error {
	switch task.Kind {
	case taskqueue.CreateTask:
		return m.handleCreate(ctx, task)
	case taskqueue.UpdateTask:
		return m.handleUpdate(ctx, task)
	case taskqueue.DeleteTask:
		return m.handleDelete(ctx, task)
	}
	return skerr.Fmt("unknown task kind %q", task.Kind)
}

// loadCurrent fetches the subscription the task targets, returning nil when
// the task should be dropped: the row is gone or has moved on to a newer
// version than the one the task was dispatched with.
func (m *Manager) loadCurrent(ctx context.Context, task *taskqueue.Task) (*subscription.QuerySubscription, error) {
	sub, err := m.store.GetSubscription(ctx, task.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			sklog.Infof("Dropping %s task for missing subscription %d", task.Kind, task.SubscriptionID)
			return nil, nil
		}
		return nil, skerr.Wrap(err)
	}
	if sub.Version != task.Version {
		sklog.Infof("Dropping stale %s task for subscription %d: task version %d, row version %d", task.Kind, task.SubscriptionID, task.Version, sub.Version)
		return nil, nil
	}
	return sub, nil
}

// buildRequest translates the stored query into the backend subscription
// request for the given row.
func (m *Manager) buildRequest(ctx context.Context, q *subscription.SnubaQuery, sub *subscription.QuerySubscription) (*snuba.SubscriptionRequest, entitysub.EntitySubscription, error) {
	es, err := m.registry.FromSnubaQuery(q, sub.OrganizationID)
	if err != nil {
		return nil, nil, skerr.Wrap(err)
	}
	req, err := es.BuildRequest(ctx, q.Query, []int64{sub.ProjectID}, q.Environment)
	if err != nil {
		return nil, nil, skerr.Wrap(err)
	}
	return &snuba.SubscriptionRequest{
		Request:     *req,
		TimeWindow:  q.TimeWindow,
		Resolution:  q.Resolution,
		ExtraParams: es.EntityExtraParams(),
	}, es, nil
}

func (m *Manager) handleCreate(ctx context.Context, task *taskqueue.Task) error {
	sub, err := m.loadCurrent(ctx, task)
	if err != nil || sub == nil {
		return err
	}
	if sub.Status != types.StatusCreating {
		sklog.Infof("Dropping create task for subscription %d in state %s", sub.ID, sub.Status)
		return nil
	}
	q, err := m.store.GetSnubaQuery(ctx, sub.SnubaQueryID)
	if err != nil {
		return skerr.Wrap(err)
	}
	req, es, err := m.buildRequest(ctx, q, sub)
	if err != nil {
		return skerr.Wrap(err)
	}
	// A replayed create may have registered the subscription already; tear
	// the orphan down before creating a fresh one.
	if sub.SubscriptionID != nil {
		if err := m.client.DeleteSubscription(ctx, es.EntityKey(), *sub.SubscriptionID); err != nil {
			return skerr.Wrap(err)
		}
	}
	id, err := m.client.CreateSubscription(ctx, req)
	if err != nil {
		return skerr.Wrap(err)
	}
	sub.SubscriptionID = &id
	sub.Status = types.StatusActive
	return skerr.Wrap(m.store.UpdateSubscription(ctx, sub))
}

func (m *Manager) handleUpdate(ctx context.Context, task *taskqueue.Task) error {
	sub, err := m.loadCurrent(ctx, task)
	if err != nil || sub == nil {
		return err
	}
	if sub.Status != types.StatusUpdating {
		sklog.Infof("Dropping update task for subscription %d in state %s", sub.ID, sub.Status)
		return nil
	}
	q, err := m.store.GetSnubaQuery(ctx, sub.SnubaQueryID)
	if err != nil {
		return skerr.Wrap(err)
	}
	req, _, err := m.buildRequest(ctx, q, sub)
	if err != nil {
		return skerr.Wrap(err)
	}

	var newID string
	if sub.SubscriptionID != nil {
		oldEntity, err := m.oldEntityKey(q, sub, task)
		if err != nil {
			return skerr.Wrap(err)
		}
		newID, err = m.client.UpdateSubscription(ctx, oldEntity, *sub.SubscriptionID, req)
		if err != nil {
			return skerr.Wrap(err)
		}
	} else {
		// The row never made it to the backend, e.g. an update raced the
		// create task; a plain create brings it in line.
		newID, err = m.client.CreateSubscription(ctx, req)
		if err != nil {
			return skerr.Wrap(err)
		}
	}
	sub.SubscriptionID = &newID
	sub.Status = types.StatusActive
	return skerr.Wrap(m.store.UpdateSubscription(ctx, sub))
}

// oldEntityKey resolves the backend entity the existing subscription was
// created under, using the pre-update query coordinates the task carries.
func (m *Manager) oldEntityKey(q *subscription.SnubaQuery, sub *subscription.QuerySubscription, task *taskqueue.Task) (types.EntityKey, error) {
	old := *q
	if task.OldType != "" {
		old.Type = task.OldType
	}
	if task.OldDataset != "" {
		old.Dataset = task.OldDataset
	}
	if task.OldAggregate != "" {
		old.Aggregate = task.OldAggregate
	}
	key, err := m.registry.EntityKeyForSnubaQuery(&old, sub.OrganizationID, sub.ProjectID)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return key, nil
}

func (m *Manager) handleDelete(ctx context.Context, task *taskqueue.Task) error {
	sub, err := m.loadCurrent(ctx, task)
	if err != nil || sub == nil {
		return err
	}
	if sub.Status != types.StatusDeleting && sub.Status != types.StatusDisabled {
		sklog.Infof("Dropping delete task for subscription %d in state %s", sub.ID, sub.Status)
		return nil
	}
	q, err := m.store.GetSnubaQuery(ctx, sub.SnubaQueryID)
	if err != nil {
		return skerr.Wrap(err)
	}
	if sub.SubscriptionID != nil {
		key, err := m.registry.EntityKeyForSnubaQuery(q, sub.OrganizationID, sub.ProjectID)
		if err != nil {
			return skerr.Wrap(err)
		}
		if err := m.client.DeleteSubscription(ctx, key, *sub.SubscriptionID); err != nil {
			return skerr.Wrap(err)
		}
	}
	if sub.Status == types.StatusDisabled {
		// Disabled rows survive, shedding only their backend identifier.
		sub.SubscriptionID = nil
		return skerr.Wrap(m.store.UpdateSubscription(ctx, sub))
	}
	if err := m.store.DeleteSubscription(ctx, sub.ID); err != nil {
		return skerr.Wrap(err)
	}
	// Query definitions are shared; the last subscription out turns off the
	// lights.
	remaining, err := m.store.CountSubscriptionsForQuery(ctx, q.ID)
	if err != nil {
		return skerr.Wrap(err)
	}
	if remaining == 0 {
		return skerr.Wrap(m.store.DeleteSnubaQuery(ctx, q.ID))
	}
	return nil
}
