package snuba

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

// FakeClient is an in-memory Client for tests. It records every request and
// hands out fresh identifiers on create.
type FakeClient struct {
	mutex sync.Mutex

	// Subscriptions maps subscription id to the request that created it.
	Subscriptions map[string]*SubscriptionRequest

	// CreateCount counts CreateSubscription calls, including those made on
	// behalf of UpdateSubscription.
	CreateCount int

	// DeleteCount counts DeleteSubscription calls, likewise.
	DeleteCount int

	// Deletes records every DeleteSubscription call in order, so tests can
	// assert which entity a teardown was issued under.
	Deletes []FakeDelete
}

// FakeDelete is one recorded DeleteSubscription call.
type FakeDelete struct {
	Entity         types.EntityKey
	SubscriptionID string
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Subscriptions: map[string]*SubscriptionRequest{},
	}
}

// CreateSubscription implements Client.
func (f *FakeClient) CreateSubscription(ctx context.Context, req *SubscriptionRequest) (string, error) {
	if err := req.Request.Validate(); err != nil {
		return "", skerr.Wrap(err)
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.CreateCount++
	id := uuid.NewString()
	f.Subscriptions[id] = req
	return id, nil
}

// UpdateSubscription implements Client.
func (f *FakeClient) UpdateSubscription(ctx context.Context, oldEntity types.EntityKey, subscriptionID string, req *SubscriptionRequest) (string, error) {
	if err := f.DeleteSubscription(ctx, oldEntity, subscriptionID); err != nil {
		return "", skerr.Wrap(err)
	}
	return f.CreateSubscription(ctx, req)
}

// DeleteSubscription implements Client. Deleting an unknown id is not an
// error, matching the real backend under task redelivery.
func (f *FakeClient) DeleteSubscription(ctx context.Context, entity types.EntityKey, subscriptionID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.DeleteCount++
	f.Deletes = append(f.Deletes, FakeDelete{Entity: entity, SubscriptionID: subscriptionID})
	delete(f.Subscriptions, subscriptionID)
	return nil
}

var _ Client = (*FakeClient)(nil)
