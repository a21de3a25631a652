// Package memsubscriptionstore provides an in-memory implementation of
// subscription.Store for tests and single node setups.
package memsubscriptionstore

import (
	"context"
	"sync"

	"go.argus-mon.org/infra/alerting/go/subscription"
	"go.argus-mon.org/infra/go/skerr"
)

// SubscriptionStore is an in-memory implementation of subscription.Store.
type SubscriptionStore struct {
	mutex         sync.Mutex
	nextID        int64
	queries       map[int64]*subscription.SnubaQuery
	subscriptions map[int64]*subscription.QuerySubscription
}

// New returns an empty *SubscriptionStore.
func New() *SubscriptionStore {
	return &SubscriptionStore{
		queries:       map[int64]*subscription.SnubaQuery{},
		subscriptions: map[int64]*subscription.QuerySubscription{},
	}
}

func copyQuery(q *subscription.SnubaQuery) *subscription.SnubaQuery {
	cpy := *q
	cpy.EventTypes = append(cpy.EventTypes[:0:0], q.EventTypes...)
	if q.Environment != nil {
		env := *q.Environment
		cpy.Environment = &env
	}
	return &cpy
}

func copySubscription(sub *subscription.QuerySubscription) *subscription.QuerySubscription {
	cpy := *sub
	if sub.SubscriptionID != nil {
		id := *sub.SubscriptionID
		cpy.SubscriptionID = &id
	}
	return &cpy
}

// CreateSnubaQuery implements subscription.Store.
func (s *SubscriptionStore) CreateSnubaQuery(ctx context.Context, q *subscription.SnubaQuery) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.nextID++
	q.ID = s.nextID
	s.queries[q.ID] = copyQuery(q)
	return nil
}

// GetSnubaQuery implements subscription.Store.
func (s *SubscriptionStore) GetSnubaQuery(ctx context.Context, id int64) (*subscription.SnubaQuery, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	q, ok := s.queries[id]
	if !ok {
		return nil, skerr.Wrapf(subscription.ErrNotFound, "snuba query %d", id)
	}
	return copyQuery(q), nil
}

// UpdateSnubaQuery implements subscription.Store.
func (s *SubscriptionStore) UpdateSnubaQuery(ctx context.Context, q *subscription.SnubaQuery) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.queries[q.ID]; !ok {
		return skerr.Wrapf(subscription.ErrNotFound, "snuba query %d", q.ID)
	}
	s.queries[q.ID] = copyQuery(q)
	return nil
}

// DeleteSnubaQuery implements subscription.Store.
func (s *SubscriptionStore) DeleteSnubaQuery(ctx context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.queries, id)
	return nil
}

// CreateSubscription implements subscription.Store.
func (s *SubscriptionStore) CreateSubscription(ctx context.Context, sub *subscription.QuerySubscription) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.nextID++
	sub.ID = s.nextID
	s.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

// GetSubscription implements subscription.Store.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, id int64) (*subscription.QuerySubscription, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, skerr.Wrapf(subscription.ErrNotFound, "subscription %d", id)
	}
	return copySubscription(sub), nil
}

// ListSubscriptionsForQuery implements subscription.Store.
func (s *SubscriptionStore) ListSubscriptionsForQuery(ctx context.Context, snubaQueryID int64) ([]*subscription.QuerySubscription, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ret := []*subscription.QuerySubscription{}
	for _, sub := range s.subscriptions {
		if sub.SnubaQueryID == snubaQueryID {
			ret = append(ret, copySubscription(sub))
		}
	}
	return ret, nil
}

// CountSubscriptionsForQuery implements subscription.Store.
func (s *SubscriptionStore) CountSubscriptionsForQuery(ctx context.Context, snubaQueryID int64) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	count := 0
	for _, sub := range s.subscriptions {
		if sub.SnubaQueryID == snubaQueryID {
			count++
		}
	}
	return count, nil
}

// UpdateSubscription implements subscription.Store.
func (s *SubscriptionStore) UpdateSubscription(ctx context.Context, sub *subscription.QuerySubscription) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return skerr.Wrapf(subscription.ErrNotFound, "subscription %d", sub.ID)
	}
	s.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

// DeleteSubscription implements subscription.Store.
func (s *SubscriptionStore) DeleteSubscription(ctx context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.subscriptions, id)
	return nil
}

var _ subscription.Store = (*SubscriptionStore)(nil)
