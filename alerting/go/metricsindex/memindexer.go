package metricsindex

import (
	"context"
	"sync"

	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

// MemIndexer is an in-memory Indexer for tests and single node setups. Ids
// are assigned in record order starting at 1, independently per (use case,
// org) scope.
type MemIndexer struct {
	mutex  sync.Mutex
	scopes map[scopeKey]map[string]int64
}

type scopeKey struct {
	useCase types.UseCase
	orgID   int64
}

// NewMemIndexer returns an empty MemIndexer.
func NewMemIndexer() *MemIndexer {
	return &MemIndexer{
		scopes: map[scopeKey]map[string]int64{},
	}
}

// Resolve implements Indexer.
func (m *MemIndexer) Resolve(ctx context.Context, useCase types.UseCase, orgID int64, s string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if id, ok := m.scopes[scopeKey{useCase, orgID}][s]; ok {
		return id, nil
	}
	return 0, skerr.Wrapf(ErrNotResolved, "%q in org %d", s, orgID)
}

// ResolveTagKey implements Indexer.
func (m *MemIndexer) ResolveTagKey(ctx context.Context, useCase types.UseCase, orgID int64, s string) (string, error) {
	id, err := m.Resolve(ctx, useCase, orgID, s)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return TagColumn(id), nil
}

// Record implements Indexer.
func (m *MemIndexer) Record(ctx context.Context, useCase types.UseCase, orgID int64, s string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	scope := m.scopes[scopeKey{useCase, orgID}]
	if scope == nil {
		scope = map[string]int64{}
		m.scopes[scopeKey{useCase, orgID}] = scope
	}
	if id, ok := scope[s]; ok {
		return id, nil
	}
	id := int64(len(scope) + 1)
	scope[s] = id
	return id, nil
}

var _ Indexer = (*MemIndexer)(nil)
