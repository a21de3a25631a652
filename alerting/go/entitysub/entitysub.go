// Package entitysub maps (query type, dataset) pairs onto concrete entity
// subscription strategies and translates user aggregate expressions plus
// free-text filters into the structured query representation the streaming
// backend accepts.
package entitysub

import (
	"context"
	"errors"
	"time"

	"go.argus-mon.org/infra/alerting/go/metricsindex"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/subscription"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

var (
	// ErrUnsupportedQuerySubscription is returned when the (query type,
	// dataset, aggregate) combination has no translation strategy.
	ErrUnsupportedQuerySubscription = errors.New("unsupported query subscription")

	// ErrInvalidQuerySubscription is returned when required context, e.g.
	// the organization id, is missing for a strategy that needs it.
	ErrInvalidQuerySubscription = errors.New("invalid query subscription")
)

const (
	// CrashRateAlias is the canonical alias of the crash rate aggregate.
	CrashRateAlias = "_crash_rate_alert_aggregate"

	// TotalCountAlias is the alias of the session count column emitted next
	// to the crash rate aggregate.
	TotalCountAlias = "_total_count"
)

// Granularities submitted as entity extra params, in seconds.
const (
	performanceMetricsGranularity = 60
	releaseHealthGranularity      = 10
)

// ExtraFields carries optional per-strategy construction context.
type ExtraFields struct {
	// OrgID scopes string interning lookups. Required by all metrics and
	// sessions strategies.
	OrgID int64
}

// EntitySubscription translates one monitoring query for one backend entity.
// Instances are cheap, carry no identity and are recreated per translation.
type EntitySubscription interface {
	// Aggregate returns the raw user aggregate expression.
	Aggregate() string

	// Dataset returns the logical dataset this subscription queries.
	Dataset() types.Dataset

	// EntityKey returns the physical backend entity the query targets.
	EntityKey() types.EntityKey

	// BuildRequest translates the given free-text filter, project scope and
	// optional environment into a backend query request.
	BuildRequest(ctx context.Context, extraFilter string, projectIDs []int64, environment *string) (*snuba.Request, error)

	// EntityExtraParams returns parameters the lifecycle manager attaches to
	// the subscription request, e.g. granularity and organization id.
	EntityExtraParams() map[string]interface{}
}

// Registry selects the entity subscription strategy for a (query type,
// dataset) pair. The indexer is the injected string interning handle used by
// the metrics strategies.
type Registry struct {
	indexer metricsindex.Indexer
}

// NewRegistry returns a Registry resolving metric names through indexer.
func NewRegistry(indexer metricsindex.Indexer) *Registry {
	return &Registry{indexer: indexer}
}

// Get returns the strategy for the given combination, failing with
// ErrUnsupportedQuerySubscription for combinations outside the dispatch
// table and ErrInvalidQuerySubscription when required extra fields are
// missing. The time window is part of the subscription contract even though
// none of the current strategies vary their translation by it.
func (r *Registry) Get(queryType types.QueryType, dataset types.Dataset, aggregate string, timeWindow time.Duration, extra *ExtraFields) (EntitySubscription, error) {
	switch queryType {
	case types.ErrorQuery:
		if dataset == types.EventsDataset {
			return newEventsEntitySubscription(aggregate), nil
		}
	case types.PerformanceQuery:
		switch dataset {
		case types.TransactionsDataset:
			return newPerformanceTransactionsEntitySubscription(aggregate), nil
		case types.MetricsDataset, types.PerformanceMetricsDataset:
			orgID, err := requireOrgID(extra, queryType, dataset)
			if err != nil {
				return nil, err
			}
			return newPerformanceMetricsEntitySubscription(aggregate, orgID, r.indexer)
		}
	case types.CrashRateQuery:
		switch dataset {
		case types.SessionsDataset:
			return newSessionsEntitySubscription(aggregate, extra)
		case types.MetricsDataset:
			return newReleaseHealthMetricsEntitySubscription(aggregate, extra, r.indexer)
		}
	}
	return nil, skerr.Wrapf(ErrUnsupportedQuerySubscription, "no strategy for %s queries on dataset %s", queryType, dataset)
}

// FromSnubaQuery is a convenience wrapper extracting the Get parameters from
// a stored query.
func (r *Registry) FromSnubaQuery(q *subscription.SnubaQuery, orgID int64) (EntitySubscription, error) {
	return r.Get(q.Type, q.Dataset, q.Aggregate, q.TimeWindow, &ExtraFields{OrgID: orgID})
}

// EntityKeyForSnubaQuery returns the physical backend entity the stored
// query ultimately targets. Metrics datasets resolve to different entities
// depending on the aggregate shape.
func (r *Registry) EntityKeyForSnubaQuery(q *subscription.SnubaQuery, orgID int64, projectID int64) (types.EntityKey, error) {
	sub, err := r.FromSnubaQuery(q, orgID)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return sub.EntityKey(), nil
}

func requireOrgID(extra *ExtraFields, queryType types.QueryType, dataset types.Dataset) (int64, error) {
	if extra == nil || extra.OrgID == 0 {
		return 0, skerr.Wrapf(ErrInvalidQuerySubscription, "org_id is required for %s queries on dataset %s", queryType, dataset)
	}
	return extra.OrgID, nil
}

// projectCondition scopes a query to the given projects.
func projectCondition(projectIDs []int64) snuba.Condition {
	ids := make([]interface{}, 0, len(projectIDs))
	for _, id := range projectIDs {
		ids = append(ids, id)
	}
	return snuba.Condition{LHS: snuba.Column{Name: "project_id"}, Op: snuba.OpIn, RHS: ids}
}

// orgCondition scopes a query to one organization.
func orgCondition(orgID int64) snuba.Condition {
	return snuba.Condition{LHS: snuba.Column{Name: "org_id"}, Op: snuba.OpEq, RHS: orgID}
}
