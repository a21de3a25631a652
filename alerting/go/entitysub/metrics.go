package entitysub

import (
	"context"
	"errors"

	"go.argus-mon.org/infra/alerting/go/metricsindex"
	"go.argus-mon.org/infra/alerting/go/search"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

// impossibleID is substituted for any string the interning service has not
// assigned an id to yet. The resulting query is well formed but matches
// nothing, so indexing lag never surfaces as a user facing error.
const impossibleID = int64(-1)

// performanceMetricNames maps user facing field names onto the metric
// resource identifiers stored in the generic metrics entities.
var performanceMetricNames = map[string]string{
	"transaction.duration": "d:transactions/duration@millisecond",
	"user":                 "s:transactions/user@none",
}

// defaultPerformanceMetric backs aggregates that name no field, i.e. count().
const defaultPerformanceMetric = "d:transactions/duration@millisecond"

// resolveOrImpossible resolves s through the indexer, mapping a resolution
// miss to impossibleID instead of an error.
func resolveOrImpossible(ctx context.Context, indexer metricsindex.Indexer, useCase types.UseCase, orgID int64, s string) (int64, error) {
	id, err := indexer.Resolve(ctx, useCase, orgID, s)
	if err != nil {
		if errors.Is(err, metricsindex.ErrNotResolved) {
			return impossibleID, nil
		}
		return 0, skerr.Wrap(err)
	}
	return id, nil
}

// resolveTagColumnOrImpossible is resolveOrImpossible for tag key columns.
func resolveTagColumnOrImpossible(ctx context.Context, indexer metricsindex.Indexer, useCase types.UseCase, orgID int64, s string) (string, error) {
	col, err := indexer.ResolveTagKey(ctx, useCase, orgID, s)
	if err != nil {
		if errors.Is(err, metricsindex.ErrNotResolved) {
			return metricsindex.TagColumn(impossibleID), nil
		}
		return "", skerr.Wrap(err)
	}
	return col, nil
}

// PerformanceMetricsEntitySubscription translates performance queries on the
// pre-aggregated generic metrics entities. Metric names in the aggregate are
// resolved to interned ids scoped to the organization.
type PerformanceMetricsEntitySubscription struct {
	aggregate string
	parsed    *Aggregate
	orgID     int64
	indexer   metricsindex.Indexer
}

func newPerformanceMetricsEntitySubscription(aggregate string, orgID int64, indexer metricsindex.Indexer) (*PerformanceMetricsEntitySubscription, error) {
	parsed, err := ParseAggregate(aggregate)
	if err != nil {
		return nil, skerr.Wrapf(ErrUnsupportedQuerySubscription, "%s", err)
	}
	return &PerformanceMetricsEntitySubscription{
		aggregate: aggregate,
		parsed:    parsed,
		orgID:     orgID,
		indexer:   indexer,
	}, nil
}

// Aggregate implements EntitySubscription.
func (e *PerformanceMetricsEntitySubscription) Aggregate() string { return e.aggregate }

// Dataset implements EntitySubscription. Queries written against the plain
// metrics dataset are normalized to the performance metrics dataset.
func (e *PerformanceMetricsEntitySubscription) Dataset() types.Dataset {
	return types.PerformanceMetricsDataset
}

// EntityKey implements EntitySubscription. Uniqueness style aggregates live
// in the sets entity, everything numeric in distributions.
func (e *PerformanceMetricsEntitySubscription) EntityKey() types.EntityKey {
	if e.parsed.Function == "count_unique" {
		return types.GenericMetricsSetsEntity
	}
	return types.GenericMetricsDistributionsEntity
}

// EntityExtraParams implements EntitySubscription.
func (e *PerformanceMetricsEntitySubscription) EntityExtraParams() map[string]interface{} {
	return map[string]interface{}{
		"organization": e.orgID,
		"granularity":  int64(performanceMetricsGranularity),
	}
}

// metricName returns the metric resource identifier this aggregate reads.
func (e *PerformanceMetricsEntitySubscription) metricName() (string, error) {
	if len(e.parsed.Args) == 0 {
		return defaultPerformanceMetric, nil
	}
	if name, ok := performanceMetricNames[e.parsed.Args[0]]; ok {
		return name, nil
	}
	return "", skerr.Wrapf(ErrUnsupportedQuerySubscription, "no metric for field %q", e.parsed.Args[0])
}

// BuildRequest implements EntitySubscription.
func (e *PerformanceMetricsEntitySubscription) BuildRequest(ctx context.Context, extraFilter string, projectIDs []int64, environment *string) (*snuba.Request, error) {
	name, err := e.metricName()
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	metricID, err := resolveOrImpossible(ctx, e.indexer, types.PerformanceUseCase, e.orgID, name)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	alias := e.parsed.AliasOrDerived()
	metricFilter := snuba.Function{
		Name:   "equals",
		Params: []interface{}{snuba.Column{Name: "metric_id"}, metricID},
	}
	var sel snuba.Function
	switch e.parsed.Function {
	case "count":
		sel = snuba.Function{Name: "countIf", Params: []interface{}{snuba.Column{Name: "value"}, metricFilter}, Alias: alias}
	case "count_unique":
		sel = snuba.Function{Name: "uniqIf", Params: []interface{}{snuba.Column{Name: "value"}, metricFilter}, Alias: alias}
	case "avg", "min", "max", "sum":
		sel = snuba.Function{Name: e.parsed.Function + "If", Params: []interface{}{snuba.Column{Name: "value"}, metricFilter}, Alias: alias}
	case "percentile":
		_, p, err := e.parsed.Percentile()
		if err != nil {
			return nil, skerr.Wrapf(ErrUnsupportedQuerySubscription, "%s", err)
		}
		// quantilesIf returns an array of quantiles; extract the single one.
		sel = snuba.Function{
			Name: "arrayElement",
			Params: []interface{}{
				snuba.Function{
					Name:   "quantilesIf(" + formatPercentile(p) + ")",
					Params: []interface{}{snuba.Column{Name: "value"}, metricFilter},
				},
				int64(1),
			},
			Alias: alias,
		}
	default:
		return nil, skerr.Wrapf(ErrUnsupportedQuerySubscription, "aggregate %q", e.parsed.Function)
	}

	filters, err := search.ParseQuery(extraFilter, map[string]bool{"session.status": true})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	where := []interface{}{projectCondition(projectIDs), orgCondition(e.orgID)}
	where = append(where, snuba.Condition{LHS: snuba.Column{Name: "metric_id"}, Op: snuba.OpIn, RHS: []interface{}{metricID}})
	for _, f := range filters {
		op := snuba.OpEq
		if f.Op == search.OpNotEqual {
			op = snuba.OpNeq
		}
		// Generic metrics store raw tag values, no value indirection needed.
		where = append(where, snuba.Condition{LHS: snuba.Column{Name: "tags[" + f.Key + "]"}, Op: op, RHS: f.Value})
	}
	if environment != nil {
		where = append(where, snuba.Condition{LHS: snuba.Column{Name: "tags[environment]"}, Op: snuba.OpEq, RHS: *environment})
	}

	return &snuba.Request{
		Entity: e.EntityKey(),
		Select: []snuba.Function{sel},
		Where:  where,
	}, nil
}

var _ EntitySubscription = (*PerformanceMetricsEntitySubscription)(nil)
