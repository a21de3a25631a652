package entitysub

import (
	"context"

	"go.argus-mon.org/infra/alerting/go/metricsindex"
	"go.argus-mon.org/infra/alerting/go/search"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

// sessionStatusTag is the tag distinguishing session lifecycle states in the
// release health metrics.
const sessionStatusTag = "session.status"

// releaseHealthBase is shared by the counters and sets strategies: crash
// rate queries on the pre-aggregated release health metrics.
type releaseHealthBase struct {
	aggregate string
	orgID     int64
	indexer   metricsindex.Indexer

	// alias the crash rate expression carries in the select list.
	alias string

	// metricName is the metric resource identifier the strategy reads.
	metricName string
}

// newReleaseHealthMetricsEntitySubscription validates the aggregate is the
// canonical crash rate expression and selects the counters strategy for
// session based rates or the sets strategy for user based rates.
func newReleaseHealthMetricsEntitySubscription(aggregate string, extra *ExtraFields, indexer metricsindex.Indexer) (EntitySubscription, error) {
	parsed, err := ParseAggregate(aggregate)
	if err != nil {
		return nil, skerr.Wrapf(ErrUnsupportedQuerySubscription, "%s", err)
	}
	column, err := parsed.CrashRateColumn()
	if err != nil {
		return nil, skerr.Wrapf(ErrUnsupportedQuerySubscription, "%s queries on dataset %s accept only the crash rate aggregate", types.CrashRateQuery, types.MetricsDataset)
	}
	orgID, err := requireOrgID(extra, types.CrashRateQuery, types.MetricsDataset)
	if err != nil {
		return nil, err
	}
	alias := parsed.AliasOrDerived()
	if column == "sessions" {
		return &MetricsCountersEntitySubscription{releaseHealthBase{
			aggregate:  aggregate,
			orgID:      orgID,
			indexer:    indexer,
			alias:      alias,
			metricName: types.SessionMetric,
		}}, nil
	}
	return &MetricsSetsEntitySubscription{releaseHealthBase{
		aggregate:  aggregate,
		orgID:      orgID,
		indexer:    indexer,
		alias:      alias,
		metricName: types.UserMetric,
	}}, nil
}

// Aggregate implements EntitySubscription.
func (b *releaseHealthBase) Aggregate() string { return b.aggregate }

// Dataset implements EntitySubscription.
func (b *releaseHealthBase) Dataset() types.Dataset { return types.MetricsDataset }

// EntityExtraParams implements EntitySubscription.
func (b *releaseHealthBase) EntityExtraParams() map[string]interface{} {
	return map[string]interface{}{
		"organization": b.orgID,
		"granularity":  int64(releaseHealthGranularity),
	}
}

// resolved holds the interned ids every release health translation needs.
type resolvedSessionTags struct {
	metricID  int64
	statusCol string
	crashedID int64
	initID    int64
}

func (b *releaseHealthBase) resolveSessionTags(ctx context.Context) (*resolvedSessionTags, error) {
	metricID, err := resolveOrImpossible(ctx, b.indexer, types.ReleaseHealthUseCase, b.orgID, b.metricName)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	statusCol, err := resolveTagColumnOrImpossible(ctx, b.indexer, types.ReleaseHealthUseCase, b.orgID, sessionStatusTag)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	crashedID, err := resolveOrImpossible(ctx, b.indexer, types.ReleaseHealthUseCase, b.orgID, "crashed")
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	initID, err := resolveOrImpossible(ctx, b.indexer, types.ReleaseHealthUseCase, b.orgID, "init")
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &resolvedSessionTags{
		metricID:  metricID,
		statusCol: statusCol,
		crashedID: crashedID,
		initID:    initID,
	}, nil
}

// filterConditions maps user filters through the interning service; both the
// tag key and the tag value are stored as ids on the release health
// entities.
func (b *releaseHealthBase) filterConditions(ctx context.Context, extraFilter string, environment *string) ([]interface{}, error) {
	filters, err := search.ParseQuery(extraFilter, map[string]bool{sessionStatusTag: true})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if environment != nil {
		filters = append(filters, search.Filter{Key: "environment", Op: search.OpEqual, Value: *environment})
	}
	conditions := []interface{}{}
	for _, f := range filters {
		col, err := resolveTagColumnOrImpossible(ctx, b.indexer, types.ReleaseHealthUseCase, b.orgID, f.Key)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		valueID, err := resolveOrImpossible(ctx, b.indexer, types.ReleaseHealthUseCase, b.orgID, f.Value)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		op := snuba.OpEq
		if f.Op == search.OpNotEqual {
			op = snuba.OpNeq
		}
		conditions = append(conditions, snuba.Condition{LHS: snuba.Column{Name: col}, Op: op, RHS: valueID})
	}
	return conditions, nil
}

// MetricsCountersEntitySubscription computes session crash rates from the
// release health counter metrics.
type MetricsCountersEntitySubscription struct {
	releaseHealthBase
}

// EntityKey implements EntitySubscription.
func (e *MetricsCountersEntitySubscription) EntityKey() types.EntityKey {
	return types.MetricsCountersEntity
}

// BuildRequest implements EntitySubscription. Sessions are counted by
// summing the init and crashed status buckets separately.
func (e *MetricsCountersEntitySubscription) BuildRequest(ctx context.Context, extraFilter string, projectIDs []int64, environment *string) (*snuba.Request, error) {
	tags, err := e.resolveSessionTags(ctx)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	statusEquals := func(valueID int64) snuba.Function {
		return snuba.Function{
			Name:   "equals",
			Params: []interface{}{snuba.Column{Name: tags.statusCol}, valueID},
		}
	}
	sel := []snuba.Function{
		{Name: "sumIf", Params: []interface{}{snuba.Column{Name: "value"}, statusEquals(tags.initID)}, Alias: "count"},
		{Name: "sumIf", Params: []interface{}{snuba.Column{Name: "value"}, statusEquals(tags.crashedID)}, Alias: "crashed"},
	}
	conditions, err := e.filterConditions(ctx, extraFilter, environment)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	where := []interface{}{projectCondition(projectIDs), orgCondition(e.orgID)}
	where = append(where, snuba.Condition{LHS: snuba.Column{Name: "metric_id"}, Op: snuba.OpEq, RHS: tags.metricID})
	where = append(where, snuba.Condition{LHS: snuba.Column{Name: tags.statusCol}, Op: snuba.OpIn, RHS: []interface{}{tags.crashedID, tags.initID}})
	where = append(where, conditions...)

	return &snuba.Request{
		Entity: e.EntityKey(),
		Select: sel,
		Where:  where,
	}, nil
}

// MetricsSetsEntitySubscription computes user crash rates from the release
// health set metrics.
type MetricsSetsEntitySubscription struct {
	releaseHealthBase
}

// EntityKey implements EntitySubscription.
func (e *MetricsSetsEntitySubscription) EntityKey() types.EntityKey {
	return types.MetricsSetsEntity
}

// BuildRequest implements EntitySubscription. Users are distinct-counted,
// with crashed users narrowed by the crashed session status.
func (e *MetricsSetsEntitySubscription) BuildRequest(ctx context.Context, extraFilter string, projectIDs []int64, environment *string) (*snuba.Request, error) {
	tags, err := e.resolveSessionTags(ctx)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	sel := []snuba.Function{
		{Name: "uniq", Params: []interface{}{snuba.Column{Name: "value"}}, Alias: "count"},
		{
			Name: "uniqIf",
			Params: []interface{}{
				snuba.Column{Name: "value"},
				snuba.Function{Name: "equals", Params: []interface{}{snuba.Column{Name: tags.statusCol}, tags.crashedID}},
			},
			Alias: "crashed",
		},
	}
	conditions, err := e.filterConditions(ctx, extraFilter, environment)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	where := []interface{}{projectCondition(projectIDs), orgCondition(e.orgID)}
	where = append(where, snuba.Condition{LHS: snuba.Column{Name: "metric_id"}, Op: snuba.OpEq, RHS: tags.metricID})
	where = append(where, conditions...)

	return &snuba.Request{
		Entity: e.EntityKey(),
		Select: sel,
		Where:  where,
	}, nil
}

var (
	_ EntitySubscription = (*MetricsCountersEntitySubscription)(nil)
	_ EntitySubscription = (*MetricsSetsEntitySubscription)(nil)
)
