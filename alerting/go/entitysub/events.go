package entitysub

import (
	"context"

	"go.argus-mon.org/infra/alerting/go/search"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

// sentinelTags are fields stored in the reserved internal tag namespace on
// the events and transactions entities.
var sentinelTags = map[string]string{
	"user":    "tags[argus:user]",
	"release": "tags[argus:release]",
	"dist":    "tags[argus:dist]",
}

// directEventColumns are filter keys that map straight onto entity columns.
var directEventColumns = map[string]bool{
	"level":       true,
	"message":     true,
	"logger":      true,
	"platform":    true,
	"environment": true,
	"transaction": true,
}

// eventColumn maps a user facing field name onto the entity column holding
// it. Unknown fields are free-form tags.
func eventColumn(key string) string {
	if col, ok := sentinelTags[key]; ok {
		return col
	}
	if directEventColumns[key] {
		return key
	}
	return "tags[" + key + "]"
}

// eventFilterConditions turns parsed filters into backend conditions for the
// events and transactions entities. Tag lookups are wrapped in ifNull since
// absent tags read as NULL.
func eventFilterConditions(filters []search.Filter) []interface{} {
	conditions := make([]interface{}, 0, len(filters))
	for _, f := range filters {
		op := snuba.OpEq
		if f.Op == search.OpNotEqual {
			op = snuba.OpNeq
		}
		col := eventColumn(f.Key)
		if directEventColumns[f.Key] {
			conditions = append(conditions, snuba.Condition{LHS: snuba.Column{Name: col}, Op: op, RHS: f.Value})
			continue
		}
		lhs := snuba.Function{Name: "ifNull", Params: []interface{}{snuba.Column{Name: col}, ""}}
		if f.Key == "release" && f.Value == "latest" {
			// "latest" is resolved by the caller's release registry, which
			// this engine does not see; an empty IN keeps the query well
			// formed and matching nothing until releases exist.
			conditions = append(conditions, snuba.Condition{LHS: lhs, Op: snuba.OpIn, RHS: []interface{}{}})
			continue
		}
		conditions = append(conditions, snuba.Condition{LHS: lhs, Op: op, RHS: f.Value})
	}
	return conditions
}

// resolveEventAggregate translates a parsed aggregate for the events and
// transactions entities. durationColumn is what duration-ish fields resolve
// to, e.g. transaction.duration on the transactions entity.
func resolveEventAggregate(agg *Aggregate, durationColumn map[string]string) (snuba.Function, error) {
	alias := agg.AliasOrDerived()
	column := func(name string) snuba.Column {
		if col, ok := durationColumn[name]; ok {
			return snuba.Column{Name: col}
		}
		return snuba.Column{Name: eventColumn(name)}
	}
	switch agg.Function {
	case "count":
		return snuba.Function{Name: "count", Alias: alias}, nil
	case "count_unique":
		if len(agg.Args) != 1 {
			return snuba.Function{}, skerr.Wrapf(ErrUnsupportedQuerySubscription, "count_unique takes one argument")
		}
		return snuba.Function{Name: "uniq", Params: []interface{}{column(agg.Args[0])}, Alias: alias}, nil
	case "avg", "min", "max", "sum":
		if len(agg.Args) != 1 {
			return snuba.Function{}, skerr.Wrapf(ErrUnsupportedQuerySubscription, "%s takes one argument", agg.Function)
		}
		return snuba.Function{Name: agg.Function, Params: []interface{}{column(agg.Args[0])}, Alias: alias}, nil
	case "percentile":
		col, p, err := agg.Percentile()
		if err != nil {
			return snuba.Function{}, skerr.Wrapf(ErrUnsupportedQuerySubscription, "%s", err)
		}
		return snuba.Function{
			Name:   "quantile(" + formatPercentile(p) + ")",
			Params: []interface{}{column(col)},
			Alias:  alias,
		}, nil
	}
	return snuba.Function{}, skerr.Wrapf(ErrUnsupportedQuerySubscription, "aggregate %q", agg.Function)
}

// EventsEntitySubscription translates error queries on the events entity.
type EventsEntitySubscription struct {
	aggregate string
}

func newEventsEntitySubscription(aggregate string) *EventsEntitySubscription {
	return &EventsEntitySubscription{aggregate: aggregate}
}

// Aggregate implements EntitySubscription.
func (e *EventsEntitySubscription) Aggregate() string { return e.aggregate }

// Dataset implements EntitySubscription.
func (e *EventsEntitySubscription) Dataset() types.Dataset { return types.EventsDataset }

// EntityKey implements EntitySubscription.
func (e *EventsEntitySubscription) EntityKey() types.EntityKey { return types.EventsEntity }

// EntityExtraParams implements EntitySubscription.
func (e *EventsEntitySubscription) EntityExtraParams() map[string]interface{} {
	return map[string]interface{}{}
}

// BuildRequest implements EntitySubscription. Error queries always carry a
// fixed `type = error` predicate in addition to the user filter.
func (e *EventsEntitySubscription) BuildRequest(ctx context.Context, extraFilter string, projectIDs []int64, environment *string) (*snuba.Request, error) {
	agg, err := ParseAggregate(e.aggregate)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	sel, err := resolveEventAggregate(agg, nil)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	filters, err := search.ParseQuery(extraFilter, map[string]bool{"type": true})
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	typeCondition := snuba.Condition{LHS: snuba.Column{Name: "type"}, Op: snuba.OpEq, RHS: "error"}
	where := []interface{}{}
	if conditions := eventFilterConditions(filters); len(conditions) > 0 {
		where = append(where, snuba.And(append([]interface{}{typeCondition}, conditions...)...))
	} else {
		where = append(where, typeCondition)
	}
	where = append(where, projectCondition(projectIDs))
	if environment != nil {
		where = append(where, snuba.Condition{LHS: snuba.Column{Name: "environment"}, Op: snuba.OpEq, RHS: *environment})
	}

	return &snuba.Request{
		Entity: types.EventsEntity,
		Select: []snuba.Function{sel},
		Where:  where,
	}, nil
}

var _ EntitySubscription = (*EventsEntitySubscription)(nil)
