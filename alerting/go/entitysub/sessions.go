package entitysub

import (
	"context"

	"go.argus-mon.org/infra/alerting/go/search"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

// SessionsEntitySubscription translates crash rate queries on the raw
// sessions entity. Only the canonical crash rate aggregate is accepted.
type SessionsEntitySubscription struct {
	aggregate string
	orgID     int64

	// column is the denominator, "sessions" or "users"; the crashed
	// numerator column is column + "_crashed".
	column string

	alias string
}

func newSessionsEntitySubscription(aggregate string, extra *ExtraFields) (*SessionsEntitySubscription, error) {
	parsed, err := ParseAggregate(aggregate)
	if err != nil {
		return nil, skerr.Wrapf(ErrUnsupportedQuerySubscription, "%s", err)
	}
	column, err := parsed.CrashRateColumn()
	if err != nil {
		return nil, skerr.Wrapf(ErrUnsupportedQuerySubscription, "%s queries on dataset %s accept only the crash rate aggregate", types.CrashRateQuery, types.SessionsDataset)
	}
	orgID, err := requireOrgID(extra, types.CrashRateQuery, types.SessionsDataset)
	if err != nil {
		return nil, err
	}
	return &SessionsEntitySubscription{
		aggregate: aggregate,
		orgID:     orgID,
		column:    column,
		alias:     parsed.AliasOrDerived(),
	}, nil
}

// Aggregate implements EntitySubscription.
func (e *SessionsEntitySubscription) Aggregate() string { return e.aggregate }

// Dataset implements EntitySubscription.
func (e *SessionsEntitySubscription) Dataset() types.Dataset { return types.SessionsDataset }

// EntityKey implements EntitySubscription.
func (e *SessionsEntitySubscription) EntityKey() types.EntityKey { return types.SessionsEntity }

// EntityExtraParams implements EntitySubscription.
func (e *SessionsEntitySubscription) EntityExtraParams() map[string]interface{} {
	return map[string]interface{}{
		"organization": e.orgID,
	}
}

// BuildRequest implements EntitySubscription. The crash rate is a guarded
// divide so an interval with no sessions evaluates to null rather than a
// division by zero.
func (e *SessionsEntitySubscription) BuildRequest(ctx context.Context, extraFilter string, projectIDs []int64, environment *string) (*snuba.Request, error) {
	total := snuba.Column{Name: e.column}
	crashed := snuba.Column{Name: e.column + "_crashed"}
	sel := []snuba.Function{
		{Name: "identity", Params: []interface{}{total}, Alias: TotalCountAlias},
		{
			Name: "if",
			Params: []interface{}{
				snuba.Function{Name: "greater", Params: []interface{}{total, int64(0)}},
				snuba.Function{Name: "divide", Params: []interface{}{crashed, total}},
				nil,
			},
			Alias: e.alias,
		},
	}

	filters, err := search.ParseQuery(extraFilter, map[string]bool{"session.status": true})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	where := []interface{}{}
	for _, f := range filters {
		op := snuba.OpEq
		if f.Op == search.OpNotEqual {
			op = snuba.OpNeq
		}
		where = append(where, snuba.Condition{LHS: snuba.Column{Name: f.Key}, Op: op, RHS: f.Value})
	}
	where = append(where, projectCondition(projectIDs), orgCondition(e.orgID))
	if environment != nil {
		where = append(where, snuba.Condition{LHS: snuba.Column{Name: "environment"}, Op: snuba.OpEq, RHS: *environment})
	}

	return &snuba.Request{
		Entity: types.SessionsEntity,
		Select: sel,
		Where:  where,
	}, nil
}

var _ EntitySubscription = (*SessionsEntitySubscription)(nil)
