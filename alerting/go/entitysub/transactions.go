package entitysub

import (
	"context"

	"go.argus-mon.org/infra/alerting/go/search"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

// transactionColumns renames duration-ish aggregate arguments onto the
// physical columns of the transactions entity.
var transactionColumns = map[string]string{
	"transaction.duration": "duration",
}

// PerformanceTransactionsEntitySubscription translates performance queries
// on the raw transactions entity.
type PerformanceTransactionsEntitySubscription struct {
	aggregate string
}

func newPerformanceTransactionsEntitySubscription(aggregate string) *PerformanceTransactionsEntitySubscription {
	return &PerformanceTransactionsEntitySubscription{aggregate: aggregate}
}

// Aggregate implements EntitySubscription.
func (e *PerformanceTransactionsEntitySubscription) Aggregate() string { return e.aggregate }

// Dataset implements EntitySubscription.
func (e *PerformanceTransactionsEntitySubscription) Dataset() types.Dataset {
	return types.TransactionsDataset
}

// EntityKey implements EntitySubscription.
func (e *PerformanceTransactionsEntitySubscription) EntityKey() types.EntityKey {
	return types.TransactionsEntity
}

// EntityExtraParams implements EntitySubscription.
func (e *PerformanceTransactionsEntitySubscription) EntityExtraParams() map[string]interface{} {
	return map[string]interface{}{}
}

// BuildRequest implements EntitySubscription. Unlike error queries there is
// no fixed type predicate; the entity only holds transactions.
func (e *PerformanceTransactionsEntitySubscription) BuildRequest(ctx context.Context, extraFilter string, projectIDs []int64, environment *string) (*snuba.Request, error) {
	agg, err := ParseAggregate(e.aggregate)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	sel, err := resolveEventAggregate(agg, transactionColumns)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	filters, err := search.ParseQuery(extraFilter, nil)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	where := eventFilterConditions(filters)
	where = append(where, projectCondition(projectIDs))
	if environment != nil {
		where = append(where, snuba.Condition{LHS: snuba.Column{Name: "environment"}, Op: snuba.OpEq, RHS: *environment})
	}

	return &snuba.Request{
		Entity: types.TransactionsEntity,
		Select: []snuba.Function{sel},
		Where:  where,
	}, nil
}

var _ EntitySubscription = (*PerformanceTransactionsEntitySubscription)(nil)
