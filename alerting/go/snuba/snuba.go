// Package snuba models the structured query representation accepted by the
// streaming analytics backend, and the client used to manage standing query
// subscriptions against it.
package snuba

import (
	"encoding/json"
	"time"

	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
)

// Op is a comparison operator in a where clause.
type Op string

const (
	OpEq   Op = "="
	OpNeq  Op = "!="
	OpIn   Op = "IN"
	OpNotIn Op = "NOT IN"
	OpGt   Op = ">"
	OpGte  Op = ">="
	OpLt   Op = "<"
	OpLte  Op = "<="
)

// Column references a backend column by name.
type Column struct {
	Name string `json:"column"`
}

// Function is a backend aggregation or scalar function application. Params
// may hold Columns, nested Functions or literals, including slices of those.
type Function struct {
	Name   string        `json:"function"`
	Params []interface{} `json:"parameters"`
	Alias  string        `json:"alias,omitempty"`
}

// Condition is a single comparison in a where clause. Either side may be a
// Column, a Function or a literal.
type Condition struct {
	LHS interface{} `json:"lhs"`
	Op  Op          `json:"op"`
	RHS interface{} `json:"rhs"`
}

// BooleanCondition is a conjunction of conditions, kept distinct from a bare
// condition list so grouped predicates survive the round trip to the backend.
type BooleanCondition struct {
	Op         string        `json:"boolean_op"`
	Conditions []interface{} `json:"conditions"`
}

// And groups the given conditions into a conjunction.
func And(conditions ...interface{}) BooleanCondition {
	return BooleanCondition{Op: "AND", Conditions: conditions}
}

// Request is a structured query against one backend entity.
type Request struct {
	Entity      types.EntityKey `json:"entity"`
	Select      []Function      `json:"select"`
	Where       []interface{}   `json:"where,omitempty"`
	GroupBy     []Column        `json:"groupby,omitempty"`
	Granularity int64           `json:"granularity,omitempty"`
	Limit       int64           `json:"limit,omitempty"`
}

// Validate checks the request is well formed enough to submit.
func (r *Request) Validate() error {
	if r.Entity == "" {
		return skerr.Fmt("request is missing an entity")
	}
	if len(r.Select) == 0 {
		return skerr.Fmt("request has an empty select list")
	}
	return nil
}

// SubscriptionRequest is a Request plus the standing re-evaluation cadence
// and any entity specific extra parameters.
type SubscriptionRequest struct {
	Request     Request                `json:"query"`
	TimeWindow  time.Duration          `json:"-"`
	Resolution  time.Duration          `json:"-"`
	ExtraParams map[string]interface{} `json:"extra_params,omitempty"`
}

// MarshalJSON flattens the durations to whole seconds, which is what the
// backend expects.
func (s SubscriptionRequest) MarshalJSON() ([]byte, error) {
	type alias SubscriptionRequest
	return json.Marshal(struct {
		alias
		TimeWindowSeconds int64 `json:"time_window"`
		ResolutionSeconds int64 `json:"resolution"`
	}{
		alias:             alias(s),
		TimeWindowSeconds: int64(s.TimeWindow / time.Second),
		ResolutionSeconds: int64(s.Resolution / time.Second),
	})
}
