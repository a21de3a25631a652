// Package subscription holds the persisted representation of a monitoring
// query definition and its standing subscriptions, plus the Store interface
// the lifecycle manager works against.
package subscription

import (
	"context"
	"errors"
	"time"

	"go.argus-mon.org/infra/alerting/go/types"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Project is the owner of a subscription. Only the fields the lifecycle
// manager needs are carried here.
type Project struct {
	ID             int64
	OrganizationID int64
}

// SnubaQuery is a monitoring query definition. One query may be shared by
// several subscriptions.
type SnubaQuery struct {
	ID        int64
	Type      types.QueryType
	Dataset   types.Dataset
	Query     string
	Aggregate string

	// TimeWindow is the range of data each evaluation looks at.
	TimeWindow time.Duration

	// Resolution is how often the backend re-evaluates the query.
	Resolution time.Duration

	// Environment restricts the query to one environment when non-nil.
	Environment *string

	// EventTypes is derived from Type when not explicitly supplied; always
	// empty for crash rate queries.
	EventTypes []types.EventType

	CreatedAt time.Time
}

// QuerySubscription is a live subscription of a SnubaQuery against the
// streaming backend, scoped to one project.
type QuerySubscription struct {
	ID             int64
	ProjectID      int64
	OrganizationID int64

	// Type tags the subscription with the caller defined purpose, e.g.
	// "snuba_query_subscriber".
	Type string

	SnubaQueryID int64
	Status       types.Status

	// SubscriptionID is the opaque identifier assigned by the backend. It is
	// nil until the backend confirms creation and stays populated through
	// UPDATING/DELETING so a retried backend operation can still target it.
	SubscriptionID *string

	// Version is bumped on every lifecycle transition dispatched for this
	// subscription. Async task handlers carry the version they were
	// dispatched with and drop stale work, which keeps a delete dispatched
	// after a create from being overtaken.
	Version int64

	CreatedAt time.Time
}

// Store persists SnubaQuery and QuerySubscription rows.
type Store interface {
	// CreateSnubaQuery inserts q and fills in q.ID.
	CreateSnubaQuery(ctx context.Context, q *SnubaQuery) error

	// GetSnubaQuery returns the query with the given id or ErrNotFound.
	GetSnubaQuery(ctx context.Context, id int64) (*SnubaQuery, error)

	// UpdateSnubaQuery replaces all fields of the stored row with q's.
	UpdateSnubaQuery(ctx context.Context, q *SnubaQuery) error

	// DeleteSnubaQuery removes the query row.
	DeleteSnubaQuery(ctx context.Context, id int64) error

	// CreateSubscription inserts sub and fills in sub.ID.
	CreateSubscription(ctx context.Context, sub *QuerySubscription) error

	// GetSubscription returns the subscription with the given id or
	// ErrNotFound.
	GetSubscription(ctx context.Context, id int64) (*QuerySubscription, error)

	// ListSubscriptionsForQuery returns all subscriptions pointing at the
	// given query.
	ListSubscriptionsForQuery(ctx context.Context, snubaQueryID int64) ([]*QuerySubscription, error)

	// CountSubscriptionsForQuery returns how many subscriptions reference
	// the given query, used to decide whether a shared query row can go.
	CountSubscriptionsForQuery(ctx context.Context, snubaQueryID int64) (int, error)

	// UpdateSubscription replaces all fields of the stored row with sub's.
	UpdateSubscription(ctx context.Context, sub *QuerySubscription) error

	// DeleteSubscription removes the subscription row.
	DeleteSubscription(ctx context.Context, id int64) error
}
