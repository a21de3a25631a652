// Package sqlsubscriptionstore implements subscription.Store using an SQL
// database.
package sqlsubscriptionstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"

	"go.argus-mon.org/infra/alerting/go/subscription"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
	"go.argus-mon.org/infra/go/sqlpool"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	insertQuery statement = iota
	getQuery
	updateQuery
	deleteQuery
	getEventTypes
	deleteEventTypes
	insertEventType
	insertSubscription
	getSubscription
	listSubscriptionsForQuery
	countSubscriptionsForQuery
	updateSubscription
	deleteSubscription
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	insertQuery: `
		INSERT INTO
			SnubaQueries (type, dataset, query, aggregate, time_window_seconds, resolution_seconds, environment, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
		`,
	getQuery: `
		SELECT
			id, type, dataset, query, aggregate, time_window_seconds, resolution_seconds, environment, created_at
		FROM
			SnubaQueries
		WHERE
			id=$1
		`,
	updateQuery: `
		UPDATE
			SnubaQueries
		SET
			type=$2, dataset=$3, query=$4, aggregate=$5, time_window_seconds=$6, resolution_seconds=$7, environment=$8
		WHERE
			id=$1
		`,
	deleteQuery: `
		DELETE FROM SnubaQueries WHERE id=$1
		`,
	getEventTypes: `
		SELECT event_type FROM SnubaQueryEventTypes WHERE snuba_query_id=$1
		`,
	deleteEventTypes: `
		DELETE FROM SnubaQueryEventTypes WHERE snuba_query_id=$1
		`,
	insertEventType: `
		INSERT INTO
			SnubaQueryEventTypes (snuba_query_id, event_type)
		VALUES
			($1, $2)
		ON CONFLICT DO NOTHING
		`,
	insertSubscription: `
		INSERT INTO
			QuerySubscriptions (project_id, org_id, type, snuba_query_id, status, subscription_id, version, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
		`,
	getSubscription: `
		SELECT
			id, project_id, org_id, type, snuba_query_id, status, subscription_id, version, created_at
		FROM
			QuerySubscriptions
		WHERE
			id=$1
		`,
	listSubscriptionsForQuery: `
		SELECT
			id, project_id, org_id, type, snuba_query_id, status, subscription_id, version, created_at
		FROM
			QuerySubscriptions
		WHERE
			snuba_query_id=$1
		`,
	countSubscriptionsForQuery: `
		SELECT COUNT(*) FROM QuerySubscriptions WHERE snuba_query_id=$1
		`,
	updateSubscription: `
		UPDATE
			QuerySubscriptions
		SET
			project_id=$2, org_id=$3, type=$4, snuba_query_id=$5, status=$6, subscription_id=$7, version=$8
		WHERE
			id=$1
		`,
	deleteSubscription: `
		DELETE FROM QuerySubscriptions WHERE id=$1
		`,
}

// SubscriptionStore implements the subscription.Store interface using an SQL
// database.
type SubscriptionStore struct {
	db sqlpool.Pool
}

// New returns a new *SubscriptionStore.
func New(db sqlpool.Pool) (*SubscriptionStore, error) {
	return &SubscriptionStore{
		db: db,
	}, nil
}

// CreateSnubaQuery implements the subscription.Store interface.
func (s *SubscriptionStore) CreateSnubaQuery(ctx context.Context, q *subscription.SnubaQuery) error {
	if err := s.db.QueryRow(ctx, statements[insertQuery],
		string(q.Type),
		string(q.Dataset),
		q.Query,
		q.Aggregate,
		int64(q.TimeWindow/time.Second),
		int64(q.Resolution/time.Second),
		q.Environment,
		q.CreatedAt,
	).Scan(&q.ID); err != nil {
		return skerr.Wrapf(err, "Failed to insert snuba query.")
	}
	return s.replaceEventTypes(ctx, q.ID, q.EventTypes)
}

// GetSnubaQuery implements the subscription.Store interface.
func (s *SubscriptionStore) GetSnubaQuery(ctx context.Context, id int64) (*subscription.SnubaQuery, error) {
	q := &subscription.SnubaQuery{}
	var timeWindow, resolution int64
	if err := s.db.QueryRow(ctx, statements[getQuery], id).Scan(
		&q.ID,
		&q.Type,
		&q.Dataset,
		&q.Query,
		&q.Aggregate,
		&timeWindow,
		&resolution,
		&q.Environment,
		&q.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, skerr.Wrapf(subscription.ErrNotFound, "snuba query %d", id)
		}
		return nil, skerr.Wrapf(err, "Failed to load snuba query.")
	}
	q.TimeWindow = time.Duration(timeWindow) * time.Second
	q.Resolution = time.Duration(resolution) * time.Second

	rows, err := s.db.Query(ctx, statements[getEventTypes], id)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to load event types.")
	}
	defer rows.Close()
	for rows.Next() {
		var et string
		if err := rows.Scan(&et); err != nil {
			return nil, skerr.Wrapf(err, "Failed to parse event type.")
		}
		q.EventTypes = append(q.EventTypes, types.EventType(et))
	}
	return q, nil
}

// UpdateSnubaQuery implements the subscription.Store interface.
func (s *SubscriptionStore) UpdateSnubaQuery(ctx context.Context, q *subscription.SnubaQuery) error {
	if _, err := s.db.Exec(ctx, statements[updateQuery],
		q.ID,
		string(q.Type),
		string(q.Dataset),
		q.Query,
		q.Aggregate,
		int64(q.TimeWindow/time.Second),
		int64(q.Resolution/time.Second),
		q.Environment,
	); err != nil {
		return skerr.Wrapf(err, "Failed to update snuba query.")
	}
	return s.replaceEventTypes(ctx, q.ID, q.EventTypes)
}

// replaceEventTypes rewrites the event type rows for the given query.
func (s *SubscriptionStore) replaceEventTypes(ctx context.Context, queryID int64, eventTypes []types.EventType) error {
	if _, err := s.db.Exec(ctx, statements[deleteEventTypes], queryID); err != nil {
		return skerr.Wrap(err)
	}
	for _, et := range eventTypes {
		if _, err := s.db.Exec(ctx, statements[insertEventType], queryID, string(et)); err != nil {
			return skerr.Wrap(err)
		}
	}
	return nil
}

// DeleteSnubaQuery implements the subscription.Store interface.
func (s *SubscriptionStore) DeleteSnubaQuery(ctx context.Context, id int64) error {
	if _, err := s.db.Exec(ctx, statements[deleteEventTypes], id); err != nil {
		return skerr.Wrap(err)
	}
	if _, err := s.db.Exec(ctx, statements[deleteQuery], id); err != nil {
		return skerr.Wrapf(err, "Failed to delete snuba query.")
	}
	return nil
}

// CreateSubscription implements the subscription.Store interface.
func (s *SubscriptionStore) CreateSubscription(ctx context.Context, sub *subscription.QuerySubscription) error {
	if err := s.db.QueryRow(ctx, statements[insertSubscription],
		sub.ProjectID,
		sub.OrganizationID,
		sub.Type,
		sub.SnubaQueryID,
		int(sub.Status),
		sub.SubscriptionID,
		sub.Version,
		sub.CreatedAt,
	).Scan(&sub.ID); err != nil {
		return skerr.Wrapf(err, "Failed to insert subscription.")
	}
	return nil
}

func scanSubscription(row pgx.Row) (*subscription.QuerySubscription, error) {
	sub := &subscription.QuerySubscription{}
	var status int
	if err := row.Scan(
		&sub.ID,
		&sub.ProjectID,
		&sub.OrganizationID,
		&sub.Type,
		&sub.SnubaQueryID,
		&status,
		&sub.SubscriptionID,
		&sub.Version,
		&sub.CreatedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = types.Status(status)
	return sub, nil
}

// GetSubscription implements the subscription.Store interface.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, id int64) (*subscription.QuerySubscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx, statements[getSubscription], id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, skerr.Wrapf(subscription.ErrNotFound, "subscription %d", id)
		}
		return nil, skerr.Wrapf(err, "Failed to load subscription.")
	}
	return sub, nil
}

// ListSubscriptionsForQuery implements the subscription.Store interface.
func (s *SubscriptionStore) ListSubscriptionsForQuery(ctx context.Context, snubaQueryID int64) ([]*subscription.QuerySubscription, error) {
	rows, err := s.db.Query(ctx, statements[listSubscriptionsForQuery], snubaQueryID)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to load subscriptions.")
	}
	defer rows.Close()
	subscriptions := []*subscription.QuerySubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, skerr.Wrapf(err, "Failed to parse subscription.")
		}
		subscriptions = append(subscriptions, sub)
	}
	return subscriptions, nil
}

// CountSubscriptionsForQuery implements the subscription.Store interface.
func (s *SubscriptionStore) CountSubscriptionsForQuery(ctx context.Context, snubaQueryID int64) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, statements[countSubscriptionsForQuery], snubaQueryID).Scan(&count); err != nil {
		return 0, skerr.Wrapf(err, "Failed to count subscriptions.")
	}
	return count, nil
}

// UpdateSubscription implements the subscription.Store interface.
func (s *SubscriptionStore) UpdateSubscription(ctx context.Context, sub *subscription.QuerySubscription) error {
	if _, err := s.db.Exec(ctx, statements[updateSubscription],
		sub.ID,
		sub.ProjectID,
		sub.OrganizationID,
		sub.Type,
		sub.SnubaQueryID,
		int(sub.Status),
		sub.SubscriptionID,
		sub.Version,
	); err != nil {
		return skerr.Wrapf(err, "Failed to update subscription.")
	}
	return nil
}

// DeleteSubscription implements the subscription.Store interface.
func (s *SubscriptionStore) DeleteSubscription(ctx context.Context, id int64) error {
	if _, err := s.db.Exec(ctx, statements[deleteSubscription], id); err != nil {
		return skerr.Wrapf(err, "Failed to delete subscription.")
	}
	return nil
}

var _ subscription.Store = (*SubscriptionStore)(nil)
